package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the sync daemon",
		Long: `Watch both providers' session stores and sync changed sessions
automatically, with a scheduled full sync as a safety net. Runs until
interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Addr = metricsAddr
			}
			app, err := tandem.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			daemon, err := app.NewWatchDaemon()
			if err != nil {
				return err
			}
			app.StartMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return daemon.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics and health endpoints on this address")

	return cmd
}
