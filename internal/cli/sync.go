package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/pkg/sync"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Tag  string
	From string
	All  bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Propagate new messages to the counterpart provider",
		Long: `Propagate messages written since the last sync from one provider's
conversation store to the other.

Example:
  tandem sync --tag work --from claude
  tandem sync --all --from gemini`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tag, "tag", "", "session tag to sync")
	cmd.Flags().StringVar(&opts.From, "from", "claude", "source provider (claude|gemini)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "sync every owned active session")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	if !opts.All && opts.Tag == "" {
		return fmt.Errorf("either --tag or --all is required")
	}

	app, err := loadApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	var results []*sync.Result
	if opts.All {
		results, err = app.Engine.SyncAll(ctx, opts.From)
		if err != nil {
			return err
		}
	} else {
		results = []*sync.Result{app.Engine.SyncSession(ctx, opts.Tag, opts.From)}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if printed, err := out.PrintJSON(results); err != nil || printed {
		return err
	}

	failed := 0
	for _, res := range results {
		switch {
		case res.Skipped:
			out.Printf("%s: skipped (sync already in progress)\n", res.Tag)
		case res.Success:
			out.Printf("%s: %d messages %s -> %s\n", res.Tag, res.SyncedItems, res.From, res.To)
		default:
			failed++
			out.Printf("%s: FAILED %v\n", res.Tag, res.Errors)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed to sync", failed, len(results))
	}
	return nil
}
