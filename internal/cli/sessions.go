package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/pkg/registry"
)

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage registered sessions",
	}
	cmd.AddCommand(newSessionsListCommand(rootOpts, "list", "List all registered sessions", false))
	cmd.AddCommand(newSessionsListCommand(rootOpts, "active", "List active sessions", true))
	cmd.AddCommand(newSessionsArchiveCommand(rootOpts))
	cmd.AddCommand(newSessionsRemoveCommand(rootOpts))
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions, use, short string, activeOnly bool) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			var entries []*registry.Entry
			if activeOnly {
				entries, err = app.Registry.ListActive(cmd.Context())
			} else {
				entries, err = app.Registry.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if printed, err := out.PrintJSON(entries); err != nil || printed {
				return err
			}
			if len(entries) == 0 {
				out.Printf("No sessions registered.\n")
				return nil
			}
			for _, e := range entries {
				out.Printf("%-20s %-8s pid=%-7d last activity %s\n",
					e.Tag, e.Status, e.PID, e.LastActivity.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSessionsArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "archive <tag>",
		Short:         "Archive a session so sync no longer picks it up",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Registry.Archive(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
			return nil
		},
	}
}

func newSessionsRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <tag>",
		Short:         "Remove a session from the registry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Registry.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
