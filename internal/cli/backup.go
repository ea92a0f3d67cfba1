package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore session conversation files",
	}
	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	return cmd
}

func newBackupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Snapshot a session's conversation files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			dir, err := app.Backup.Create(cmd.Context(), tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "session tag to back up")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newBackupRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		tag string
		dir string
	)
	cmd := &cobra.Command{
		Use:           "restore",
		Short:         "Restore a snapshot over the live conversation files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			target := dir
			if target == "" {
				// Default to the newest snapshot for the tag.
				snapshots, err := app.Backup.List(tag)
				if err != nil {
					return err
				}
				if len(snapshots) == 0 {
					return fmt.Errorf("no backups for tag %q", tag)
				}
				target = snapshots[0]
			}

			manifest, err := app.Backup.Restore(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s (%d files) from %s\n",
				manifest.Tag, len(manifest.Files), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "session tag to restore")
	cmd.Flags().StringVar(&dir, "dir", "", "snapshot directory (default: newest for --tag)")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newBackupListCommand(rootOpts *RootOptions) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List snapshots for a session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			snapshots, err := app.Backup.List(tag)
			if err != nil {
				return err
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if printed, err := out.PrintJSON(snapshots); err != nil || printed {
				return err
			}
			if len(snapshots) == 0 {
				out.Printf("No backups for %s.\n", tag)
				return nil
			}
			for _, s := range snapshots {
				out.Printf("%s\n", s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "session tag")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}
