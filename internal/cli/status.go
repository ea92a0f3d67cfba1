package cli

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem"
	"github.com/tandem-dev/tandem/pkg/registry"
	"github.com/tandem-dev/tandem/pkg/state"
	"github.com/tandem-dev/tandem/pkg/sync"
)

// statusReport is the JSON shape of the status command output.
type statusReport struct {
	Registry    *registry.Stats    `json:"registry"`
	Locks       sync.LockStats     `json:"locks"`
	Backend     string             `json:"backend"`
	StateDir    string             `json:"stateDir"`
	Checkpoints []checkpointStatus `json:"checkpoints"`
}

// checkpointStatus summarizes one (provider, tag) sync baseline.
type checkpointStatus struct {
	Tag              string `json:"tag"`
	Provider         string `json:"provider"`
	LastSessionID    string `json:"lastSessionId"`
	CurrentSessionID string `json:"currentSessionId"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show registry, lock, and checkpoint state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.Registry.Stats(cmd.Context())
			if err != nil {
				return err
			}
			checkpoints, err := collectCheckpoints(cmd, app)
			if err != nil {
				return err
			}
			report := &statusReport{
				Registry:    stats,
				Locks:       app.Engine.Locks().Stats(),
				Backend:     app.Config.Registry.Backend,
				StateDir:    app.Config.StateDir,
				Checkpoints: checkpoints,
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if printed, err := out.PrintJSON(report); err != nil || printed {
				return err
			}
			out.Printf("Backend:   %s\n", report.Backend)
			out.Printf("State dir: %s\n", report.StateDir)
			out.Printf("Sessions:  %d total, %d active, %d archived, %d owned\n",
				stats.Total, stats.Active, stats.Archived, stats.Owned)
			out.Printf("Locks:     %d held, %d expired\n", report.Locks.Held, report.Locks.Expired)
			for _, cp := range report.Checkpoints {
				out.Printf("Checkpoint %s/%s: last=%s current=%s\n",
					cp.Tag, cp.Provider, cp.LastSessionID, cp.CurrentSessionID)
			}
			return nil
		},
	}
}

// collectCheckpoints gathers the sync baselines of every active session. A
// session with no checkpoint yet has simply never synced and is skipped.
func collectCheckpoints(cmd *cobra.Command, app *tandem.App) ([]checkpointStatus, error) {
	entries, err := app.Registry.ListActive(cmd.Context())
	if err != nil {
		return nil, err
	}
	checkpoints := make([]checkpointStatus, 0, len(entries))
	for _, entry := range entries {
		for name := range entry.Providers {
			cp, err := app.Checkpoints.Load(cmd.Context(), name, entry.Tag)
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			checkpoints = append(checkpoints, checkpointStatus{
				Tag:              entry.Tag,
				Provider:         name,
				LastSessionID:    cp.LastSessionID,
				CurrentSessionID: cp.CurrentSessionID,
			})
		}
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].Tag != checkpoints[j].Tag {
			return checkpoints[i].Tag < checkpoints[j].Tag
		}
		return checkpoints[i].Provider < checkpoints[j].Provider
	})
	return checkpoints, nil
}
