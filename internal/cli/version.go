package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tandem version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tandem %s\n", tandem.Version)
		},
	}
}
