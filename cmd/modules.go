package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List available reconnaissance modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Module\tDescription")
		fmt.Fprintln(w, "------\t-----------")
		for _, m := range recon.AllModules() {
			fmt.Fprintf(w, "%s\t%s\n", m, m.Description())
		}
		return w.Flush()
	},
}
