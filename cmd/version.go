package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marcus/toggle/internal/output"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the toggle version",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// version works without a readable config
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.Out = cmd.OutOrStdout()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		v := version
		if v == "" {
			v = "dev"
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(map[string]string{"version": v, "go": runtime.Version()})
		}
		fmt.Fprintf(output.Out, "toggle version %s\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
