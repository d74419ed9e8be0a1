package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/toggle/internal/output"
	"github.com/marcus/toggle/pkg/toggle"
)

var evalCmd = &cobra.Command{
	Use:     "eval KEY...",
	Aliases: []string{"check"},
	Short:   "Evaluate toggles for a user, group or device",
	Long: `Evaluates each key against the local cache. Unknown keys are off.

A key of - reads keys from stdin, one per line; @path reads them from a file.
Use --sync to pull from the remote first. A failed pull is reported as a
warning and evaluation continues with the cached values.`,
	Example: `  toggle eval notif
  toggle eval checkout --user u42
  toggle eval beta --group staff --json
  toggle eval @rollout-keys.txt`,
	GroupID: "eval",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := expandKeys(cmd, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		if syncFirst, _ := cmd.Flags().GetBool("sync"); syncFirst {
			e.SetOnlineStatus(true)
			if _, err := e.ForceSync(ctx); err != nil {
				output.Warning("sync failed, using cached values: %v", err)
			}
		}

		ectx := evalContext(cmd, e.CurrentContext())
		results := make([]toggle.Result, 0, len(keys))
		for _, key := range keys {
			results = append(results, e.Evaluate(key, ectx))
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(results)
		}
		for _, res := range results {
			output.Info("%s", output.FormatResult(res))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached toggles and local overrides",
	GroupID: "eval",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		onlyOverrides, _ := cmd.Flags().GetBool("overrides")
		var toggles []toggle.Record
		if !onlyOverrides {
			toggles = e.Toggles()
		}
		overrides := e.Overrides()

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			result := map[string]any{"overrides": overrides}
			if !onlyOverrides {
				result["toggles"] = toggles
			}
			return output.JSON(result)
		}

		if len(toggles) == 0 && len(overrides) == 0 {
			output.Info("No toggles cached. Run \"toggle sync\" to pull from the remote.")
			return nil
		}

		long, _ := cmd.Flags().GetBool("long")
		width := output.TerminalWidth(100)
		now := time.Now()
		printRecords := func(title string, recs []toggle.Record) {
			if len(recs) == 0 {
				return
			}
			fmt.Fprint(output.Out, output.SectionHeader(fmt.Sprintf("%s (%d)", title, len(recs))))
			for _, rec := range recs {
				if long {
					fmt.Fprint(output.Out, output.FormatRecordLong(rec, now))
					continue
				}
				output.Info("%s", output.Truncate(output.FormatRecordShort(rec, now), width))
			}
		}
		printRecords("toggles", toggles)
		printRecords("overrides", overrides)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(listCmd)

	addContextFlags(evalCmd.Flags())
	evalCmd.Flags().Bool("sync", false, "Pull from the remote before evaluating")

	listCmd.Flags().Bool("overrides", false, "Only list local overrides")
	listCmd.Flags().BoolP("long", "l", false, "Show metadata and update times")
}
