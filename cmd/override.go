package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/toggle/internal/dateparse"
	"github.com/marcus/toggle/internal/output"
)

var overrideCmd = &cobra.Command{
	Use:     "override",
	Aliases: []string{"ov"},
	Short:   "Manage local overrides",
	Long: `Local overrides are pinned: remote updates never replace them, and the
next sync reports them to the remote.`,
	GroupID: "eval",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set KEY on|off",
	Short: "Pin a local value for a toggle",
	Long: `Pins KEY on this device. With --until the override lapses at that time
and the remote value applies again. --until accepts RFC 3339 times, dates
(2026-03-01), offsets (+6h, +7d, +2w), durations (90m), weekday names and
today, tomorrow, next-week or next-month.`,
	Example: `  toggle override set beta on
  toggle override set notif off --until tomorrow
  toggle override set checkout on --until +2h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseOnOff(args[1])
		if err != nil {
			return err
		}

		var until time.Time
		if raw, _ := cmd.Flags().GetString("until"); raw != "" {
			if until, err = dateparse.ParseTime(raw); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
		}

		ctx := cmd.Context()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		rec, err := e.SetLocalOverrideUntil(args[0], enabled, until)
		if err != nil {
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(rec)
		}
		if rec.ExpiresAt != nil {
			output.Success("Override set: %s %s until %s", rec.Key, output.FormatEnabled(rec.Enabled),
				rec.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		}
		output.Success("Override set: %s %s", rec.Key, output.FormatEnabled(rec.Enabled))
		return nil
	},
}

var overrideClearCmd = &cobra.Command{
	Use:     "clear KEY...",
	Aliases: []string{"rm"},
	Short:   "Remove local overrides",
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

		var cleared, missing []string
		for _, key := range keys {
			if e.ClearLocalOverride(key) {
				cleared = append(cleared, key)
			} else {
				missing = append(missing, key)
			}
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			if err := output.JSON(map[string]any{"cleared": cleared, "missing": missing}); err != nil {
				return err
			}
		} else {
			for _, key := range cleared {
				output.Success("Override cleared: %s", key)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("no override for %s: %w", strings.Join(missing, ", "), errNotFound)
		}
		return nil
	},
}

// parseOnOff accepts the spellings people type for a boolean toggle value.
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes", "enable", "enabled":
		return true, nil
	case "off", "false", "0", "no", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q: want on or off", s)
}

func init() {
	rootCmd.AddCommand(overrideCmd)
	overrideCmd.AddCommand(overrideSetCmd)
	overrideCmd.AddCommand(overrideClearCmd)

	overrideSetCmd.Flags().String("until", "", "Expire the override at this time (e.g. +2h, tomorrow, 2026-03-01)")
}
