package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/toggle/internal/dateparse"
	"github.com/marcus/toggle/internal/output"
)

var quietCmd = &cobra.Command{
	Use:   "quiet KEY",
	Short: "Check quiet hours and category delivery for a notification toggle",
	Long: `Reads the notification settings carried in a toggle's metadata
(categories, quietStartSeconds, quietEndSeconds, timezone) and reports
whether a notification would be delivered.`,
	Example: `  toggle quiet notif
  toggle quiet notif --category marketing --at 2026-06-01T23:30:00Z`,
	GroupID: "eval",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		at := time.Now()
		if raw, _ := cmd.Flags().GetString("at"); raw != "" {
			parsed, err := dateparse.ParseTime(raw)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			at = parsed
		}
		category, _ := cmd.Flags().GetString("category")

		ctx := cmd.Context()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		nt, ok := e.NotificationToggle(key)
		if !ok {
			return fmt.Errorf("toggle %q: %w", key, errNotFound)
		}
		res := e.Evaluate(key, evalContext(cmd, e.CurrentContext()))
		start, end, hasWindow := nt.QuietWindow()
		quiet := nt.IsQuietNow(at)
		deliver := nt.ShouldDeliver(res.Enabled, category, at)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			result := map[string]any{
				"key":        key,
				"enabled":    res.Enabled,
				"reason":     res.Reason,
				"at":         at.UTC().Format(time.RFC3339),
				"timezone":   nt.Location().String(),
				"quiet":      quiet,
				"categories": nt.Categories(),
				"deliver":    deliver,
			}
			if hasWindow {
				result["quiet_start_seconds"] = start
				result["quiet_end_seconds"] = end
			}
			if category != "" {
				result["category"] = category
			}
			return output.JSON(result)
		}

		output.Info("%s", output.FormatResult(res))
		if hasWindow {
			output.Info("Quiet hours: %s-%s (%s)", clock(start), clock(end), nt.Location())
		} else {
			output.Info("Quiet hours: none")
		}
		output.Info("Quiet at %s: %s", at.In(nt.Location()).Format("15:04 MST"), yesNo(quiet))
		if cats := nt.Categories(); len(cats) > 0 {
			output.Info("Categories: %s", strings.Join(cats, ", "))
		} else {
			output.Info("Categories: all")
		}
		label := "Deliver"
		if category != "" {
			label = fmt.Sprintf("Deliver %q", category)
		}
		if deliver {
			output.Success("%s: yes", label)
		} else {
			output.Warning("%s: no", label)
		}
		return nil
	},
}

// clock formats seconds from midnight as HH:MM.
func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/3600, seconds%3600/60)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(quietCmd)

	addContextFlags(quietCmd.Flags())
	quietCmd.Flags().String("category", "", "Notification category to check against the toggle's categories")
	quietCmd.Flags().String("at", "", "Evaluate at this time instead of now (RFC 3339, +2h, tomorrow, ...)")
}
