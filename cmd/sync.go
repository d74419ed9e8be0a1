package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/output"
	"github.com/marcus/toggle/internal/syncclient"
)

// syncSummary is the JSON shape of `toggle sync --json`.
type syncSummary struct {
	Applied   []string       `json:"applied"`
	Deleted   []string       `json:"deleted"`
	Skipped   int            `json:"skipped"`
	Conflicts []conflictLine `json:"conflicts,omitempty"`
	Pushed    int            `json:"pushed"`
	Accepted  int            `json:"accepted"`
	Cursor    string         `json:"cursor"`
}

type conflictLine struct {
	Key    string `json:"key"`
	Local  bool   `json:"local"`
	Remote bool   `json:"remote"`
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull remote toggles and push local overrides",
	Long: `Runs one sync round against remote.url: pulls toggles changed since the
last round, merges them last-write-wins, and reports pinned overrides.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.URL == "" {
			return &models.ConfigurationError{Reason: "remote.url is not set; run \"toggle config init --remote-url URL\""}
		}

		ctx := cmd.Context()
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		e.SetOnlineStatus(true)
		res, err := e.ForceSync(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		summary := syncSummary{
			Applied:  make([]string, 0, len(res.Applied)),
			Deleted:  res.Deleted,
			Skipped:  res.Skipped,
			Pushed:   res.Pushed,
			Accepted: res.Accepted,
			Cursor:   res.Cursor,
		}
		if summary.Deleted == nil {
			summary.Deleted = []string{}
		}
		for _, rec := range res.Applied {
			summary.Applied = append(summary.Applied, rec.Key)
		}
		for _, c := range res.Conflicts {
			summary.Conflicts = append(summary.Conflicts, conflictLine{Key: c.Key, Local: c.Local.Enabled, Remote: c.Remote.Enabled})
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(summary)
		}
		output.Success("Synced: %d applied, %d deleted, %d skipped, %d overrides pushed",
			len(summary.Applied), len(summary.Deleted), summary.Skipped, summary.Pushed)
		for _, c := range summary.Conflicts {
			output.Warning("%s: remote value %s replaced local %s", c.Key,
				output.FormatEnabled(c.Remote), output.FormatEnabled(c.Local))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show cache, override and sync status",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeEngine(ctx, e)

		st := e.Status()
		ping, _ := cmd.Flags().GetBool("ping")
		var reachable *bool
		var pingErr string
		if ping && cfg.Remote.URL != "" {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Sync.RequestTimeout)
			_, err := syncclient.New(cfg.Remote.URL, nil, cfg.Remote.DeviceID).HealthCheck(pingCtx)
			cancel()
			ok := err == nil
			reachable = &ok
			if err != nil {
				pingErr = err.Error()
			}
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			result := map[string]any{
				"config":    cfgPath,
				"remote":    cfg.Remote.URL,
				"device_id": cfg.Remote.DeviceID,
				"storage":   map[string]string{"backend": cfg.Storage.Backend, "path": cfg.Storage.Path},
				"status":    st,
			}
			if reachable != nil {
				result["reachable"] = *reachable
				if pingErr != "" {
					result["ping_error"] = pingErr
				}
			}
			return output.JSON(result)
		}

		remote := cfg.Remote.URL
		if remote == "" {
			remote = "(not configured)"
		}
		output.Info("Config: %s", cfgPath)
		output.Info("Remote: %s", remote)
		if cfg.Remote.DeviceID != "" {
			output.Info("Device: %s", cfg.Remote.DeviceID)
		}
		output.Info("Storage: %s (%s)", cfg.Storage.Backend, cfg.Storage.Path)
		if reachable != nil {
			if *reachable {
				output.Success("Remote reachable")
			} else {
				output.Warning("remote unreachable: %s", pingErr)
			}
		}
		fmt.Fprint(output.Out, output.FormatSyncState(st.Sync, time.Now()))
		output.Info("Toggles: %d  Overrides: %d", st.Toggles, st.Overrides)
		if len(st.EnvRules) > 0 {
			fmt.Fprint(output.Out, output.SectionHeader("environment overrides"))
			for _, line := range output.BulletList(st.EnvRules, 2) {
				output.Info("%s", line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)

	syncCmd.Flags().Duration("timeout", 0, "Give up after this long (default: no limit beyond sync.request_timeout per request)")
	statusCmd.Flags().Bool("ping", false, "Check that the remote answers /healthz")
}
