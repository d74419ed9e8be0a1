package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcus/toggle/internal/config"
	"github.com/marcus/toggle/internal/output"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or write the toggle config file",
	GroupID: "system",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config (file, environment and defaults)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Remote.Token != "" {
			shown.Remote.Token = redacted
		}
		if shown.Webhook.Secret != "" {
			shown.Webhook.Secret = redacted
		}

		data, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			var tree map[string]any
			if err := yaml.Unmarshal(data, &tree); err != nil {
				return fmt.Errorf("convert config: %w", err)
			}
			return output.JSON(map[string]any{"path": cfgPath, "config": tree})
		}

		output.Info("# %s", cfgPath)
		fmt.Fprint(output.Out, string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the config file, assigning a device ID",
	Long: `Writes the config file named by --config. Existing settings are kept
unless a flag changes them. A random device ID is assigned on first run.`,
	Example: `  toggle config init --remote-url https://toggles.example.com --token $TOKEN
  toggle config init --backend sqlite --user u42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := cmd.Flags()
		if fs.Changed("remote-url") {
			cfg.Remote.URL, _ = fs.GetString("remote-url")
		}
		if fs.Changed("token") {
			cfg.Remote.Token, _ = fs.GetString("token")
		}
		if fs.Changed("backend") {
			cfg.Storage.Backend, _ = fs.GetString("backend")
		}
		if fs.Changed("storage-path") {
			cfg.Storage.Path, _ = fs.GetString("storage-path")
		}
		if fs.Changed("user") {
			cfg.Context.UserID, _ = fs.GetString("user")
		}
		if fs.Changed("group") {
			cfg.Context.GroupIDs, _ = fs.GetStringSlice("group")
		}
		if fs.Changed("interval") {
			cfg.Sync.Interval, _ = fs.GetDuration("interval")
		}
		cfg.EnsureDeviceID()

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		if jsonOutput, _ := fs.GetBool("json"); jsonOutput {
			return output.JSON(map[string]string{"path": cfgPath, "device_id": cfg.Remote.DeviceID})
		}
		output.Success("Wrote %s (device %s)", cfgPath, cfg.Remote.DeviceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().String("remote-url", "", "Base URL of the toggle remote")
	configInitCmd.Flags().String("token", "", "Bearer token for the remote")
	configInitCmd.Flags().String("backend", "", "Storage backend: file, sqlite, leveldb or memory")
	configInitCmd.Flags().String("storage-path", "", "Directory for the storage backend")
	configInitCmd.Flags().String("user", "", "Default user ID for evaluation")
	configInitCmd.Flags().StringSlice("group", nil, "Default group IDs for evaluation")
	configInitCmd.Flags().Duration("interval", 0, "Background sync interval")
}
