package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/toggle/internal/config"
	"github.com/marcus/toggle/internal/input"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/output"
	"github.com/marcus/toggle/internal/suggest"
	"github.com/marcus/toggle/pkg/toggle"
)

var (
	version string

	// set by loadConfig before any RunE
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
)

// errNotFound marks lookups of keys the local stores do not hold.
var errNotFound = errors.New("not found")

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Evaluate and sync feature toggles",
	Long: `toggle - Evaluate feature toggles against a local cache and keep it in sync with a remote.

Evaluation never touches the network. Run "toggle sync" to pull the latest
remote values and push pinned local overrides.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	output.Out = stdout

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(err)
		return 1
	}
	return 0
}

func reportError(err error) {
	if jsonOutput, _ := rootCmd.PersistentFlags().GetBool("json"); jsonOutput {
		output.JSONError(errorCode(err), err.Error())
		return
	}
	output.Error("%v", err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, toggle.ErrOffline):
		return output.ErrCodeOffline
	case models.IsConfigurationError(err):
		return output.ErrCodeConfig
	case errors.Is(err, toggle.ErrStorage):
		return output.ErrCodeStorage
	case models.IsNetworkError(err), models.IsSerializationError(err):
		return output.ErrCodeSyncFailed
	default:
		return output.ErrCodeInvalidInput
	}
}

// flagError appends a suggestion to unknown-flag errors.
func flagError(cmd *cobra.Command, err error) error {
	name, ok := strings.CutPrefix(err.Error(), "unknown flag: ")
	if !ok {
		return err
	}
	if hint := suggest.GetFlagHint(name); hint != "" {
		return fmt.Errorf("%w (try %s)", err, hint)
	}
	var valid []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			valid = append(valid, "--"+f.Name)
		}
	})
	if matches := suggest.Flag(name, valid); len(matches) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(matches, ", "))
	}
	return err
}

// expandKeys resolves - and @file arguments into toggle keys.
func expandKeys(cmd *cobra.Command, args []string) ([]string, error) {
	keys, err := input.ExpandArgs(args, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("no toggle keys given")
	}
	return keys, nil
}

// loadConfig reads the config file named by --config and installs the
// logger it describes. Logs go to stderr so --json output stays parseable.
func loadConfig(cmd *cobra.Command, args []string) error {
	output.Out = cmd.OutOrStdout()

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		c.Log.Level = level
	}

	cfg, cfgPath = c, path
	logger = slog.New(cfg.Log.Handler(cmd.ErrOrStderr()))
	slog.SetDefault(logger)
	return nil
}

// openEngine builds an engine from the loaded config. Callers Close it.
func openEngine(ctx context.Context) (*toggle.Engine, error) {
	return toggle.OpenConfig(ctx, cfg, logger)
}

// closeEngine flushes the engine's stores, even when ctx was cancelled.
func closeEngine(ctx context.Context, e *toggle.Engine) {
	if err := e.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("close engine", "err", err)
	}
}

// addContextFlags registers the evaluation-context flags shared by eval,
// quiet and bucket.
func addContextFlags(fs *pflag.FlagSet) {
	fs.String("user", "", "User ID to evaluate for (default: context.user_id from config)")
	fs.StringSlice("group", nil, "Group IDs to evaluate for (repeatable or comma separated)")
	fs.String("device", "", "Device ID to evaluate for (default: remote.device_id from config)")
}

// evalContext starts from base and replaces whatever the context flags set.
func evalContext(cmd *cobra.Command, base models.EvaluationContext) models.EvaluationContext {
	fs := cmd.Flags()
	if fs.Changed("user") {
		base.UserID, _ = fs.GetString("user")
	}
	if fs.Changed("group") {
		base.GroupIDs, _ = fs.GetStringSlice("group")
	}
	if fs.Changed("device") {
		base.DeviceID, _ = fs.GetString("device")
	}
	return base
}

// configContext is the evaluation context described by the config file.
func configContext() models.EvaluationContext {
	return models.EvaluationContext{
		UserID:   cfg.Context.UserID,
		GroupIDs: cfg.Context.GroupIDs,
		DeviceID: cfg.Remote.DeviceID,
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	// Add custom template function for showing aliases
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	// Need to add the 'add' function for padding calculation
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.SetFlagErrorFunc(flagError)

	rootCmd.PersistentFlags().String("config", "", "Config file (default: $TOGGLE_CONFIG or ~/.config/toggle/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "eval", Title: "Evaluation Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	// Assign built-in commands to system group
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}
