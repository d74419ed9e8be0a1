package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/marcus/toggle/internal/api"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/serverdb"
)

// runAdmin edits the toggle database directly, without going through HTTP.
// It returns the process exit code.
func runAdmin(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printAdminUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "put":
		err = runAdminPut(args[1:], stdout)
	case "delete":
		err = runAdminDelete(args[1:], stdout)
	case "list":
		err = runAdminList(args[1:], stdout)
	case "overrides":
		err = runAdminOverrides(args[1:], stdout)
	case "-h", "--help", "help":
		printAdminUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printAdminUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: toggle-sync admin <command> [flags]

Commands:
  put        Create or update a toggle
  delete     Delete a toggle (devices receive a tombstone)
  list       List live toggles as JSON
  overrides  List the overrides a device has acknowledged`)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet("admin "+name, pflag.ContinueOnError)
	dbPath := fs.String("db", "", "path to toggles.db (default: TOGGLE_SYNC_DB_PATH or ./data/toggles.db)")
	return fs, dbPath
}

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runAdminPut(args []string, stdout io.Writer) error {
	fs, dbPath := newFlagSet("put")
	key := fs.String("key", "", "toggle key (required)")
	enabled := fs.Bool("enabled", true, "whether the toggle is on")
	scope := fs.String("scope", "global", "global, user, group or device")
	experiment := fs.String("experiment", "", "experiment id for bucketing")
	variant := fs.String("variant", "", "fixed variant")
	expires := fs.Duration("expires-in", 0, "expire after this long (0 = never)")
	meta := fs.StringArray("meta", nil, "metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*key) == "" {
		return fmt.Errorf("--key is required")
	}
	sc, ok := models.ParseScope(*scope)
	if !ok {
		return fmt.Errorf("unknown scope %q", *scope)
	}
	metadata, err := parseMeta(*meta)
	if err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := models.ToggleRecord{
		Key:          *key,
		Enabled:      *enabled,
		Scope:        sc,
		ExperimentID: *experiment,
		Variant:      *variant,
		Metadata:     metadata,
	}
	if *expires > 0 {
		at := time.Now().UTC().Add(*expires)
		rec.ExpiresAt = &at
	}
	stored, err := store.PutToggle(rec)
	if err != nil {
		return err
	}
	return writeJSON(stdout, stored)
}

func runAdminDelete(args []string, stdout io.Writer) error {
	fs, dbPath := newFlagSet("delete")
	key := fs.String("key", "", "toggle key (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ts, err := store.DeleteToggle(*key)
	if err != nil {
		return err
	}
	return writeJSON(stdout, ts)
}

func runAdminList(args []string, stdout io.Writer) error {
	fs, dbPath := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.ListToggles()
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []models.ToggleRecord{}
	}
	return writeJSON(stdout, recs)
}

func runAdminOverrides(args []string, stdout io.Writer) error {
	fs, dbPath := newFlagSet("overrides")
	device := fs.String("device", "", "device id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return fmt.Errorf("--device is required")
	}
	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.ListOverrides(*device)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []models.ToggleRecord{}
	}
	return writeJSON(stdout, recs)
}

// parseMeta splits key=value pairs. Values may contain commas.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
