package toggle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/toggle/internal/config"
	"github.com/marcus/toggle/internal/events"
	"github.com/marcus/toggle/internal/persist"
	"github.com/marcus/toggle/internal/syncclient"
)

// OpenConfig builds an Engine from a loaded config: storage backend, remote
// client, sync tuning and the webhook sink. The engine owns the backends it
// opens and releases them on Close. extra sinks are appended after the
// configured ones.
func OpenConfig(ctx context.Context, cfg *config.Config, log *slog.Logger, extra ...Sink) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	set, err := persist.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	var sinks []Sink
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Remote.DeviceID))
	}
	sinks = append(sinks, extra...)

	var token TokenSource
	if cfg.Remote.Token != "" {
		token = syncclient.StaticToken(cfg.Remote.Token)
	}

	e, err := New(ctx, Options{
		RemoteURL:     cfg.Remote.URL,
		Token:         token,
		DeviceID:      cfg.Remote.DeviceID,
		RemoteStore:   set.Remote,
		OverrideStore: set.Overrides,
		Sync: SyncConfig{
			Interval:       cfg.Sync.Interval,
			BackoffBase:    cfg.Sync.BackoffBase,
			BackoffMax:     cfg.Sync.BackoffMax,
			RequestTimeout: cfg.Sync.RequestTimeout,
		},
		Sinks:  sinks,
		Logger: log,
	})
	if err != nil {
		set.Close()
		return nil, err
	}
	e.onClose = append(e.onClose, set.Close)

	if cfg.Context.UserID != "" || len(cfg.Context.GroupIDs) > 0 || cfg.Remote.DeviceID != "" {
		e.SetContext(cfg.Context.UserID, cfg.Context.GroupIDs, cfg.Remote.DeviceID)
	}
	return e, nil
}
