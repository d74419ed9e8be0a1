package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s LogSink) Send(ctx context.Context, batch []Event) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, ev := range batch {
		log.Log(ctx, s.Level, "toggle event",
			"id", ev.ID,
			"type", ev.Type,
			"key", ev.ToggleKey,
			"scope", ev.Scope,
			"experiment", ev.ExperimentID,
			"variant", ev.Variant,
			"success", ev.Success,
			"reason", ev.Reason,
		)
	}
	return nil
}

// WebhookPayload is the POST body sent by WebhookSink.
type WebhookPayload struct {
	DeviceID  string  `json:"device_id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Events    []Event `json:"events"`
}

// Webhook headers
const (
	HeaderTimestamp = "X-Toggle-Timestamp"
	HeaderSignature = "X-Toggle-Signature"
)

// WebhookSink POSTs event batches as JSON to an analytics endpoint.
// With a secret, the body is signed: HMAC-SHA256 over "<unix ts>.<body>".
type WebhookSink struct {
	URL      string
	Secret   string
	DeviceID string
	Client   *http.Client
}

// NewWebhookSink returns a sink with a 10s client timeout.
func NewWebhookSink(url, secret, deviceID string) *WebhookSink {
	return &WebhookSink{
		URL:      url,
		Secret:   secret,
		DeviceID: deviceID,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Send(ctx context.Context, batch []Event) error {
	body, err := json.Marshal(WebhookPayload{
		DeviceID:  s.DeviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Events:    batch,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toggle-webhook/1")

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, unixTS)
	if s.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(s.Secret, unixTS, body))
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", s.URL, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "<ts>.<body>" under secret.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
