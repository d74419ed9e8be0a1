package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/serverdb"
)

// headerDeviceID identifies the pulling device so its cursor can be tracked.
const headerDeviceID = "X-Toggle-Device"

// PullResponse is the body of GET /toggles.
type PullResponse struct {
	Toggles []models.ToggleRecord `json:"toggles"`
	Deleted []models.Tombstone    `json:"deleted,omitempty"`
	Cursor  string                `json:"cursor"`
}

// AckRequest is the body of POST /toggles/ack.
type AckRequest struct {
	DeviceID  string                `json:"device_id"`
	Overrides []models.ToggleRecord `json:"overrides"`
}

// AckResponse is the response from POST /toggles/ack.
type AckResponse struct {
	Accepted int `json:"accepted"`
}

// handlePull handles GET /toggles?since=<cursor>.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid since cursor")
			return
		}
		since = n
	}

	res, err := s.store.Pull(since)
	if err != nil {
		logFor(r.Context()).Error("pull", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read toggles")
		return
	}
	s.metrics.RecordPullRequest()

	if device := strings.TrimSpace(r.Header.Get(headerDeviceID)); device != "" {
		if err := s.store.UpsertSyncCursor(device, res.Cursor); err != nil {
			logFor(r.Context()).Warn("record sync cursor", "err", err)
		}
	}

	resp := PullResponse{
		Toggles: res.Toggles,
		Deleted: res.Deleted,
		Cursor:  strconv.FormatInt(res.Cursor, 10),
	}
	if resp.Toggles == nil {
		resp.Toggles = []models.ToggleRecord{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAck handles POST /toggles/ack.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = strings.TrimSpace(r.Header.Get(headerDeviceID))
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "device_id is required")
		return
	}

	n, err := s.store.RecordOverrides(req.DeviceID, req.Overrides)
	if err != nil {
		logFor(r.Context()).Error("record overrides", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to record overrides")
		return
	}
	s.metrics.RecordOverrides(int64(n))
	logFor(r.Context()).Info("overrides acknowledged", "device", req.DeviceID, "received", len(req.Overrides), "accepted", n)
	writeJSON(w, http.StatusOK, AckResponse{Accepted: n})
}

// handleGetToggle handles GET /toggles/{key}.
func (s *Server) handleGetToggle(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetToggle(r.PathValue("key"))
	if errors.Is(err, serverdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "toggle not found")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("get toggle", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read toggle")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutToggle handles PUT /toggles/{key}. The path key wins over any key
// in the body.
func (s *Server) handlePutToggle(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var rec models.ToggleRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if rec.Key != "" && rec.Key != key {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body key does not match path")
		return
	}
	rec.Key = key

	stored, err := s.store.PutToggle(rec)
	if err != nil {
		var ce *models.ConfigurationError
		if errors.As(err, &ce) {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidToggle, ce.Error())
			return
		}
		logFor(r.Context()).Error("put toggle", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store toggle")
		return
	}
	s.metrics.RecordToggleWrite()
	logFor(r.Context()).Info("toggle stored", "key", stored.Key, "enabled", stored.Enabled)
	writeJSON(w, http.StatusOK, stored)
}

// handleDeleteToggle handles DELETE /toggles/{key}.
func (s *Server) handleDeleteToggle(w http.ResponseWriter, r *http.Request) {
	ts, err := s.store.DeleteToggle(r.PathValue("key"))
	if errors.Is(err, serverdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "toggle not found")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("delete toggle", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete toggle")
		return
	}
	s.metrics.RecordToggleWrite()
	logFor(r.Context()).Info("toggle deleted", "key", ts.Key)
	writeJSON(w, http.StatusOK, ts)
}

// handleDeviceOverrides handles GET /devices/{id}/overrides.
func (s *Server) handleDeviceOverrides(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListOverrides(r.PathValue("id"))
	if err != nil {
		logFor(r.Context()).Error("list overrides", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read overrides")
		return
	}
	if recs == nil {
		recs = []models.ToggleRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": r.PathValue("id"), "overrides": recs})
}
