package status

import (
	"encoding/json"
	"net/http"
	"time"
)

// Meta is the envelope metadata merged into every status response.
type Meta struct {
	Error              string
	RateLimitedUntil   time.Time
	RefreshLockedUntil time.Time
	Stale              bool
	CachedAt           time.Time
}

func (m Meta) fields() map[string]any {
	out := map[string]any{}
	if m.Error != "" {
		out["error"] = m.Error
	}
	if !m.RateLimitedUntil.IsZero() {
		out["rateLimitedUntil"] = m.RateLimitedUntil.UTC().Format(time.RFC3339)
	}
	if !m.RefreshLockedUntil.IsZero() {
		out["refreshLockedUntil"] = m.RefreshLockedUntil.UTC().Format(time.RFC3339)
	}
	if m.Stale {
		out["stale"] = true
	}
	if !m.CachedAt.IsZero() {
		out["cachedAt"] = m.CachedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// writeEnvelope writes payload's JSON object fields plus meta, always with
// status 200. A nil or non-object payload contributes no fields.
func writeEnvelope(w http.ResponseWriter, payload any, meta Meta) {
	body := map[string]json.RawMessage{}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			_ = json.Unmarshal(raw, &body)
		} else if meta.Error == "" {
			meta.Error = "encode payload: " + err.Error()
		}
	}
	for k, v := range meta.fields() {
		raw, _ := json.Marshal(v)
		body[k] = raw
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
