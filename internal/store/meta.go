package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Meta is the sidecar stored next to each payload. Nil fields are absent
// and fall back to values derived from the filesystem or the payload.
type Meta struct {
	CreatedAt *time.Time
	Duration  *float64
	Emoji     string
	Name      string
}

// referenceEpoch is the zero point of numeric createdAt values written by
// earlier versions of the app (seconds since 2001-01-01 UTC).
var referenceEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	keyCreatedAt = "createdAt"
	keyDuration  = "duration"
	keyEmoji     = "emoji"
	keyName      = "name"
)

type metaWire struct {
	CreatedAt *string  `json:"createdAt,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Emoji     *string  `json:"emoji,omitempty"`
	Name      *string  `json:"name,omitempty"`
}

func encodeMeta(m Meta) ([]byte, error) {
	var w metaWire
	if m.CreatedAt != nil {
		s := m.CreatedAt.UTC().Format(time.RFC3339Nano)
		w.CreatedAt = &s
	}
	if m.Duration != nil {
		d := sanitizeDuration(*m.Duration)
		w.Duration = &d
	}
	if m.Emoji != "" {
		w.Emoji = &m.Emoji
	}
	if m.Name != "" {
		w.Name = &m.Name
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeMeta parses a sidecar. It reports ok=false when the document is not
// a JSON object at all. Individual malformed fields are treated as absent.
func decodeMeta(data []byte) (Meta, bool) {
	var m Meta
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &fields); err != nil || fields == nil {
		return m, false
	}

	if raw, ok := fields[keyCreatedAt]; ok {
		if t, ok := decodeTime(raw); ok {
			m.CreatedAt = &t
		}
	}
	if raw, ok := fields[keyDuration]; ok {
		var d float64
		if err := json.Unmarshal(raw, &d); err == nil && d >= 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			m.Duration = &d
		}
	}
	if raw, ok := fields[keyEmoji]; ok {
		_ = json.Unmarshal(raw, &m.Emoji)
	}
	if raw, ok := fields[keyName]; ok {
		_ = json.Unmarshal(raw, &m.Name)
	}
	return m, true
}

func decodeTime(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil && !math.IsInf(secs, 0) && !math.IsNaN(secs) {
		whole, frac := math.Modf(secs)
		return referenceEpoch.Add(time.Duration(whole) * time.Second).Add(time.Duration(frac * float64(time.Second))), true
	}
	return time.Time{}, false
}

func sanitizeDuration(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}
