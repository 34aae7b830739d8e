package refresh

import (
	"time"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
)

// Snapshot is an immutable view of every source's last successful payload.
// Payload maps are shared between snapshots and must never be mutated; a
// successful fetch installs a fresh map instead.
type Snapshot struct {
	AssembledAt time.Time

	payloads  map[SourceID]device.Payload
	fetchedAt map[SourceID]time.Time
}

// Field returns a raw value from a source payload. Nested objects and arrays
// are shared with the snapshot; use Payload for a copy that may be modified.
func (s *Snapshot) Field(source SourceID, key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.payloads[source]
	if !ok {
		return nil, false
	}
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether a payload has ever been retrieved for source.
func (s *Snapshot) Has(source SourceID) bool {
	if s == nil {
		return false
	}
	_, ok := s.payloads[source]
	return ok
}

// Payload returns a deep copy of a source payload, or nil if it was never
// fetched.
func (s *Snapshot) Payload(source SourceID) device.Payload {
	if s == nil {
		return nil
	}
	p, ok := s.payloads[source]
	if !ok {
		return nil
	}
	out := make(device.Payload, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the nested objects and arrays of a decoded JSON value.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyValue(e)
		}
		return out
	case device.Payload:
		return device.Payload(copyValue(map[string]any(v)).(map[string]any))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// FetchedAt returns when source was last fetched successfully.
func (s *Snapshot) FetchedAt(source SourceID) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, ok := s.fetchedAt[source]
	return t, ok
}

// StringField looks up a string field, used for identity values such as the
// model name or serial number.
func (s *Snapshot) StringField(source SourceID, key string) (string, bool) {
	v, ok := s.Field(source, key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
