package configstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Default names used when a caller leaves profile or label empty.
const (
	DefaultProfile = "default"
	DefaultLabel   = "main"
)

// Snapshot is one published version of an (application, profile, label)
// property set. It never changes after Publish returns it.
type Snapshot struct {
	Application string
	Profile     string
	Label       string
	Version     uint64
	ETag        string
	PublishedAt time.Time

	properties map[string]any
}

// document is the JSON form of a Snapshot.
type document struct {
	Application string         `json:"application"`
	Profile     string         `json:"profile"`
	Label       string         `json:"label"`
	Version     uint64         `json:"version"`
	ETag        string         `json:"etag"`
	Properties  map[string]any `json:"properties"`
	PublishedAt time.Time      `json:"publishedAt"`
}

// Properties returns a copy of the property map.
func (s *Snapshot) Properties() map[string]any {
	return cloneProperties(s.properties)
}

// Get returns one property value.
func (s *Snapshot) Get(key string) (any, bool) {
	v, ok := s.properties[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// String returns a property as a string, or def when missing or not a
// string.
func (s *Snapshot) String(key, def string) string {
	if v, ok := s.properties[key].(string); ok {
		return v
	}
	return def
}

// Len returns the number of properties.
func (s *Snapshot) Len() int { return len(s.properties) }

// MarshalJSON renders the snapshot with its properties.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		Application: s.Application,
		Profile:     s.Profile,
		Label:       s.Label,
		Version:     s.Version,
		ETag:        s.ETag,
		Properties:  s.properties,
		PublishedAt: s.PublishedAt,
	})
}

// UnmarshalJSON decodes a snapshot received over HTTP.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = Snapshot{
		Application: doc.Application,
		Profile:     doc.Profile,
		Label:       doc.Label,
		Version:     doc.Version,
		ETag:        doc.ETag,
		PublishedAt: doc.PublishedAt,
		properties:  doc.Properties,
	}
	if s.properties == nil {
		s.properties = map[string]any{}
	}
	return nil
}

// computeETag hashes the properties in key order. Values are hashed in
// their JSON form so equal property sets always match.
func computeETag(props map[string]any) (string, error) {
	h := sha256.New()
	for _, k := range slices.Sorted(maps.Keys(props)) {
		v, err := json.Marshal(props[k])
		if err != nil {
			return "", err
		}
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(v)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// flatten turns nested maps into dotted keys: {"db":{"host":"x"}} becomes
// {"db.host":"x"}.
func flatten(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch nested := v.(type) {
			case map[string]any:
				walk(key, nested)
			default:
				out[key] = cloneValue(v)
			}
		}
	}
	walk("", props)
	return out
}

func cloneProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneProperties(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
