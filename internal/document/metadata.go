package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Get returns the decoded value of a metadata key.
func (m *Metadata) Get(key string) (any, bool) {
	switch key {
	case KeyProjectName:
		return m.ProjectName, m.ProjectName != ""
	case KeyCreatedAt:
		return m.CreatedAt, m.CreatedAt != ""
	}
	raw, ok := m.extra[key]
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// GetString returns a metadata value rendered as a string, or def when the
// key is absent or empty.
func (m *Metadata) GetString(key, def string) string {
	v, ok := m.Get(key)
	if !ok {
		return def
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return def
		}
		return s
	case nil:
		return def
	default:
		return fmt.Sprint(s)
	}
}

// Keys returns the metadata keys in sorted order.
func (m *Metadata) Keys() []string {
	keys := make([]string, 0, len(m.extra)+2)
	if m.ProjectName != "" {
		keys = append(keys, KeyProjectName)
	}
	if m.CreatedAt != "" {
		keys = append(keys, KeyCreatedAt)
	}
	for k := range m.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates a metadata key. The typed keys only accept strings.
func (m *Metadata) Set(key string, value any) error {
	switch key {
	case KeyProjectName, KeyCreatedAt:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("document: metadata %q must be a string", key)
		}
		if key == KeyProjectName {
			m.ProjectName = s
		} else {
			m.CreatedAt = s
		}
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("document: metadata %q: %w", key, err)
	}
	if m.extra == nil {
		m.extra = make(map[string]json.RawMessage)
	}
	m.extra[key] = raw
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are written in sorted order;
// empty typed keys are omitted, matching Get.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.extra)+2)
	for k, v := range m.extra {
		out[k] = v
	}
	if m.ProjectName != "" {
		out[KeyProjectName], _ = json.Marshal(m.ProjectName)
	}
	if m.CreatedAt != "" {
		out[KeyCreatedAt], _ = json.Marshal(m.CreatedAt)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("metadata is null")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Metadata
	if v, ok := raw[KeyProjectName]; ok {
		if err := json.Unmarshal(v, &out.ProjectName); err != nil {
			return fmt.Errorf("%s: %w", KeyProjectName, err)
		}
		delete(raw, KeyProjectName)
	}
	if v, ok := raw[KeyCreatedAt]; ok {
		if err := json.Unmarshal(v, &out.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", KeyCreatedAt, err)
		}
		delete(raw, KeyCreatedAt)
	}
	if len(raw) > 0 {
		out.extra = raw
	}
	*m = out
	return nil
}

func (m Metadata) clone() Metadata {
	out := Metadata{ProjectName: m.ProjectName, CreatedAt: m.CreatedAt}
	if m.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(m.extra))
		for k, v := range m.extra {
			out.extra[k] = bytes.Clone(v)
		}
	}
	return out
}
