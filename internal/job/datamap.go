package job

import (
	"encoding/json"
	"fmt"
)

// DataMap carries job parameters across firings. Values must round-trip
// through JSON because the persistent store serialises the map as a JSON
// document; numeric values read back as float64 unless put via PutInt.
type DataMap map[string]any

// NewDataMap returns an empty data map.
func NewDataMap() DataMap { return DataMap{} }

// Clone returns a deep copy via JSON round-trip so that callers can mutate
// the copy without affecting the canonical map held by the store.
func (m DataMap) Clone() DataMap {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		// All maps built through Put* are marshalable; a non-marshalable
		// value would already have failed persistence.
		out := make(DataMap, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out DataMap
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = DataMap{}
	}
	return out
}

// Merge returns a new map with entries from other overlaying entries from m.
func (m DataMap) Merge(other DataMap) DataMap {
	out := make(DataMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Put stores a value under key.
func (m DataMap) Put(key string, value any) { m[key] = value }

// GetString reads a string value; ok is false when absent or mistyped.
func (m DataMap) GetString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt reads an integer value, accepting the float64 representation that
// JSON deserialisation produces.
func (m DataMap) GetInt(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// GetBool reads a boolean value; ok is false when absent or mistyped.
func (m DataMap) GetBool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// MarshalBinary serialises the map for storage.
func (m DataMap) MarshalBinary() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job data map: %w", err)
	}
	return raw, nil
}

// UnmarshalBinary restores a map serialised by MarshalBinary.
func (m *DataMap) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*m = DataMap{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal job data map: %w", err)
	}
	if *m == nil {
		*m = DataMap{}
	}
	return nil
}
