package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is an opaque key-value payload (spec §9: "Dynamic payload maps").
// It is used for task payloads, result output, node metadata/extra fields,
// and any other JSON blob the domain model treats as structurally untyped.
// It round-trips through database/sql as a JSONB column and through
// encoding/json as a normal object.
type JSONMap map[string]interface{}

// Value implements driver.Valuer so a JSONMap can be bound directly as a
// query parameter against a JSONB column.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner so a JSONB column reads back into a JSONMap.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into JSONMap", src)
	}

	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}

	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("domain: unmarshal JSONMap: %w", err)
	}
	*m = out
	return nil
}
