package store

import (
	"encoding/json"
	"math"
)

// round3 matches the scheduler package's rounding convention for derived
// numeric fields (avg_duration_ms, throughput_tasks_per_minute).
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// marshalJSON mirrors the teacher's inline json.Marshal-before-bind pattern
// in pkg/database/operations.go, centralized since every JSONB column in
// this schema (capabilities/metrics/policy/payload/output) needs it.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
