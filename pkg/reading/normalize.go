// Package reading converts loosely-typed sensor payloads into
// types.SensorReading. Devices and dashboards disagree on field names
// ("pH" vs "ph") and send numbers as strings; all of that is resolved here,
// once, so the health engine never sees a field-name variant.
package reading

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Accepted aliases per canonical field. The first alias present wins.
var (
	temperatureKeys = []string{"temperature", "temp", "Temperature"}
	phKeys          = []string{"ph", "pH", "PH"}
	turbidityKeys   = []string{"turbidity", "Turbidity"}
	oxygenKeys      = []string{"dissolvedOxygen", "dissolved_oxygen", "do", "DO"}
	salinityKeys    = []string{"salinity", "Salinity"}
	timestampKeys   = []string{"timestamp", "ts"}
	deviceKeys      = []string{"deviceId", "device_id"}
)

// maxTimestamp is 9999-12-31T23:59:59.999Z in epoch milliseconds.
const maxTimestamp = 253402300799999

// FieldError reports a known field whose value could not be interpreted.
type FieldError struct {
	Field string
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("reading: field %q: cannot use %v as a number", e.Field, e.Value)
}

// Decode reads one JSON object from r and normalizes it.
func Decode(r io.Reader, now time.Time) (types.SensorReading, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return types.SensorReading{}, fmt.Errorf("reading: decode json: %w", err)
	}
	return Normalize(raw, now)
}

// Normalize maps raw onto a SensorReading. Absent fields stay nil; an absent
// or zero timestamp is replaced with now in epoch milliseconds. Normalize
// does not check for required fields.
func Normalize(raw map[string]any, now time.Time) (types.SensorReading, error) {
	var (
		r   types.SensorReading
		err error
	)
	if r.Temperature, err = floatField(raw, "temperature", temperatureKeys); err != nil {
		return types.SensorReading{}, err
	}
	if r.PH, err = floatField(raw, "ph", phKeys); err != nil {
		return types.SensorReading{}, err
	}
	if r.Turbidity, err = floatField(raw, "turbidity", turbidityKeys); err != nil {
		return types.SensorReading{}, err
	}
	if r.DissolvedOxygen, err = floatField(raw, "dissolvedOxygen", oxygenKeys); err != nil {
		return types.SensorReading{}, err
	}
	if r.Salinity, err = floatField(raw, "salinity", salinityKeys); err != nil {
		return types.SensorReading{}, err
	}

	ts, err := floatField(raw, "timestamp", timestampKeys)
	if err != nil {
		return types.SensorReading{}, err
	}
	if ts != nil && *ts > maxTimestamp {
		return types.SensorReading{}, &FieldError{Field: "timestamp", Value: raw[firstKey(raw, timestampKeys)]}
	}
	if ts != nil && *ts > 0 {
		r.Timestamp = int64(*ts)
	} else {
		r.Timestamp = now.UnixMilli()
	}

	if v, ok := lookup(raw, deviceKeys); ok {
		r.DeviceID = strings.TrimSpace(fmt.Sprint(v))
	}
	return r, nil
}

// lookup returns the first non-nil value found under keys.
func lookup(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstKey(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return k
		}
	}
	return ""
}

// floatField resolves a numeric field. Empty strings count as absent.
func floatField(raw map[string]any, name string, keys []string) (*float64, error) {
	v, ok := lookup(raw, keys)
	if !ok {
		return nil, nil
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, &FieldError{Field: name, Value: v}
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &FieldError{Field: name, Value: v}
		}
		f = parsed
	default:
		return nil, &FieldError{Field: name, Value: v}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &FieldError{Field: name, Value: v}
	}
	return &f, nil
}
