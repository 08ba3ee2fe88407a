package types

import "time"

// Health status values carried by HealthRecord.Status and Factor.Status.
// Factors only ever use Good or Poor.
const (
	StatusGood     = "Good"
	StatusModerate = "Moderate"
	StatusPoor     = "Poor"
)

// Factor names, in the fixed order they appear in HealthRecord.Factors.
const (
	FactorTemperature     = "Temperature"
	FactorPH              = "pH Level"
	FactorTurbidity       = "Turbidity"
	FactorDissolvedOxygen = "Dissolved Oxygen"
)

// SensorReading is one sample reported by a water-quality sensor node.
//
// Optional measurements are pointers so that an absent value can be told
// apart from a real zero. Temperature and PH are required for scoring but
// are pointers too: the engine, not the decoder, decides what is missing.
type SensorReading struct {
	// Temperature in degrees Celsius.
	Temperature *float64 `json:"temperature,omitempty"`

	// PH is unitless, 0–14.
	PH *float64 `json:"ph,omitempty"`

	// Turbidity in nephelometric turbidity units (NTU).
	Turbidity *float64 `json:"turbidity,omitempty"`

	// DissolvedOxygen in mg/L.
	DissolvedOxygen *float64 `json:"dissolvedOxygen,omitempty"`

	// Salinity in practical salinity units (PSU). Carried, never scored.
	Salinity *float64 `json:"salinity,omitempty"`

	// Timestamp is epoch milliseconds. The receiver assigns it when absent.
	Timestamp int64 `json:"timestamp"`

	// DeviceID identifies the reporting node, e.g. "ESP32-001".
	DeviceID string `json:"deviceId,omitempty"`
}

// Time returns Timestamp as a time.Time in UTC.
func (r SensorReading) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Factor is the scoring detail for one metric.
type Factor struct {
	Name string `json:"name"`

	// Value is the raw input value, or nil when the reading omitted it.
	Value *float64 `json:"value"`

	Status string `json:"status"`

	// Impact is the signed penalty applied to the base score; 0 in range.
	Impact float64 `json:"impact"`
}

// HealthRecord is the score, classification and advice computed from one
// SensorReading. It is never mutated after creation.
type HealthRecord struct {
	Score           int      `json:"score"`
	Timestamp       int64    `json:"timestamp"`
	Status          string   `json:"status"`
	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Float returns a pointer to v. Handy for building readings in code and tests.
func Float(v float64) *float64 { return &v }
