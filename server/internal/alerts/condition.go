package alerts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Subject is what a rule is evaluated against: the reading just ingested
// and, when one was computed, its health record. Either may be nil.
type Subject struct {
	Reading *types.SensorReading
	Health  *types.HealthRecord
}

// DeviceID names the source used to key alerts; readings without an id
// share one key.
func (s Subject) DeviceID() string {
	if s.Reading != nil && s.Reading.DeviceID != "" {
		return s.Reading.DeviceID
	}
	return "default"
}

// Validate reports whether cond is a well-formed rule condition.
//
// Supported expressions (field operator value):
//
//	temperature > 30
//	ph < 6.5
//	turbidity >= 10
//	dissolved_oxygen < 4
//	salinity > 40
//	score < 40
//	status == Poor
func Validate(cond string) error {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	if field == "status" {
		if op != "==" && op != "!=" {
			return fmt.Errorf("condition %q: status supports == and != only", cond)
		}
		switch rhs {
		case types.StatusGood, types.StatusModerate, types.StatusPoor:
			return nil
		}
		return fmt.Errorf("condition %q: unknown status %q", cond, rhs)
	}
	if !knownNumeric(field) {
		return fmt.Errorf("condition %q: unknown field %q", cond, field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return fmt.Errorf("condition %q: unknown operator %q", cond, op)
	}
	if _, err := strconv.ParseFloat(rhs, 64); err != nil {
		return fmt.Errorf("condition %q: threshold %q is not a number", cond, rhs)
	}
	return nil
}

// evalCondition evaluates cond against s.
//
// applicable is false when s does not carry the field the condition reads
// (an optional sensor that was not reported, or a health field with no
// record); such a rule neither fires nor resolves.
func evalCondition(cond string, s Subject) (fires bool, value float64, applicable bool) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0, false
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "status" {
		if s.Health == nil {
			return false, 0, false
		}
		v := float64(s.Health.Score)
		switch op {
		case "==":
			return s.Health.Status == rhs, v, true
		case "!=":
			return s.Health.Status != rhs, v, true
		}
		return false, 0, false
	}

	v, ok := numericField(field, s)
	if !ok {
		return false, 0, false
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0, false
	}
	return compareFloat(v, op, threshold), v, true
}

func knownNumeric(field string) bool {
	switch field {
	case "temperature", "ph", "turbidity", "dissolved_oxygen", "salinity", "score":
		return true
	}
	return false
}

// numericField maps a field name to its value in the subject.
func numericField(field string, s Subject) (float64, bool) {
	if field == "score" {
		if s.Health == nil {
			return 0, false
		}
		return float64(s.Health.Score), true
	}
	if s.Reading == nil {
		return 0, false
	}
	var p *float64
	switch field {
	case "temperature":
		p = s.Reading.Temperature
	case "ph":
		p = s.Reading.PH
	case "turbidity":
		p = s.Reading.Turbidity
	case "dissolved_oxygen":
		p = s.Reading.DissolvedOxygen
	case "salinity":
		p = s.Reading.Salinity
	}
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
