package health

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Normal ranges and penalty weights.
const (
	tempMin     = 20.0
	tempMax     = 30.0
	tempOptimal = 25.0
	tempWeight  = 2.0

	phMin     = 6.5
	phMax     = 8.5
	phOptimal = 7.5
	phWeight  = 10.0

	turbidityMax    = 5.0
	turbidityWeight = 3.0

	oxygenMin    = 6.0
	oxygenWeight = 5.0
)

// Score thresholds. A score must exceed the threshold to reach the state.
const (
	ThresholdGood     = 70
	ThresholdModerate = 40
)

// Advisory strings.
const (
	AdviceTemperature = "Investigate thermal pollution sources"
	AdvicePH          = "Check for chemical contamination"
	AdviceTurbidity   = "Monitor sediment runoff and algal blooms"
	AdviceOxygen      = "Investigate organic pollution and eutrophication"
	AdviceImmediate   = "Immediate action required - alert environmental authorities"
	AdviceMonitoring  = "Increased monitoring recommended"
)

var factorAdvice = map[string]string{
	types.FactorTemperature:     AdviceTemperature,
	types.FactorPH:              AdvicePH,
	types.FactorTurbidity:       AdviceTurbidity,
	types.FactorDissolvedOxygen: AdviceOxygen,
}

// IncompleteReadingError reports that a reading lacks the fields required to
// produce a score. Callers must not persist or display a score for it.
type IncompleteReadingError struct {
	Missing []string
}

func (e *IncompleteReadingError) Error() string {
	return fmt.Sprintf("incomplete reading: missing %s", strings.Join(e.Missing, ", "))
}

// Compute scores r and returns the resulting HealthRecord stamped with now.
func Compute(r types.SensorReading, now time.Time) (types.HealthRecord, error) {
	var missing []string
	if !present(r.Temperature) {
		missing = append(missing, "temperature")
	}
	if !present(r.PH) {
		missing = append(missing, "ph")
	}
	if len(missing) > 0 {
		return types.HealthRecord{}, &IncompleteReadingError{Missing: missing}
	}

	factors := []types.Factor{
		temperatureFactor(*r.Temperature),
		phFactor(*r.PH),
		turbidityFactor(r.Turbidity),
		oxygenFactor(r.DissolvedOxygen),
	}

	raw := 100.0
	for _, f := range factors {
		raw += f.Impact
	}
	score := int(clamp(math.Round(clamp(raw, 0, 100)), 0, 100))

	return types.HealthRecord{
		Score:           score,
		Timestamp:       now.UnixMilli(),
		Status:          StatusFromScore(score),
		Factors:         factors,
		Recommendations: Recommendations(factors, score),
	}, nil
}

// StatusFromScore maps a final score to Good, Moderate or Poor.
func StatusFromScore(score int) string {
	switch {
	case score > ThresholdGood:
		return types.StatusGood
	case score > ThresholdModerate:
		return types.StatusModerate
	default:
		return types.StatusPoor
	}
}

// Recommendations derives the advisory list from factors and score.
// Per-factor advice comes first, in factor order, then the score advisory.
// The result is never nil.
func Recommendations(factors []types.Factor, score int) []string {
	out := make([]string, 0, len(factors)+1)
	for _, f := range factors {
		if f.Status != types.StatusPoor {
			continue
		}
		if advice, ok := factorAdvice[f.Name]; ok {
			out = append(out, advice)
		}
	}
	switch {
	case score < ThresholdModerate:
		out = append(out, AdviceImmediate)
	case score < ThresholdGood:
		out = append(out, AdviceMonitoring)
	}
	return out
}

func temperatureFactor(v float64) types.Factor {
	f := types.Factor{Name: types.FactorTemperature, Value: types.Float(v), Status: types.StatusGood}
	if v < tempMin || v > tempMax {
		f.Status = types.StatusPoor
		f.Impact = impact(math.Abs(v-tempOptimal) * tempWeight)
	}
	return f
}

func phFactor(v float64) types.Factor {
	f := types.Factor{Name: types.FactorPH, Value: types.Float(v), Status: types.StatusGood}
	if v < phMin || v > phMax {
		f.Status = types.StatusPoor
		f.Impact = impact(math.Abs(v-phOptimal) * phWeight)
	}
	return f
}

func turbidityFactor(v *float64) types.Factor {
	f := types.Factor{Name: types.FactorTurbidity, Status: types.StatusGood}
	if !present(v) {
		return f
	}
	f.Value = types.Float(*v)
	if *v > turbidityMax {
		f.Status = types.StatusPoor
		f.Impact = impact((*v - turbidityMax) * turbidityWeight)
	}
	return f
}

func oxygenFactor(v *float64) types.Factor {
	f := types.Factor{Name: types.FactorDissolvedOxygen, Status: types.StatusGood}
	if !present(v) {
		return f
	}
	f.Value = types.Float(*v)
	if *v < oxygenMin {
		f.Status = types.StatusPoor
		f.Impact = impact((oxygenMin - *v) * oxygenWeight)
	}
	return f
}

// impact turns a penalty into a signed impact. Overflowing penalties are
// capped so the record stays JSON-encodable.
func impact(penalty float64) float64 {
	if math.IsInf(penalty, 1) {
		return -math.MaxFloat64
	}
	return -penalty
}

// present reports whether v holds a usable number.
func present(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
