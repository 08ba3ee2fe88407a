// Package health is the water health score engine.
//
// Compute(reading, now) turns one SensorReading into a HealthRecord. It starts
// from a base score of 100 and subtracts an independent penalty for each metric
// that falls outside its normal range:
//
//	Temperature       [20, 30] °C     |v-25| * 2
//	pH Level          [6.5, 8.5]      |v-7.5| * 10
//	Turbidity         <= 5 NTU        (v-5) * 3
//	Dissolved Oxygen  >= 6 mg/L       (6-v) * 5
//
// The result is clamped to [0, 100], rounded, and clamped again. Status is
// Good above 70, Moderate above 40, Poor otherwise. Recommendations are one
// advisory per Poor factor followed by at most one score-based advisory.
//
// Temperature and pH are required; a reading without them yields an
// *IncompleteReadingError. Turbidity and dissolved oxygen are optional and,
// when absent, are reported with a nil value and no penalty. Out-of-range
// values are never rejected, only scored.
//
// The engine holds no state and is safe for concurrent use.
package health
