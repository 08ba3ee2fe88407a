package alerts

import (
	"math"
	"testing"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

func TestEvalCondition(t *testing.T) {
	r := &types.SensorReading{
		Temperature:     types.Float(32),
		PH:              types.Float(6.2),
		DissolvedOxygen: types.Float(3.5),
		DeviceID:        "ESP32-001",
	}
	h := &types.HealthRecord{Score: 38, Status: types.StatusPoor}

	tests := []struct {
		cond           string
		subj           Subject
		wantFires      bool
		wantValue      float64
		wantApplicable bool
	}{
		{"temperature > 30", Subject{Reading: r}, true, 32, true},
		{"temperature > 35", Subject{Reading: r}, false, 32, true},
		{"ph < 6.5", Subject{Reading: r}, true, 6.2, true},
		{"dissolved_oxygen <= 3.5", Subject{Reading: r}, true, 3.5, true},
		{"turbidity > 10", Subject{Reading: r}, false, 0, false},
		{"salinity > 40", Subject{Reading: r}, false, 0, false},
		{"score < 40", Subject{Reading: r, Health: h}, true, 38, true},
		{"score < 40", Subject{Reading: r}, false, 0, false},
		{"status == Poor", Subject{Health: h}, true, 38, true},
		{"status != Poor", Subject{Health: h}, false, 38, true},
		{"status == Poor", Subject{Reading: r}, false, 0, false},
		{"temperature > 30", Subject{Health: h}, false, 0, false},
		{"temperature >", Subject{Reading: r}, false, 0, false},
		{"temperature > warm", Subject{Reading: r}, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			fires, v, ok := evalCondition(tt.cond, tt.subj)
			if fires != tt.wantFires || ok != tt.wantApplicable {
				t.Fatalf("fires=%v applicable=%v, want %v %v", fires, ok, tt.wantFires, tt.wantApplicable)
			}
			if ok && v != tt.wantValue {
				t.Errorf("value: got %v, want %v", v, tt.wantValue)
			}
		})
	}
}

func TestEvalCondition_NonFiniteNotApplicable(t *testing.T) {
	r := &types.SensorReading{Temperature: types.Float(math.NaN())}
	if _, _, ok := evalCondition("temperature > 30", Subject{Reading: r}); ok {
		t.Error("NaN temperature should not be applicable")
	}
}

func TestValidate(t *testing.T) {
	valid := []string{"temperature > 30", "ph <= 6.5", "score < 40", "status == Moderate", "salinity != 0"}
	for _, c := range valid {
		if err := Validate(c); err != nil {
			t.Errorf("Validate(%q): %v", c, err)
		}
	}
	invalid := []string{"", "temperature", "pressure > 3", "ph ~ 7", "ph > seven", "status > Poor", "status == Great"}
	for _, c := range invalid {
		if err := Validate(c); err == nil {
			t.Errorf("Validate(%q): expected error", c)
		}
	}
}

func TestSubject_DeviceID(t *testing.T) {
	if got := (Subject{}).DeviceID(); got != "default" {
		t.Errorf("empty subject: got %q", got)
	}
	s := Subject{Reading: &types.SensorReading{DeviceID: "ESP32-007"}}
	if got := s.DeviceID(); got != "ESP32-007" {
		t.Errorf("got %q, want ESP32-007", got)
	}
}
