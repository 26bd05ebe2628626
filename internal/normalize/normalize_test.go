package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 14, 22, 30, 0, 0, time.UTC)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	return payload
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"physical", `{"physical_health":{"summary":{}}}`, KindPhysical},
		{"sleep", `{"sleep":{"summary":{}}}`, KindSleep},
		{"sleep health", `{"sleep_health":{"summary":{}}}`, KindSleep},
		{"body", `{"body":{"summary":{}}}`, KindBody},
		{"physical wins over sleep", `{"sleep_health":{"summary":{}},"physical_health":{"summary":{}}}`, KindPhysical},
		{"sleep wins over body", `{"body":{"summary":{}},"sleep":{"summary":{}}}`, KindSleep},
		{"summary not an object", `{"physical_health":{"summary":5}}`, KindUnknown},
		{"nothing known", `{"user_id":"77"}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(decode(t, tt.raw)); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"physical":         KindPhysical,
		"physical_summary": KindPhysical,
		"PHYSICAL_HEALTH":  KindPhysical,
		"sleep_summary":    KindSleep,
		"sleep_health":     KindSleep,
		"body_summary":     KindBody,
		"activity_event":   KindPhysical,
		"":                 KindUnknown,
		"nutrition":        KindUnknown,
	}
	for in, want := range tests {
		if got := ParseKind(in); got != want {
			t.Errorf("ParseKind(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalizeStructuredPhysical(t *testing.T) {
	payload := decode(t, `{
		"user_id": "77",
		"physical_health": {"summary": {"physical_summary": {
			"distance": {"steps_int": 8321, "traveled_distance_meters_float": 6120.5},
			"calories": {"calories_expenditure_kcal_float": 410.2}
		}}}
	}`)

	p, kind, err := Normalize(payload, "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if kind != KindPhysical {
		t.Errorf("Expected physical, got %s", kind)
	}
	if p.Steps == nil || *p.Steps != 8321 {
		t.Errorf("Expected 8321 steps, got %v", p.Steps)
	}
	if p.Calories == nil || *p.Calories != 410 {
		t.Errorf("Expected 410 calories, got %v", p.Calories)
	}
	if p.DistanceMeters == nil || *p.DistanceMeters != 6120.5 {
		t.Errorf("Expected 6120.5 meters, got %v", p.DistanceMeters)
	}
	if p.SleepHours != nil {
		t.Errorf("Expected no sleep hours, got %v", *p.SleepHours)
	}
	if p.Date != "2025-03-14" {
		t.Errorf("Expected fallback date 2025-03-14, got %s", p.Date)
	}
}

func TestNormalizeFlatCalorieFallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"active_calories", `{"physical_health":{"summary":{"steps":10,"active_calories":300,"caloriesOut":2100}}}`, 300},
		{"activityCalories", `{"physical_health":{"summary":{"steps":10,"activityCalories":512}}}`, 512},
		{"caloriesOut", `{"physical_health":{"summary":{"steps":10,"caloriesOut":2200}}}`, 2200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := Normalize(decode(t, tt.raw), KindPhysical, fixedNow)
			if err != nil {
				t.Fatalf("Failed to normalize: %v", err)
			}
			if p.Calories == nil || *p.Calories != tt.want {
				t.Errorf("Expected %d calories, got %v", tt.want, p.Calories)
			}
		})
	}
}

func TestNormalizeMissingFieldStaysAbsent(t *testing.T) {
	p, _, err := Normalize(decode(t, `{"physical_health":{"summary":{"steps":4200}}}`), "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if p.Steps == nil || *p.Steps != 4200 {
		t.Errorf("Expected 4200 steps, got %v", p.Steps)
	}
	if p.Calories != nil {
		t.Errorf("Expected calories absent, got %d", *p.Calories)
	}
}

func TestNormalizeNonStructuredPhysical(t *testing.T) {
	payload := decode(t, `{"physical_health":{"summary":{"physical_summary":{
		"non_structured_data_array": [
			{"summary": {"steps": 6400}},
			{"summary": {"steps": 9999, "caloriesOut": 2250}},
			{"summary": {"steps": 1, "caloriesOut": 1}}
		]
	}}}}`)

	p, _, err := Normalize(payload, "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if p.Steps == nil || *p.Steps != 9999 {
		t.Errorf("Expected 9999 steps from the complete element, got %v", p.Steps)
	}
	if p.Calories == nil || *p.Calories != 2250 {
		t.Errorf("Expected 2250 calories from the complete element, got %v", p.Calories)
	}
}

func TestNormalizeNonStructuredPhysicalCombinesPartials(t *testing.T) {
	payload := decode(t, `{"physical_health":{"summary":{"physical_summary":{
		"non_structured_data_array": [
			{"summary": {"steps": 6400}},
			{"summary": {"caloriesOut": 2250}},
			{"summary": {"steps": 12}}
		]
	}}}}`)

	p, _, err := Normalize(payload, "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if p.Steps == nil || *p.Steps != 6400 {
		t.Errorf("Expected 6400 steps from first element, got %v", p.Steps)
	}
	if p.Calories == nil || *p.Calories != 2250 {
		t.Errorf("Expected 2250 calories from second element, got %v", p.Calories)
	}
}

func TestNormalizeSleepPaths(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"flat seconds", `{"sleep_health":{"summary":{"duration":27000}}}`, 7.5},
		{"structured seconds", `{"sleep_health":{"summary":{"sleep_summary":{"duration":{"sleep_duration_seconds_int":27000}}}}}`, 7.5},
		{"legacy sleep key", `{"sleep":{"summary":{"duration":25200}}}`, 7.0},
		{"minutes asleep", `{"sleep_health":{"summary":{"sleep_summary":{"non_structured_data_array":[{"minutesAsleep":435}]}}}}`, 7.3},
		{"milliseconds", `{"sleep_health":{"summary":{"non_structured_data_array":[{"duration":27000000}]}}}`, 7.5},
		{"rounding", `{"sleep_health":{"summary":{"duration":26999}}}`, 7.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, kind, err := Normalize(decode(t, tt.raw), "", fixedNow)
			if err != nil {
				t.Fatalf("Failed to normalize: %v", err)
			}
			if kind != KindSleep {
				t.Errorf("Expected sleep, got %s", kind)
			}
			if p.SleepHours == nil || *p.SleepHours != tt.want {
				t.Errorf("Expected %.1f hours, got %v", tt.want, p.SleepHours)
			}
			if p.Steps != nil || p.Calories != nil {
				t.Errorf("Expected no physical fields on a sleep payload")
			}
		})
	}
}

func TestNormalizeDateExtraction(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"top level date wins",
			`{"date":"2025-01-02","physical_health":{"summary":{"steps":1,"metadata":{"datetime_string":"2025-01-09T10:00:00Z"}}}}`,
			"2025-01-02",
		},
		{
			"physical metadata",
			`{"physical_health":{"summary":{"steps":1,"physical_summary":{"metadata":{"datetime_string":"2025-01-05T23:59:00.000000Z"}}}}}`,
			"2025-01-05",
		},
		{
			"physical before sleep",
			`{"physical_health":{"summary":{"steps":1,"metadata":{"datetime_string":"2025-01-06T00:00:00Z"}}},"sleep_health":{"summary":{"sleep_summary":{"metadata":{"datetime_string":"2025-01-07T00:00:00Z"}}}}}`,
			"2025-01-06",
		},
		{
			"vendor alternate sleep metadata",
			`{"sleep_health":{"summary":{"duration":3600,"sleep_summary":{"metadata":{"datetime_string":"2025-01-08T06:10:00-05:00"}}}}}`,
			"2025-01-08",
		},
		{
			"malformed timestamp falls back to now",
			`{"physical_health":{"summary":{"steps":1,"metadata":{"datetime_string":"yesterday"}}}}`,
			"2025-03-14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := Normalize(decode(t, tt.raw), "", fixedNow)
			if err != nil {
				t.Fatalf("Failed to normalize: %v", err)
			}
			if p.Date != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, p.Date)
			}
		})
	}
}

func TestNormalizeSource(t *testing.T) {
	payload := decode(t, `{"physical_health":{"summary":{"physical_summary":{
		"metadata": {"datetime_string":"2025-01-05T00:00:00Z","sources_of_data_array":["Garmin"]},
		"distance": {"steps_int": 10}
	}}}}`)

	p, _, err := Normalize(payload, "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if p.Source != "Garmin" {
		t.Errorf("Expected source Garmin, got %q", p.Source)
	}
}

func TestNormalizeNoSummaryFound(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		declared Kind
	}{
		{"declared physical without summary", `{"user_id":"5"}`, KindPhysical},
		{"empty physical summary", `{"physical_health":{"summary":{"physical_summary":{}}}}`, ""},
		{"sleep summary without duration", `{"sleep_health":{"summary":{"other":1}}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Normalize(decode(t, tt.raw), tt.declared, fixedNow)
			if !errors.Is(err, ErrNoSummaryFound) {
				t.Errorf("Expected ErrNoSummaryFound, got %v", err)
			}
		})
	}
}

func TestNormalizeUnknownAndBody(t *testing.T) {
	p, kind, err := Normalize(decode(t, `{"nutrition":{"summary":{}}}`), "", fixedNow)
	if err != nil {
		t.Fatalf("Expected no error for unknown payload, got %v", err)
	}
	if kind != KindUnknown || p.HasActivity() {
		t.Errorf("Expected unknown kind with no fields, got %s %+v", kind, p)
	}

	p, kind, err = Normalize(decode(t, `{"body_health":{"summary":{"body_summary":{"weight_kg":70}}}}`), "", fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize body payload: %v", err)
	}
	if kind != KindBody || p.HasActivity() {
		t.Errorf("Expected body kind with no activity fields, got %s %+v", kind, p)
	}
}

func TestMerge(t *testing.T) {
	steps, calories, otherSteps := 100, 200, 300
	hours := 6.5

	got := Merge(
		Partial{Date: "2025-01-01", Steps: &steps},
		Partial{Date: "2025-01-02", Steps: &otherSteps, Calories: &calories},
		Partial{SleepHours: &hours},
	)

	if got.Date != "2025-01-01" {
		t.Errorf("Expected first date, got %s", got.Date)
	}
	if *got.Steps != 100 {
		t.Errorf("Expected earlier steps to win, got %d", *got.Steps)
	}
	if got.Calories == nil || *got.Calories != 200 {
		t.Errorf("Expected calories filled from second partial, got %v", got.Calories)
	}
	if got.SleepHours == nil || *got.SleepHours != 6.5 {
		t.Errorf("Expected sleep hours filled from third partial, got %v", got.SleepHours)
	}
}

func TestHoursFromSeconds(t *testing.T) {
	tests := map[float64]float64{
		27000: 7.5,
		3600:  1.0,
		0:     0,
		5399:  1.5,
		5579:  1.5,
	}
	for in, want := range tests {
		if got := HoursFromSeconds(in); got != want {
			t.Errorf("HoursFromSeconds(%v): expected %v, got %v", in, want, got)
		}
	}
}

func TestDocumentVersion(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"top level number", `{"document_version":3}`, "3"},
		{"top level string", `{"document_version":"v7"}`, "v7"},
		{"metadata", `{"sleep_health":{"summary":{"sleep_summary":{"metadata":{"document_version":12}}}}}`, "12"},
		{"absent", `{"physical_health":{"summary":{"steps":1}}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DocumentVersion(decode(t, tt.raw)); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeDeclaredFlatResponse(t *testing.T) {
	p, kind, err := Normalize(decode(t, `{"steps":4000,"calories":150}`), KindPhysical, fixedNow)
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	if kind != KindPhysical {
		t.Errorf("Expected physical, got %s", kind)
	}
	if p.Steps == nil || *p.Steps != 4000 || p.Calories == nil || *p.Calories != 150 {
		t.Errorf("Expected 4000 steps and 150 calories, got %v and %v", p.Steps, p.Calories)
	}

	// Without a declared kind the root is not a summary
	if _, kind, _ := Normalize(decode(t, `{"steps":4000}`), "", fixedNow); kind != KindUnknown {
		t.Errorf("Expected unknown kind, got %s", kind)
	}
}
