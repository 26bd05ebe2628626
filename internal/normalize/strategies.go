package normalize

// strategy extracts what it can from a located summary object, or returns
// nil when its shape does not apply. Strategies are pure.
type strategy func(summary map[string]any) *Partial

// physicalStrategies are tried in order until steps and calories are known
var physicalStrategies = []strategy{
	flatPhysical,
	structuredPhysical,
	nonStructuredPhysical,
}

// sleepStrategies are tried in order until sleep hours are known
var sleepStrategies = []strategy{
	flatSleep,
	structuredSleep,
	nonStructuredSleep,
}

var calorieKeys = []string{"active_calories", "activityCalories", "caloriesOut", "calories"}

// flatPhysical reads summary.steps and the vendor calorie fields
func flatPhysical(summary map[string]any) *Partial {
	p := &Partial{
		Steps:          intAt(summary, "steps"),
		DistanceMeters: floatAt(summary, "distance_meters"),
	}
	for _, key := range calorieKeys {
		if p.Calories = intAt(summary, key); p.Calories != nil {
			break
		}
	}
	if !p.HasActivity() {
		return nil
	}
	return p
}

// structuredPhysical reads the aggregator's typed physical_summary object
func structuredPhysical(summary map[string]any) *Partial {
	ps := mapAt(summary, "physical_summary")
	if ps == nil {
		return nil
	}

	p := &Partial{
		Steps:          intAt(ps, "distance", "steps_int"),
		Calories:       intAt(ps, "calories", "calories_expenditure_kcal_float"),
		DistanceMeters: floatAt(ps, "distance", "traveled_distance_meters_float"),
	}
	if p.Calories == nil {
		p.Calories = intAt(ps, "calories", "calories_net_active_kcal_float")
	}
	if !p.HasActivity() {
		return nil
	}
	return p
}

// nonStructuredPhysical scans vendor data arrays for elements carrying a
// nested summary. The first element with both steps and calories wins so
// the two values describe the same record. Without one, fields are taken
// from the earliest element that has them.
func nonStructuredPhysical(summary map[string]any) *Partial {
	var found []*Partial
	for _, elem := range nonStructuredElements(summary, "physical_summary") {
		p := flatPhysical(mapAt(elem, "summary"))
		if p == nil {
			continue
		}
		if p.Steps != nil && p.Calories != nil {
			return p
		}
		found = append(found, p)
	}

	var out Partial
	for _, p := range found {
		out.fill(p)
	}
	if !out.HasActivity() {
		return nil
	}
	return &out
}

// flatSleep reads summary.duration in seconds
func flatSleep(summary map[string]any) *Partial {
	p := &Partial{SleepEfficiency: intAt(summary, "efficiency")}
	if secs := floatAt(summary, "duration"); secs != nil {
		h := HoursFromSeconds(*secs)
		p.SleepHours = &h
	}
	if !p.HasActivity() {
		return nil
	}
	return p
}

// structuredSleep reads the aggregator's typed sleep_summary object
func structuredSleep(summary map[string]any) *Partial {
	ss := mapAt(summary, "sleep_summary")
	if ss == nil {
		return nil
	}

	p := &Partial{SleepEfficiency: intAt(ss, "scores", "sleep_efficiency_1_100_score_int")}
	if secs := floatAt(ss, "duration", "sleep_duration_seconds_int"); secs != nil {
		h := HoursFromSeconds(*secs)
		p.SleepHours = &h
	}
	if !p.HasActivity() {
		return nil
	}
	return p
}

// nonStructuredSleep scans vendor sleep logs for minutesAsleep or a
// millisecond duration, stopping at the first match
func nonStructuredSleep(summary map[string]any) *Partial {
	for _, elem := range nonStructuredElements(summary, "sleep_summary") {
		for _, candidate := range []map[string]any{elem, mapAt(elem, "summary")} {
			if candidate == nil {
				continue
			}
			var secs *float64
			if mins := floatAt(candidate, "minutesAsleep"); mins != nil {
				s := *mins * 60
				secs = &s
			} else if ms := floatAt(candidate, "duration"); ms != nil {
				s := *ms / 1000
				secs = &s
			}
			if secs == nil {
				continue
			}
			h := HoursFromSeconds(*secs)
			return &Partial{
				SleepHours:      &h,
				SleepEfficiency: intAt(candidate, "efficiency"),
			}
		}
	}
	return nil
}

// nonStructuredElements collects the object elements of the vendor data
// arrays found beside or inside the typed summary
func nonStructuredElements(summary map[string]any, typedKey string) []map[string]any {
	var elems []map[string]any
	for _, arr := range [][]any{
		sliceAt(summary, "non_structured_data_array"),
		sliceAt(summary, typedKey, "non_structured_data_array"),
	} {
		for _, v := range arr {
			if m, ok := v.(map[string]any); ok {
				elems = append(elems, m)
			}
		}
	}
	return elems
}

// runStrategies merges strategy results in order until done reports true
func runStrategies(summary map[string]any, strategies []strategy, done func(*Partial) bool) Partial {
	var out Partial
	for _, s := range strategies {
		out.fill(s(summary))
		if done(&out) {
			break
		}
	}
	return out
}
