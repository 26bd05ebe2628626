package normalize

// DateLayout is the format of normalized activity dates
const DateLayout = "2006-01-02"

// Partial is the canonical activity extracted from one payload. A nil field
// was not present in the payload and must not overwrite stored data.
type Partial struct {
	Date            string
	Steps           *int
	Calories        *int
	DistanceMeters  *float64
	SleepHours      *float64
	SleepEfficiency *int
	Source          string
}

// HasActivity reports whether any activity field was extracted
func (p Partial) HasActivity() bool {
	return p.Steps != nil || p.Calories != nil || p.DistanceMeters != nil ||
		p.SleepHours != nil || p.SleepEfficiency != nil
}

// fill copies fields of other that are still missing in p
func (p *Partial) fill(other *Partial) {
	if other == nil {
		return
	}
	if p.Date == "" {
		p.Date = other.Date
	}
	if p.Steps == nil {
		p.Steps = other.Steps
	}
	if p.Calories == nil {
		p.Calories = other.Calories
	}
	if p.DistanceMeters == nil {
		p.DistanceMeters = other.DistanceMeters
	}
	if p.SleepHours == nil {
		p.SleepHours = other.SleepHours
	}
	if p.SleepEfficiency == nil {
		p.SleepEfficiency = other.SleepEfficiency
	}
	if p.Source == "" {
		p.Source = other.Source
	}
}

// Merge combines partials field by field. Earlier partials win.
func Merge(partials ...Partial) Partial {
	var out Partial
	for i := range partials {
		out.fill(&partials[i])
	}
	return out
}
