// Package normalize turns vendor-specific aggregator payloads into one
// canonical partial daily activity.
//
// Vendors nest the same values at different depths. Extraction is a fixed,
// ordered list of small strategies per payload kind; each one fills only the
// fields that are still missing.
package normalize

import (
	"errors"
	"time"
)

// ErrNoSummaryFound is returned when a recognized payload kind carries no
// summary object or no extractable values
var ErrNoSummaryFound = errors.New("no summary found in payload")

// metadataPaths are searched in order for metadata.datetime_string and the
// data sources. Physical paths come before sleep paths.
var metadataPaths = [][]string{
	{"physical_health", "summary", "physical_summary", "metadata"},
	{"physical_health", "summary", "metadata"},
	{"physical_health", "metadata"},
	{"physical_summary", "metadata"},
	{"sleep_health", "summary", "sleep_summary", "metadata"},
	{"sleep_health", "summary", "metadata"},
	{"sleep", "summary", "metadata"},
	{"sleep_health", "metadata"},
	{"sleep_summary", "metadata"},
	{"body_health", "summary", "body_summary", "metadata"},
	{"body_health", "summary", "metadata"},
	{"body", "summary", "metadata"},
	{"body_summary", "metadata"},
	{"metadata"},
}

// Normalize extracts a partial activity from a decoded payload. When
// declared is empty or unknown the kind is inferred from the payload keys.
// A payload of unknown kind yields an empty partial and KindUnknown. Body
// payloads yield a partial without activity fields. A declared kind whose
// summary is not found under a known key is read from the payload root.
func Normalize(payload map[string]any, declared Kind, now time.Time) (Partial, Kind, error) {
	kind := declared
	if kind == "" || kind == KindUnknown {
		kind = Classify(payload)
	}

	out := Partial{
		Date:   ExtractDate(payload, now),
		Source: extractSource(payload),
	}
	if kind == KindUnknown {
		return out, kind, nil
	}

	summary := locateSummary(payload, kind)
	if summary == nil && kind == declared {
		// Per-day API responses may be the summary itself
		summary = payload
	}
	if summary == nil {
		return out, kind, ErrNoSummaryFound
	}

	var extracted Partial
	switch kind {
	case KindPhysical:
		extracted = runStrategies(summary, physicalStrategies, func(p *Partial) bool {
			return p.Steps != nil && p.Calories != nil
		})
	case KindSleep:
		extracted = runStrategies(summary, sleepStrategies, func(p *Partial) bool {
			return p.SleepHours != nil
		})
	case KindBody:
		return out, kind, nil
	}

	if !extracted.HasActivity() {
		return out, kind, ErrNoSummaryFound
	}
	out.fill(&extracted)
	return out, kind, nil
}

// ExtractDate returns the activity date of a payload: an explicit top-level
// date, then the first metadata.datetime_string, then now in UTC
func ExtractDate(payload map[string]any, now time.Time) string {
	if d, ok := datePortion(stringAt(payload, "date")); ok {
		return d
	}
	for _, path := range metadataPaths {
		if d, ok := datePortion(stringAt(mapAt(payload, path...), "datetime_string")); ok {
			return d
		}
	}
	return now.UTC().Format(DateLayout)
}

// DocumentVersion returns the aggregator's document version of a payload,
// from the top level or the first metadata object carrying one
func DocumentVersion(payload map[string]any) string {
	if v := scalarString(payload, "document_version"); v != "" {
		return v
	}
	for _, path := range metadataPaths {
		if v := scalarString(mapAt(payload, path...), "document_version"); v != "" {
			return v
		}
	}
	return ""
}

func extractSource(payload map[string]any) string {
	if s := stringAt(payload, "data_source"); s != "" {
		return s
	}
	for _, path := range metadataPaths {
		md := mapAt(payload, path...)
		if md == nil {
			continue
		}
		for _, v := range sliceAt(md, "sources_of_data_array") {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
		if s := stringAt(md, "data_source"); s != "" {
			return s
		}
	}
	return ""
}
