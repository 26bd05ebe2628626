package normalize

import "strings"

// Kind is the category of an inbound payload
type Kind string

const (
	KindPhysical Kind = "physical"
	KindSleep    Kind = "sleep"
	KindBody     Kind = "body"
	KindUnknown  Kind = "unknown"
)

// ParseKind maps a declared payload type such as "physical_summary" or
// "sleep_health" to a Kind
func ParseKind(declared string) Kind {
	s := strings.ToLower(strings.TrimSpace(declared))
	s = strings.TrimSuffix(s, "_summary")
	s = strings.TrimSuffix(s, "_health")
	s = strings.TrimSuffix(s, "_event")

	switch s {
	case "physical", "activity":
		return KindPhysical
	case "sleep":
		return KindSleep
	case "body":
		return KindBody
	}
	return KindUnknown
}

// DeclaredKind reads the caller-declared kind from the payload's type or
// data_structure field
func DeclaredKind(payload map[string]any) Kind {
	for _, key := range []string{"data_structure", "type"} {
		if k := ParseKind(stringAt(payload, key)); k != KindUnknown {
			return k
		}
	}
	return KindUnknown
}

// Classify infers the kind from the known top-level keys, in priority order
// physical, sleep, body
func Classify(payload map[string]any) Kind {
	switch {
	case mapAt(payload, "physical_health", "summary") != nil:
		return KindPhysical
	case mapAt(payload, "sleep", "summary") != nil, mapAt(payload, "sleep_health", "summary") != nil:
		return KindSleep
	case mapAt(payload, "body", "summary") != nil, mapAt(payload, "body_health", "summary") != nil:
		return KindBody
	}
	return KindUnknown
}

// summaryPaths lists where each kind's summary object may live in a webhook body
var summaryPaths = map[Kind][][]string{
	KindPhysical: {
		{"physical_health", "summary"},
		{"physical", "summary"},
	},
	KindSleep: {
		{"sleep_health", "summary"},
		{"sleep", "summary"},
	},
	KindBody: {
		{"body_health", "summary"},
		{"body", "summary"},
	},
}

var bareSummaryKeys = map[Kind]string{
	KindPhysical: "physical_summary",
	KindSleep:    "sleep_summary",
	KindBody:     "body_summary",
}

// locateSummary finds the summary object for a kind, or nil. Per-day API
// responses carry the summary at the top level instead of under a wrapper.
func locateSummary(payload map[string]any, kind Kind) map[string]any {
	for _, path := range summaryPaths[kind] {
		if s := mapAt(payload, path...); s != nil {
			return s
		}
	}
	if key, ok := bareSummaryKeys[kind]; ok && mapAt(payload, key) != nil {
		return payload
	}
	if s := mapAt(payload, "summary"); s != nil {
		return s
	}
	return nil
}
