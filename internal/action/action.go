// Package action defines the structured action protocol spoken between
// the relay and the language model: the closed set of action kinds, the
// per-kind field schema, and the codec for the fenced JSON block the
// model embeds in its replies.
package action

import (
	"fmt"
	"regexp"
)

// Kind enumerates the actions the model may emit. The set is closed;
// anything else in an action block makes the block non-actionable.
type Kind string

const (
	ScheduleEvent  Kind = "SCHEDULE_EVENT"
	ListEvents     Kind = "LIST_EVENTS"
	UpdateEvent    Kind = "UPDATE_EVENT"
	DeleteEvent    Kind = "DELETE_EVENT"
	AddExpense     Kind = "ADD_EXPENSE"
	AddIncome      Kind = "ADD_INCOME"
	ReportSpending Kind = "REPORT_SPENDING"
)

// Kinds lists every recognized kind.
func Kinds() []Kind {
	return []Kind{
		ScheduleEvent, ListEvents, UpdateEvent, DeleteEvent,
		AddExpense, AddIncome, ReportSpending,
	}
}

// ParseKind maps a raw string to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case ScheduleEvent, ListEvents, UpdateEvent, DeleteEvent,
		AddExpense, AddIncome, ReportSpending:
		return Kind(s), true
	}
	return "", false
}

// Parsed is a structurally valid action extracted from a model reply.
// Confidence is nil when the model reported none, or reported a value
// outside [0,1] (unknown, not an error).
type Parsed struct {
	Kind       Kind
	Data       map[string]any
	Confidence *float64
	Notes      string
}

// schema describes the field contract for one kind. Required fields
// must all be present; when OneOf is non-empty at least one of those
// fields must be present instead.
type schema struct {
	Required []string
	OneOf    []string
}

var schemas = map[Kind]schema{
	ScheduleEvent:  {Required: []string{"title", "date", "start_time"}},
	ListEvents:     {Required: []string{"date"}},
	UpdateEvent:    {OneOf: []string{"event_id", "title_lookup"}},
	DeleteEvent:    {OneOf: []string{"event_id", "title_lookup"}},
	AddExpense:     {Required: []string{"amount", "currency"}},
	AddIncome:      {Required: []string{"amount", "currency"}},
	ReportSpending: {Required: []string{"range"}},
}

// Validate checks the parsed action against its kind's schema. Missing
// fields are warnings, not errors: the model may legitimately have
// asked a clarifying question instead of completing the action, and
// reply delivery must never be blocked on schema completeness.
func Validate(p *Parsed) []string {
	if p == nil {
		return nil
	}
	sc, ok := schemas[p.Kind]
	if !ok {
		return []string{fmt.Sprintf("no schema for action kind %q", p.Kind)}
	}

	var warnings []string
	for _, field := range sc.Required {
		if _, present := p.Data[field]; !present {
			warnings = append(warnings, fmt.Sprintf("%s: missing required field %q", p.Kind, field))
		}
	}
	if len(sc.OneOf) > 0 {
		found := false
		for _, field := range sc.OneOf {
			if _, present := p.Data[field]; present {
				found = true
				break
			}
		}
		if !found {
			warnings = append(warnings, fmt.Sprintf("%s: needs one of %v", p.Kind, sc.OneOf))
		}
	}

	for _, field := range []string{"date", "range", "range_start", "range_end"} {
		if v, present := p.Data[field]; present {
			if s, isStr := v.(string); isStr && !IsDateExpression(s) {
				warnings = append(warnings, fmt.Sprintf("%s: field %q is not a recognized date expression: %q", p.Kind, field, s))
			}
		}
	}

	return warnings
}

// Date expressions are either ISO literals (day, month or year
// granularity) or relative placeholders the downstream executor
// resolves against a reference time and timezone. This layer only
// recognizes them; it never resolves them.
var (
	isoDatePattern    = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)
	weekdayPattern    = regexp.MustCompile(`^<proxima-(SEG|TER|QUA|QUI|SEX)>$|^<proximo-(SAB|DOM)>$`)
	fixedPlaceholders = map[string]bool{
		"<hoje>":            true,
		"<amanha>":          true,
		"<depois-de-amanha>": true,
	}
)

// IsDateExpression reports whether s is a valid DateExpression: an ISO
// YYYY-MM-DD / YYYY-MM / YYYY literal or a relative placeholder.
func IsDateExpression(s string) bool {
	if fixedPlaceholders[s] {
		return true
	}
	if weekdayPattern.MatchString(s) {
		return true
	}
	return isoDatePattern.MatchString(s)
}
