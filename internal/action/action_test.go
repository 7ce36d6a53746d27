package action

import "testing"

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(string(k))
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, ok)
		}
	}
	if _, ok := ParseKind("add_expense"); ok {
		t.Error("kinds are case-sensitive")
	}
	if _, ok := ParseKind(""); ok {
		t.Error("empty string is not a kind")
	}
}

func TestValidate_OneOf(t *testing.T) {
	p := &Parsed{Kind: DeleteEvent, Data: map[string]any{"title_lookup": "dentista"}}
	if warnings := Validate(p); len(warnings) != 0 {
		t.Errorf("title_lookup satisfies the one-of group: %v", warnings)
	}

	p = &Parsed{Kind: UpdateEvent, Data: map[string]any{"date": "<amanha>"}}
	warnings := Validate(p)
	if len(warnings) == 0 {
		t.Error("expected a one-of warning for UPDATE_EVENT without event_id/title_lookup")
	}
}

func TestValidate_ReportRange(t *testing.T) {
	p := &Parsed{Kind: ReportSpending, Data: map[string]any{"range": "2025-07"}}
	if warnings := Validate(p); len(warnings) != 0 {
		t.Errorf("month period literal is valid: %v", warnings)
	}
}

func TestIsDateExpression(t *testing.T) {
	valid := []string{
		"2025-08-29", "2025-08", "2025",
		"<hoje>", "<amanha>", "<depois-de-amanha>",
		"<proxima-SEG>", "<proxima-TER>", "<proxima-QUA>", "<proxima-QUI>", "<proxima-SEX>",
		"<proximo-SAB>", "<proximo-DOM>",
	}
	for _, s := range valid {
		if !IsDateExpression(s) {
			t.Errorf("%q should be a valid date expression", s)
		}
	}

	invalid := []string{
		"amanhã", "<ontem>", "<proxima-SAB>", "<proximo-SEG>",
		"29/08/2025", "2025-8-29", "",
	}
	for _, s := range invalid {
		if IsDateExpression(s) {
			t.Errorf("%q should not be a valid date expression", s)
		}
	}
}
