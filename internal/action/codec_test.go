package action

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseReply_NoBlock(t *testing.T) {
	raw := "  Que dia sombrio e maravilhoso.  "
	reply, warnings := ParseReply(raw)

	if reply.Action != nil {
		t.Errorf("expected nil action, got %+v", reply.Action)
	}
	if reply.DisplayText != "Que dia sombrio e maravilhoso." {
		t.Errorf("unexpected display text: %q", reply.DisplayText)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestParseReply_Expense(t *testing.T) {
	raw := "Anotado. Mais um tributo ao consumismo.\n" +
		"```json\n" +
		`{"action":"ADD_EXPENSE","data":{"date":"<hoje>","amount":464.30,"currency":"BRL","description":"Mercado","category":"Mercado"}}` +
		"\n```"

	reply, warnings := ParseReply(raw)

	if reply.DisplayText != "Anotado. Mais um tributo ao consumismo." {
		t.Errorf("unexpected display text: %q", reply.DisplayText)
	}
	if reply.Action == nil {
		t.Fatal("expected an action")
	}
	if reply.Action.Kind != AddExpense {
		t.Errorf("expected ADD_EXPENSE, got %s", reply.Action.Kind)
	}
	if got := reply.Action.Data["amount"]; got != 464.30 {
		t.Errorf("amount not preserved: %v", got)
	}
	if got := reply.Action.Data["date"]; got != "<hoje>" {
		t.Errorf("date not preserved: %v", got)
	}
	if len(warnings) != 0 {
		t.Errorf("complete expense should produce no warnings, got %v", warnings)
	}
}

func TestParseReply_MalformedBlock(t *testing.T) {
	raw := "Aqui está.\n```json\n{not json at all\n```"
	reply, warnings := ParseReply(raw)

	if reply.Action != nil {
		t.Errorf("malformed block must not produce an action: %+v", reply.Action)
	}
	if reply.DisplayText != "Aqui está." {
		t.Errorf("display text should survive a malformed block: %q", reply.DisplayText)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning for the malformed block")
	}
}

func TestParseReply_UnknownKind(t *testing.T) {
	raw := "Ok.\n```json\n{\"action\":\"LAUNCH_MISSILES\",\"data\":{}}\n```"
	reply, warnings := ParseReply(raw)

	if reply.Action != nil {
		t.Error("unknown kind must not produce an action")
	}
	if len(warnings) == 0 || !strings.Contains(warnings[0], "LAUNCH_MISSILES") {
		t.Errorf("expected unknown-kind warning, got %v", warnings)
	}
}

func TestParseReply_UnterminatedFence(t *testing.T) {
	raw := "Texto.\n```json\n{\"action\":\"LIST_EVENTS\"}"
	reply, _ := ParseReply(raw)

	if reply.Action != nil {
		t.Error("unterminated fence is not a block")
	}
	if !strings.Contains(reply.DisplayText, "Texto.") {
		t.Errorf("unexpected display text: %q", reply.DisplayText)
	}
}

func TestParseReply_FirstBlockWins(t *testing.T) {
	raw := "Dois blocos.\n" +
		"```json\n{\"action\":\"LIST_EVENTS\",\"data\":{\"date\":\"<hoje>\"}}\n```\n" +
		"```json\n{\"action\":\"ADD_INCOME\",\"data\":{\"amount\":1,\"currency\":\"BRL\"}}\n```"

	reply, _ := ParseReply(raw)
	if reply.Action == nil || reply.Action.Kind != ListEvents {
		t.Fatalf("expected first block (LIST_EVENTS), got %+v", reply.Action)
	}
}

func TestParseReply_NestedActionKeyStripped(t *testing.T) {
	raw := "```json\n{\"action\":\"LIST_EVENTS\",\"data\":{\"date\":\"<amanha>\",\"action\":\"LIST_EVENTS\"}}\n```"
	reply, warnings := ParseReply(raw)

	if reply.Action == nil {
		t.Fatal("expected an action")
	}
	if _, nested := reply.Action.Data["action"]; nested {
		t.Error("nested action key must be stripped")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "nested") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a strip warning, got %v", warnings)
	}
}

func TestParseReply_ConfidenceOutOfRange(t *testing.T) {
	raw := "```json\n{\"action\":\"LIST_EVENTS\",\"data\":{\"date\":\"2025-01-01\"},\"confidence\":3.5}\n```"
	reply, _ := ParseReply(raw)

	if reply.Action == nil {
		t.Fatal("expected an action")
	}
	if reply.Action.Confidence != nil {
		t.Errorf("out-of-range confidence should be unknown, got %v", *reply.Action.Confidence)
	}
}

func TestParseReply_MissingRequiredIsWarningOnly(t *testing.T) {
	raw := "Quanto custou?\n```json\n{\"action\":\"ADD_EXPENSE\",\"data\":{\"currency\":\"BRL\"}}\n```"
	reply, warnings := ParseReply(raw)

	if reply.Action == nil {
		t.Fatal("missing fields must not discard the action")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "amount") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-amount warning, got %v", warnings)
	}
}

func TestEncodeBlock_RoundTrip(t *testing.T) {
	conf := 0.92
	original := &Parsed{
		Kind: ScheduleEvent,
		Data: map[string]any{
			"title":      "Consulta",
			"date":       "<proxima-QUA>",
			"start_time": "14:30",
			"reminders":  []any{15.0, 60.0},
		},
		Confidence: &conf,
		Notes:      "usuário não informou local",
	}

	block, err := EncodeBlock(original)
	if err != nil {
		t.Fatal(err)
	}

	reply, _ := ParseReply("Agendado.\n" + block)
	if reply.Action == nil {
		t.Fatal("round trip lost the action")
	}
	if !reflect.DeepEqual(reply.Action, original) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", reply.Action, original)
	}
}
