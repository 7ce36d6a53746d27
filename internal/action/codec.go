package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is a model reply split into the conversational text and the
// optional structured action it carried.
type Reply struct {
	DisplayText string
	Action      *Parsed
}

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// blockEnvelope is the wire shape of the fenced action block.
type blockEnvelope struct {
	Action     string         `json:"action"`
	Data       map[string]any `json:"data"`
	Confidence *float64       `json:"confidence,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// ParseReply splits a raw model reply into display text and an optional
// action. Only the first ```json fenced block is honored; everything
// before it (trimmed) is the display text. A reply without a block is a
// normal informational exchange, not an error. A block that fails to
// parse, or names an unrecognized action kind, is discarded with a
// warning; reply delivery is never blocked on a malformed block.
func ParseReply(raw string) (Reply, []string) {
	block, display, found := extractBlock(raw)
	if !found {
		return Reply{DisplayText: strings.TrimSpace(raw)}, nil
	}

	var warnings []string

	var env blockEnvelope
	if err := json.Unmarshal([]byte(block), &env); err != nil {
		warnings = append(warnings, fmt.Sprintf("action block is not valid JSON: %v", err))
		return Reply{DisplayText: display}, warnings
	}

	kind, ok := ParseKind(env.Action)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unrecognized action kind %q", env.Action))
		return Reply{DisplayText: display}, warnings
	}

	data := env.Data
	if data == nil {
		data = make(map[string]any)
	}
	// An action key nested inside data would let blocks reference
	// themselves; strip it rather than rejecting the whole block.
	if _, nested := data["action"]; nested {
		delete(data, "action")
		warnings = append(warnings, "stripped nested \"action\" key from data")
	}

	confidence := env.Confidence
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		confidence = nil // out of range means unknown, not an error
	}

	parsed := &Parsed{
		Kind:       kind,
		Data:       data,
		Confidence: confidence,
		Notes:      env.Notes,
	}
	warnings = append(warnings, Validate(parsed)...)

	return Reply{DisplayText: display, Action: parsed}, warnings
}

// EncodeBlock renders a parsed action back into the documented fenced
// block shape. ParseReply(EncodeBlock(p)) yields p again.
func EncodeBlock(p *Parsed) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil action")
	}
	env := blockEnvelope{
		Action:     string(p.Kind),
		Data:       p.Data,
		Confidence: p.Confidence,
		Notes:      p.Notes,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal action block: %w", err)
	}
	return fenceOpen + "\n" + string(body) + "\n" + fenceClose, nil
}

// extractBlock locates the first json-tagged fenced block. It returns
// the block body, the trimmed text preceding the fence, and whether a
// complete block was found. An unterminated fence does not count as a
// block; the whole reply stays display text.
func extractBlock(raw string) (block, display string, found bool) {
	start := strings.Index(raw, fenceOpen)
	if start < 0 {
		return "", "", false
	}

	rest := raw[start+len(fenceOpen):]
	// Fence content begins on the next line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}

	end := strings.Index(rest, fenceClose)
	if end < 0 {
		return "", "", false
	}

	return strings.TrimSpace(rest[:end]), strings.TrimSpace(raw[:start]), true
}
