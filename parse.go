package omniforge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModelAction is the parsed form of one model response in the reasoning loop.
// At most one terminal form is set: IsFinal, a clarification question, or an
// action naming a tool.
type ModelAction struct {
	Thought               string
	Action                string
	ActionInput           map[string]any
	IsFinal               bool
	FinalAnswer           string
	ClarificationQuestion string
}

// rawModelAction mirrors the wire JSON before normalization.
type rawModelAction struct {
	Thought               string          `json:"thought"`
	Action                string          `json:"action"`
	ActionInput           json.RawMessage `json:"action_input"`
	IsFinal               bool            `json:"is_final"`
	FinalAnswer           string          `json:"final_answer"`
	ClarificationQuestion string          `json:"clarification_question"`
}

// ParseModelAction extracts and normalizes the action JSON from a model
// response. The model may wrap the object in code fences or precede it with
// prose; the first balanced object wins.
func ParseModelAction(raw string) (ModelAction, error) {
	body := stripFences(strings.TrimSpace(raw))
	obj, err := firstJSONObject(body)
	if err != nil {
		return ModelAction{}, err
	}

	var r rawModelAction
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return ModelAction{}, fmt.Errorf("malformed action JSON: %w", err)
	}

	a := ModelAction{
		Thought:               strings.TrimSpace(r.Thought),
		Action:                strings.TrimSpace(r.Action),
		IsFinal:               r.IsFinal,
		FinalAnswer:           strings.TrimSpace(r.FinalAnswer),
		ClarificationQuestion: strings.TrimSpace(r.ClarificationQuestion),
	}

	// is_final wins over any action the model also emitted.
	if a.IsFinal {
		a.Action = ""
		return a, nil
	}

	if a.Action != "" {
		input, err := normalizeActionInput(r.ActionInput)
		if err != nil {
			return ModelAction{}, err
		}
		a.ActionInput = input
	}
	return a, nil
}

// normalizeActionInput coerces the wire value into a parameter map: objects
// pass through, arrays become {items: …}, primitives become {value: …}, and
// null or absent becomes nil.
func normalizeActionInput(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed action_input: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		return map[string]any{"items": t}, nil
	default:
		return map[string]any{"value": t}, nil
	}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// firstJSONObject returns the first balanced top-level {…} in s, honouring
// string literals and escapes.
func firstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in model response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in model response")
}
