package orchestration

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ActionKind classifies what an agent's turn asks the orchestrator to do.
type ActionKind string

const (
	ActionRespond  ActionKind = "respond"
	ActionHandOff  ActionKind = "hand_off"
	ActionComplete ActionKind = "complete"
)

// ActionSource records which detection channel produced an action. The
// handoff strategy uses it to discard text-derived handoffs when the flow
// requires the explicit handoff tool.
type ActionSource int

const (
	// SourceDefault: plain text, no directive detected.
	SourceDefault ActionSource = iota
	// SourceEnvelope: a JSON action envelope embedded in the reply.
	SourceEnvelope
	// SourceText: a natural-language cue matched by regex.
	SourceText
	// SourceTool: the agent invoked an internal control tool.
	SourceTool
	// SourceRule: a deterministic flow rule fired on the reply text.
	SourceRule
)

// AgentAction is the parsed directive of one agent turn.
type AgentAction struct {
	Kind    ActionKind
	Message string
	Target  string // hand_off only
	Source  ActionSource
}

// Respond builds a plain-response action.
func Respond(message string) AgentAction {
	return AgentAction{Kind: ActionRespond, Message: message}
}

var (
	// Natural-language handoff cue: "hand off to billing", "transfer to the
	// support agent", "route this to @triage". The trailing capture is the
	// candidate target, resolved fuzzily against the roster.
	handoffCueRe = regexp.MustCompile(`(?i)\b(?:hand[\s-]*off|handoff|transfer|delegate|connect|route)\b(?:[^A-Za-z0-9@]+(?:to|with)\b)?[^A-Za-z0-9@]*(?:agent|assistant|team|specialist|@)?\s*(?P<target>[A-Za-z0-9_.\- ]{1,64})`)

	// Natural-language completion cue.
	completeCueRe = regexp.MustCompile(`(?i)\b(done|complete|completed|finish(?:ed)?|that'?s all|all set|nothing further)\b`)

	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// ParseAction interprets an agent's text reply. Detection order: JSON action
// envelope (whole reply, fenced block, or embedded object), natural-language
// handoff cue, natural-language completion cue, plain response.
func ParseAction(content string) AgentAction {
	trimmed := strings.TrimSpace(content)

	if act, ok := parseEnvelope(trimmed); ok {
		return act
	}

	if m := handoffCueRe.FindStringSubmatch(trimmed); m != nil {
		target := trimTargetEdges(m[handoffCueRe.SubexpIndex("target")])
		if target != "" {
			return AgentAction{Kind: ActionHandOff, Target: target, Source: SourceText}
		}
	}

	if completeCueRe.MatchString(trimmed) {
		return AgentAction{Kind: ActionComplete, Message: trimmed, Source: SourceText}
	}

	return AgentAction{Kind: ActionRespond, Message: trimmed, Source: SourceDefault}
}

// parseEnvelope tries the three envelope shapes in order: the whole reply as
// JSON, a fenced code block, then a brace-matched object embedded in mixed
// content (only accepted when it carries an "action" key).
func parseEnvelope(content string) (AgentAction, bool) {
	if obj, ok := decodeObject(content); ok {
		if act, ok := envelopeAction(obj); ok {
			return act, true
		}
	}

	for _, m := range fencedJSONRe.FindAllStringSubmatch(content, -1) {
		if obj, ok := decodeObject(m[1]); ok {
			if act, ok := envelopeAction(obj); ok {
				return act, true
			}
		}
	}

	for _, candidate := range embeddedObjects(content) {
		if !strings.Contains(candidate, `"action"`) {
			continue
		}
		if obj, ok := decodeObject(candidate); ok {
			if act, ok := envelopeAction(obj); ok {
				return act, true
			}
		}
	}

	return AgentAction{}, false
}

// decodeObject unmarshals a JSON object, repairing near-JSON first when the
// strict parse fails. Models routinely emit single quotes and trailing commas.
func decodeObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// embeddedObjects extracts balanced top-level {...} spans from mixed content,
// skipping braces inside string literals.
func embeddedObjects(content string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, content[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// envelopeAction maps a decoded envelope object to an action, honoring the
// accepted field aliases for each action kind.
func envelopeAction(obj map[string]any) (AgentAction, bool) {
	kind, _ := obj["action"].(string)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "respond", "reply":
		return AgentAction{
			Kind:    ActionRespond,
			Message: firstString(obj, "message", "response", "text"),
			Source:  SourceEnvelope,
		}, true
	case "hand_off", "handoff":
		target := firstString(obj, "to", "target", "target_agent")
		if target == "" {
			return AgentAction{}, false
		}
		return AgentAction{
			Kind:    ActionHandOff,
			Target:  target,
			Message: firstString(obj, "message", "note", "reason"),
			Source:  SourceEnvelope,
		}, true
	case "complete", "done":
		return AgentAction{
			Kind:    ActionComplete,
			Message: firstString(obj, "message", "response", "text"),
			Source:  SourceEnvelope,
		}, true
	}
	return AgentAction{}, false
}

// trimTargetEdges strips surrounding whitespace, at-signs, and punctuation
// from a natural-language handoff target.
func trimTargetEdges(target string) string {
	target = strings.TrimSpace(target)
	return strings.TrimFunc(target, func(r rune) bool {
		if r == '@' {
			return true
		}
		return r < 128 && strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?[\\]^_`{|}~", r)
	})
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
