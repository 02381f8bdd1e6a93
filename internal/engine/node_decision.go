package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/pkg/schema"
)

// executeDecision selects exactly one output label. Rule decisions evaluate
// output conditions in declared order; llm decisions issue a classification
// call constrained to the declared labels. Either way the unchosen paths are
// pruned.
func (fr *flowRun) executeDecision(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	value := fr.primaryInput(node.ID)

	var (
		label string
		err   error
	)
	switch node.Decision {
	case "", "rules":
		label, err = fr.decideByRules(ctx, node, value)
	case "llm":
		label, err = fr.decideByModel(ctx, node, value)
	default:
		err = schema.NewErrorf(schema.ErrCodeValidation, "unknown decision mode %q", node.Decision)
	}
	if err != nil {
		return nil, err
	}

	fr.rt.emit(ctx, fr.ec, schema.EventDecisionMade, node.ID, "", map[string]any{"label": label})
	return &firing{node: node, outputs: map[string]any{label: value}}, nil
}

// decideByRules picks the first output whose condition holds. An output with
// no condition is the catch-all; validation guarantees it is declared last.
func (fr *flowRun) decideByRules(ctx context.Context, node *schema.FlowNode, value any) (string, error) {
	for _, out := range node.Outputs {
		if out.Condition == "" {
			return out.Label, nil
		}
		scope := fr.buildScope(node.ID)
		scope.Value = value
		result, err := fr.rt.conditions.Evaluate(ctx, out.Condition, scope.Env())
		if err != nil {
			return "", err
		}
		if expressions.Truthy(result) {
			return out.Label, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeDecision,
		"decision %q: no output condition matched", node.ID)
}

// decideByModel asks the model to classify the input into one of the declared
// labels. The classification turn is recorded for auditability; a reply that
// names no declared label is a failure, never a silent fallback.
func (fr *flowRun) decideByModel(ctx context.Context, node *schema.FlowNode, value any) (string, error) {
	labels := node.OutputLabels()

	settings := fr.rt.engine.opts.Defaults
	agentID := node.Agent
	if agentID != "" {
		if agent, ok := fr.rt.agents[agentID]; ok {
			settings = agent.Settings
		}
	}
	settings = schema.MergeCallSettings(settings, node.Parameters)
	if settings.Model == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"decision %q: llm mode needs a model via node agent, parameters, or engine defaults", node.ID)
	}

	instructions, err := fr.nodePrompt(ctx, node)
	if err != nil {
		return "", err
	}
	if instructions == "" {
		instructions = "Classify the input into exactly one category."
	}

	system := fmt.Sprintf(
		"%s\nReply with JSON: {\"label\": \"<category>\"}.\nCategories: %s.\nDo not invent categories.",
		instructions, strings.Join(labels, ", "))

	resp, err := fr.rt.engine.opts.Provider.Complete(ctx, &provider.Request{
		Model:       settings.Model,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		MaxTokens:   settings.MaxTokens,
		Messages: []schema.Turn{
			{Role: schema.RoleSystem, Content: system},
			{Role: schema.RoleUser, Content: stringify(value)},
		},
	})
	if err != nil {
		return "", err
	}

	fr.ec.Transcript.AppendAssistant(agentID, resp.Content, nil)

	label, ok := matchLabel(resp.Content, labels)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeDecision,
			"decision %q: model chose no declared label in %q", node.ID, resp.Content).
			WithDetails(map[string]any{"labels": labels, "reply": resp.Content})
	}
	return label, nil
}

// matchLabel extracts the chosen label from a classification reply: a JSON
// envelope first (repaired when malformed), then the raw text.
func matchLabel(reply string, labels []string) (string, bool) {
	candidate := strings.TrimSpace(reply)

	var envelope struct {
		Label    string `json:"label"`
		Category string `json:"category"`
		Choice   string `json:"choice"`
	}
	raw := candidate
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		if repaired, rerr := jsonrepair.JSONRepair(raw); rerr == nil {
			_ = json.Unmarshal([]byte(repaired), &envelope)
		}
	}
	for _, c := range []string{envelope.Label, envelope.Category, envelope.Choice} {
		if c != "" {
			candidate = c
			break
		}
	}

	candidate = strings.Trim(strings.TrimSpace(candidate), `"'.`)
	for _, label := range labels {
		if strings.EqualFold(candidate, label) {
			return label, true
		}
	}
	// Tolerate labels embedded in a sentence, preferring the declared order.
	lower := strings.ToLower(candidate)
	for _, label := range labels {
		if strings.Contains(lower, strings.ToLower(label)) {
			return label, true
		}
	}
	return "", false
}
