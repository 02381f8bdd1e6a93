package validation

import "github.com/rendis/agentgraph/pkg/schema"

// Validator checks flow documents for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateDocument(doc *schema.FlowDocument) error
}
