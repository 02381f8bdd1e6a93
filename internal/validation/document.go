package validation

import (
	"errors"

	"github.com/rendis/agentgraph/pkg/schema"
)

// DocumentValidator runs the full validation pipeline over a flow document:
//
//	Stage 1: Structural (JSON Schema) - short-circuits on failure
//	Stage 2: Semantic (ids, cross-references, per-kind node rules)
//	Stage 3: Graph (cycles, reachability) - skipped if stage 2 found errors
type DocumentValidator struct {
	structural *JSONSchemaValidator
}

// NewDocumentValidator creates a pipeline validator with the document schema
// pre-compiled.
func NewDocumentValidator() (*DocumentValidator, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{structural: structural}, nil
}

// Validate runs all stages and returns the aggregated result.
func (v *DocumentValidator) Validate(doc *schema.FlowDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if doc == nil {
		result.AddError("", schema.ErrCodeValidation, "flow document is nil")
		return result
	}

	// Stage 1: structural. Semantic checks assume a well-formed document, so
	// structural failures stop the pipeline.
	if err := v.structural.ValidateDocument(doc); err != nil {
		mergeStructuralError(result, err)
		return result
	}

	// Stage 2: semantic.
	semantic := validateSemantic(doc)
	result.Merge(semantic)

	// Stage 3: graph. Dangling references would produce misleading cycle and
	// reachability reports, so skip when semantic errors exist.
	if semantic.Valid() {
		result.Merge(validateGraph(doc))
	}

	return result
}

// ValidateDocument satisfies Validator, reducing the result to a single error.
func (v *DocumentValidator) ValidateDocument(doc *schema.FlowDocument) error {
	return v.Validate(doc).ToError()
}

// mergeStructuralError unpacks the violation list carried by a structural
// FlowError into individual issues.
func mergeStructuralError(result *schema.ValidationResult, err error) {
	var flowErr *schema.FlowError
	if !errors.As(err, &flowErr) {
		result.AddError("", schema.ErrCodeValidation, err.Error())
		return
	}

	if violations, ok := flowErr.Details["violations"].([]string); ok && len(violations) > 0 {
		for _, v := range violations {
			result.AddError("", schema.ErrCodeValidation, v)
		}
		return
	}
	result.AddError("", flowErr.Code, flowErr.Message)
}
