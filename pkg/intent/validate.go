package intent

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// intentSchema is the Draft 2020-12 schema applied to inbound intent
// documents before they reach the orchestrator.
const intentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_id", "action", "action_type"],
  "properties": {
    "intent_id": {"type": "string"},
    "agent_id": {"type": "string", "minLength": 1},
    "correlation_id": {"type": "string"},
    "action": {"type": "string", "minLength": 1, "maxLength": 4096},
    "action_type": {"type": "string", "minLength": 1},
    "resource_scope": {"type": "array", "items": {"type": "string"}},
    "data_sensitivity": {"enum": ["public", "internal", "confidential", "restricted"]},
    "reversibility": {"enum": ["reversible", "compensable", "irreversible"]},
    "context": {"type": "object"},
    "created_at": {"type": "string"},
    "expires_at": {"type": "string"}
  }
}`

// Validator validates raw intent documents against the intent schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the intent schema. A compile failure is a
// construction-time error: the service must not start with a broken schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://cognigate.schemas.local/intent.schema.json"
	if err := c.AddResource(url, strings.NewReader(intentSchema)); err != nil {
		return nil, fmt.Errorf("intent schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("intent schema compile failed: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a decoded intent document. The document must be the
// generic JSON form (map / slice / primitives), as produced by json.Unmarshal
// into any.
func (v *Validator) Validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("intent validation failed: %w", err)
	}
	return nil
}
