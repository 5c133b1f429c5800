package mock

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaViolation describes one failed constraint from argument validation.
type SchemaViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v SchemaViolation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidateArguments checks tool-call arguments against the rule's JSON
// schema. A nil or empty schema accepts everything.
func ValidateArguments(schema map[string]interface{}, args map[string]interface{}) ([]SchemaViolation, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]SchemaViolation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, SchemaViolation{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return violations, nil
}

// FormatViolations renders violations into one error detail string.
func FormatViolations(violations []SchemaViolation) string {
	if len(violations) == 0 {
		return ""
	}
	out := ""
	for i, v := range violations {
		if i > 0 {
			out += "; "
		}
		out += v.String()
	}
	return out
}
