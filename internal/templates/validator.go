package templates

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidParameters wraps parameter validation failures.
var ErrInvalidParameters = errors.New("invalid template parameters")

// ValidateParameters checks params against the template's schema. Templates
// without a schema accept anything.
func (t *Template) ValidateParameters(params map[string]interface{}) error {
	if t.schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result := t.schema.Validate(params)
	if !result.IsValid() {
		var messages []string
		for field, evalErr := range result.Errors {
			messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(messages)
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(messages, "; "))
	}
	return nil
}

// RenderPrompt fills the prompt with params. The patient's name is available
// as .patient_name alongside the parameters.
func (t *Template) RenderPrompt(params map[string]interface{}) (string, error) {
	if t.prompt == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.prompt.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
