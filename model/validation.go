package model

import (
	"fmt"
	"regexp"
)

// DefaultJSONInstruction is appended to the prompt when force_json_output is
// set and no custom instruction is configured.
const DefaultJSONInstruction = "Please format your response as valid JSON."

const maxValidationRetries = 10

// Validation configures schema validation of a prompt step's output,
// including bounded re-requests when the output does not conform.
type Validation struct {
	// Schema is an inline JSON schema the (parsed) output must satisfy.
	Schema map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`

	// MaxRetries bounds validation-driven re-requests (0-10). Zero means
	// "validate once, never retry"; nil uses the default of 3.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// RetryPrompt replaces the default corrective instruction sent on a
	// validation retry.
	RetryPrompt string `json:"retry_prompt,omitempty" yaml:"retry_prompt,omitempty"`

	// AllowPartialSuccess returns the best-effort parsed value flagged as
	// invalid instead of failing the step once retries are exhausted.
	AllowPartialSuccess bool `json:"allow_partial_success,omitempty" yaml:"allow_partial_success,omitempty"`
	// ExtractJSONPattern, when set, is tried against non-conforming output
	// to recover an embedded JSON fragment before giving up.
	ExtractJSONPattern string `json:"extract_json_pattern,omitempty" yaml:"extract_json_pattern,omitempty"`

	// ForceJSONOutput augments the prompt with an explicit JSON instruction.
	ForceJSONOutput bool   `json:"force_json_output,omitempty" yaml:"force_json_output,omitempty"`
	JSONInstruction string `json:"json_instruction,omitempty" yaml:"json_instruction,omitempty"`
}

// RetryBudget returns the effective number of validation retries.
func (v *Validation) RetryBudget() int {
	if v.MaxRetries == nil {
		return 3
	}
	return *v.MaxRetries
}

// Instruction returns the JSON-format instruction appended under
// force_json_output.
func (v *Validation) Instruction() string {
	if v.JSONInstruction != "" {
		return v.JSONInstruction
	}
	return DefaultJSONInstruction
}

func (v *Validation) validate(at string) []error {
	var issues []error
	if len(v.Schema) == 0 {
		issues = append(issues, fmt.Errorf("step %s: validation requires a schema", at))
	}
	if v.MaxRetries != nil && (*v.MaxRetries < 0 || *v.MaxRetries > maxValidationRetries) {
		issues = append(issues, fmt.Errorf("step %s: validation max_retries must be within [0, %d]", at, maxValidationRetries))
	}
	if v.ExtractJSONPattern != "" {
		if _, err := regexp.Compile(v.ExtractJSONPattern); err != nil {
			issues = append(issues, fmt.Errorf("step %s: invalid extract_json_pattern: %v", at, err))
		}
	}
	return issues
}
