package model

import (
	"fmt"
	"regexp"
	"time"
)

// InputParameter declares a named workflow input.
type InputParameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// OutputSpec controls how the final run output is rendered.
type OutputSpec struct {
	// Format is one of "text", "json" or "yaml". Empty defaults to text.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// Template, when set, is rendered against the finished run context and
	// becomes the run output instead of the last step result.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// Workflow represents a workflow definition. A workflow is immutable once
// loaded; the engine never mutates it during execution.
type Workflow struct {
	// Name is the unique identifier for the workflow
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description of the workflow
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Version specifies the workflow version
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Input declares the parameters the caller may (or must) supply
	Input []*InputParameter `json:"input,omitempty" yaml:"input,omitempty"`

	// Steps is the ordered top-level step sequence
	Steps []*Step `json:"steps" yaml:"steps"`

	// Output controls rendering of the final result
	Output *OutputSpec `json:"output,omitempty" yaml:"output,omitempty"`
}

var workflowName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9 _-]*$`)

// Validate performs a best-effort structural validation of the workflow. The
// returned slice is empty when the workflow is sound; otherwise it contains
// human-readable error descriptions. The function does NOT attempt to render
// any templates - it only verifies static properties.
func (w *Workflow) Validate() []error {
	var issues []error

	if w.Name == "" {
		issues = append(issues, fmt.Errorf("workflow name is required"))
	} else if !workflowName.MatchString(w.Name) {
		issues = append(issues, fmt.Errorf("workflow name %q must start with a letter and contain only letters, digits, spaces, '-' or '_'", w.Name))
	}
	if len(w.Steps) == 0 {
		issues = append(issues, fmt.Errorf("workflow has no steps"))
		return issues
	}
	issues = append(issues, validateSequence("", w.Steps)...)
	if w.Output != nil {
		switch w.Output.Format {
		case "", "text", "json", "yaml":
		default:
			issues = append(issues, fmt.Errorf("unsupported output format %q", w.Output.Format))
		}
	}
	return issues
}

// validateSequence checks one step sequence: ids are unique within the
// sequence and each step's kind-specific configuration is sound. Nested
// sequences are validated recursively with their own id scope.
func validateSequence(scope string, steps []*Step) []error {
	var issues []error
	seen := map[string]bool{}
	for _, step := range steps {
		at := step.ID
		if scope != "" {
			at = scope + "/" + step.ID
		}
		if step.ID == "" {
			issues = append(issues, fmt.Errorf("step in sequence %q has no id", scope))
		}
		if seen[step.ID] {
			issues = append(issues, fmt.Errorf("duplicate step id %s", at))
		}
		seen[step.ID] = true

		switch step.OnError {
		case "", OnErrorStop, OnErrorContinue, OnErrorSkipRemaining:
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported on_error %q", at, step.OnError))
		}
		issues = append(issues, step.validate(at)...)
	}
	return issues
}

func (s *Step) validate(at string) []error {
	var issues []error
	switch s.Type {
	case KindPrompt:
		if s.Prompt == nil || s.Prompt.Prompt == "" {
			issues = append(issues, fmt.Errorf("step %s: prompt text is required", at))
			break
		}
		if t := s.Prompt.Temperature; t != nil && (*t < 0 || *t > 2) {
			issues = append(issues, fmt.Errorf("step %s: temperature must be within [0, 2]", at))
		}
		if v := s.Prompt.Validation; v != nil {
			issues = append(issues, v.validate(at)...)
		}
	case KindTransform:
		if s.Transform == nil {
			issues = append(issues, fmt.Errorf("step %s: transform configuration is required", at))
			break
		}
		issues = append(issues, s.Transform.validate(at)...)
	case KindCollection:
		if s.Collection == nil {
			issues = append(issues, fmt.Errorf("step %s: collection configuration is required", at))
			break
		}
		issues = append(issues, s.Collection.validate(at)...)
	case KindConditional:
		if s.Conditional == nil {
			issues = append(issues, fmt.Errorf("step %s: conditional configuration is required", at))
			break
		}
		issues = append(issues, s.Conditional.validate(at)...)
	default:
		issues = append(issues, fmt.Errorf("step %s: unsupported type %q", at, s.Type))
	}
	return issues
}

func (c *CollectionStep) validate(at string) []error {
	var issues []error
	if c.Input == "" {
		issues = append(issues, fmt.Errorf("step %s: collection input is required", at))
	}
	switch c.Operation {
	case OperationMap, OperationReduce:
		if len(c.Steps) == 0 {
			issues = append(issues, fmt.Errorf("step %s: %s operation requires nested steps", at, c.Operation))
		}
	case OperationFilter:
		if c.Condition == "" && len(c.Steps) == 0 {
			issues = append(issues, fmt.Errorf("step %s: filter operation requires a condition or nested steps", at))
		}
	default:
		issues = append(issues, fmt.Errorf("step %s: unsupported collection operation %q", at, c.Operation))
	}
	if h := c.ErrorHandling; h != nil {
		switch h.OnItemFailure {
		case "", ItemFailureSkip, ItemFailureStop, ItemFailureRetry:
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported on_item_failure %q", at, h.OnItemFailure))
		}
		switch h.OnConditionError {
		case "", ConditionErrorSkipItem, ConditionErrorStop, ConditionErrorDefaultFalse:
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported on_condition_error %q", at, h.OnConditionError))
		}
		if h.MaxRetriesPerItem < 0 {
			issues = append(issues, fmt.Errorf("step %s: max_retries_per_item cannot be negative", at))
		}
	}
	if cc := c.Concurrency; cc != nil {
		if cc.MaxParallel < 0 || cc.BatchSize < 0 {
			issues = append(issues, fmt.Errorf("step %s: concurrency values cannot be negative", at))
		}
		if cc.DelayBetweenBatches != "" {
			if _, err := time.ParseDuration(cc.DelayBetweenBatches); err != nil {
				issues = append(issues, fmt.Errorf("step %s: invalid delay_between_batches: %v", at, err))
			}
		}
	}
	issues = append(issues, validateSequence(at, c.Steps)...)
	return issues
}

func (c *ConditionalStep) validate(at string) []error {
	var issues []error
	hasBasic := c.Condition != ""
	hasMulti := len(c.Conditions) > 0

	switch {
	case hasBasic && hasMulti:
		issues = append(issues, fmt.Errorf("step %s: cannot use both condition and conditions", at))
	case !hasBasic && !hasMulti:
		issues = append(issues, fmt.Errorf("step %s: either condition or conditions must be provided", at))
	case hasBasic && len(c.IfTrue) == 0:
		issues = append(issues, fmt.Errorf("step %s: if_true steps are required for a basic conditional", at))
	}

	switch c.OnConditionError {
	case "", ConditionalStop, ConditionalContinue, ConditionalSkipRemaining:
	default:
		issues = append(issues, fmt.Errorf("step %s: unsupported on_condition_error %q", at, c.OnConditionError))
	}

	names := map[string]bool{}
	defaults := 0
	for _, branch := range c.Conditions {
		if branch.Name == "" {
			issues = append(issues, fmt.Errorf("step %s: branch name is required", at))
		}
		if names[branch.Name] {
			issues = append(issues, fmt.Errorf("step %s: duplicate branch name %q", at, branch.Name))
		}
		names[branch.Name] = true
		if branch.Default {
			defaults++
		} else if branch.Condition == "" {
			issues = append(issues, fmt.Errorf("step %s: branch %q has no condition and is not the default", at, branch.Name))
		}
		issues = append(issues, validateSequence(at+"/"+branch.Name, branch.Steps)...)
	}
	if defaults > 1 {
		issues = append(issues, fmt.Errorf("step %s: only one default branch is allowed", at))
	}

	issues = append(issues, validateSequence(at+"/if_true", c.IfTrue)...)
	issues = append(issues, validateSequence(at+"/if_false", c.IfFalse)...)
	return issues
}

// InputDefaults resolves caller-supplied input against the declared
// parameters: defaults are applied for absent optional parameters and an
// error is returned for each missing required one.
func (w *Workflow) InputDefaults(input map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(input))
	for k, v := range input {
		resolved[k] = v
	}
	for _, param := range w.Input {
		if _, ok := resolved[param.Name]; ok {
			continue
		}
		if param.Default != nil {
			resolved[param.Name] = param.Default
			continue
		}
		if param.Required {
			return nil, fmt.Errorf("required input %q is missing", param.Name)
		}
	}
	return resolved, nil
}
