package engine

import (
	"fmt"
	"strings"

	"github.com/windflow-ai/windflow/model"
)

// TemplateError reports a failed template render or variable resolution.
type TemplateError struct {
	Step string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("step %s: template error: %v", e.Step, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ProviderError reports a failed provider call. Retryable distinguishes
// transient transport failures from terminal ones.
type ProviderError struct {
	Step      string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("step %s: provider error: %v", e.Step, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports output that failed schema validation after all
// retries.
type ValidationError struct {
	Step     string
	Attempts int
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %s: output failed validation after %d attempt(s): %s",
		e.Step, e.Attempts, strings.Join(e.Errors, "; "))
}

// TransformError reports a deterministic transform failure.
type TransformError struct {
	Step   string
	Method string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("step %s: transform %s failed: %v", e.Step, e.Method, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// ConditionError reports a failed predicate evaluation.
type ConditionError struct {
	Step string
	Expr string
	Err  error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("step %s: condition %q failed: %v", e.Step, e.Expr, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// CollectionError reports a failed collection operation, carrying the
// per-element errors collected before the abort.
type CollectionError struct {
	Step      string
	Operation string
	Items     []model.ItemError
	Err       error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %s: %s failed: %v", e.Step, e.Operation, e.Err)
	}
	return fmt.Sprintf("step %s: %s failed with %d item error(s)", e.Step, e.Operation, len(e.Items))
}

func (e *CollectionError) Unwrap() error { return e.Err }
