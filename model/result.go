package model

import "time"

// ItemError records a failure of a single collection element.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Stats aggregates execution counters of a collection step.
type Stats struct {
	Duration time.Duration `json:"duration"`
	Batches  int           `json:"batches"`
	Retries  int           `json:"retries"`
}

// CollectionResult is the committed result of a collection step.
type CollectionResult struct {
	// Output holds the per-element results for map and filter (index
	// aligned for map, input-order subset for filter) and the final
	// accumulator for reduce.
	Output      interface{} `json:"output"`
	Operation   string      `json:"operation"`
	InputCount  int         `json:"input_count"`
	OutputCount int         `json:"output_count"`
	Errors      []ItemError `json:"errors,omitempty"`
	Stats       Stats       `json:"stats"`
}

// ErrorRate returns the fraction of failed elements; zero for empty input.
func (r *CollectionResult) ErrorRate() float64 {
	if r.InputCount == 0 {
		return 0
	}
	return float64(len(r.Errors)) / float64(r.InputCount)
}

// AsMap renders the result for storage in the run context.
func (r *CollectionResult) AsMap() map[string]interface{} {
	errs := make([]interface{}, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, map[string]interface{}{"index": e.Index, "message": e.Message})
	}
	return map[string]interface{}{
		"output":       r.Output,
		"operation":    r.Operation,
		"input_count":  r.InputCount,
		"output_count": r.OutputCount,
		"errors":       errs,
		"error_rate":   r.ErrorRate(),
		"stats": map[string]interface{}{
			"duration_ms": r.Stats.Duration.Milliseconds(),
			"batches":     r.Stats.Batches,
			"retries":     r.Stats.Retries,
		},
	}
}

// ConditionalResult is the committed result of a conditional step.
type ConditionalResult struct {
	// Output is the result of the last step of the executed branch, nil
	// when no branch ran.
	Output interface{} `json:"output"`
	// ConditionResult is the evaluated predicate for a basic conditional;
	// nil for multi-branch form or when evaluation failed.
	ConditionResult *bool `json:"condition_result,omitempty"`
	// ExecutedBranch names the branch that ran: "if_true", "if_false" or
	// the branch name. Empty when no branch ran.
	ExecutedBranch string `json:"executed_branch,omitempty"`
	// EvaluationError carries the predicate failure message when the
	// policy allowed the run to proceed.
	EvaluationError string `json:"evaluation_error,omitempty"`
}

// AsMap renders the result for storage in the run context.
func (r *ConditionalResult) AsMap() map[string]interface{} {
	out := map[string]interface{}{
		"output":          r.Output,
		"executed_branch": r.ExecutedBranch,
	}
	if r.ConditionResult != nil {
		out["condition_result"] = *r.ConditionResult
	}
	if r.EvaluationError != "" {
		out["evaluation_error"] = r.EvaluationError
	}
	return out
}
