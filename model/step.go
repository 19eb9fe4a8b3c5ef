package model

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies the step variant.
type Kind string

const (
	KindPrompt      Kind = "prompt"
	KindTransform   Kind = "transform"
	KindCollection  Kind = "collection"
	KindConditional Kind = "conditional"
)

// OnError is the step-level error policy.
type OnError string

const (
	// OnErrorStop aborts the entire run and surfaces the error.
	OnErrorStop OnError = "stop"
	// OnErrorContinue records the error as the step result and proceeds.
	OnErrorContinue OnError = "continue"
	// OnErrorSkipRemaining aborts only the current sequence, leaving
	// already-committed results intact.
	OnErrorSkipRemaining OnError = "skip_remaining"
)

// Collection operations.
const (
	OperationMap    = "map"
	OperationFilter = "filter"
	OperationReduce = "reduce"
)

// Per-item failure policies for collection operations.
const (
	ItemFailureSkip  = "skip"
	ItemFailureStop  = "stop"
	ItemFailureRetry = "retry"
)

// Condition-evaluation failure policies for filter operations.
const (
	ConditionErrorSkipItem     = "skip_item"
	ConditionErrorStop         = "stop"
	ConditionErrorDefaultFalse = "default_false"
)

// Condition-evaluation failure policies for conditional steps.
const (
	ConditionalStop          = "stop"
	ConditionalContinue      = "continue"
	ConditionalSkipRemaining = "skip_remaining"
)

// Step is a tagged variant over the four step kinds. Exactly one of the
// kind-specific configs is populated, selected by Type.
type Step struct {
	ID      string  `json:"id" yaml:"id"`
	Type    Kind    `json:"type" yaml:"type"`
	OnError OnError `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	Prompt      *PromptStep      `json:"prompt,omitempty" yaml:"-"`
	Transform   *TransformStep   `json:"transform,omitempty" yaml:"-"`
	Collection  *CollectionStep  `json:"collection,omitempty" yaml:"-"`
	Conditional *ConditionalStep `json:"conditional,omitempty" yaml:"-"`
}

// ErrorPolicy returns the effective on_error policy (stop by default).
func (s *Step) ErrorPolicy() OnError {
	if s.OnError == "" {
		return OnErrorStop
	}
	return s.OnError
}

// UnmarshalYAML decodes the step header, then decodes the same node into the
// config struct selected by the type discriminator.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var header struct {
		ID      string  `yaml:"id"`
		Type    Kind    `yaml:"type"`
		OnError OnError `yaml:"on_error"`
	}
	if err := node.Decode(&header); err != nil {
		return err
	}
	s.ID = header.ID
	s.Type = header.Type
	s.OnError = header.OnError

	switch header.Type {
	case KindPrompt:
		s.Prompt = &PromptStep{}
		return node.Decode(s.Prompt)
	case KindTransform:
		s.Transform = &TransformStep{}
		return node.Decode(s.Transform)
	case KindCollection:
		s.Collection = &CollectionStep{}
		return node.Decode(s.Collection)
	case KindConditional:
		s.Conditional = &ConditionalStep{}
		return node.Decode(s.Conditional)
	}
	return fmt.Errorf("step %s: unsupported type %q", header.ID, header.Type)
}

// PromptStep calls the generative-text provider with a rendered prompt.
type PromptStep struct {
	// Prompt is a template rendered against the run context.
	Prompt string `json:"prompt" yaml:"prompt"`
	// Model overrides the engine default model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Temperature in [0, 2]; nil uses the provider default.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// MaxContinuations bounds automatic continuation of truncated
	// responses; nil falls back to the engine config.
	MaxContinuations *int `json:"max_continuations,omitempty" yaml:"max_continuations,omitempty"`
	// Params are passed to the provider verbatim.
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`

	Validation *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Replacement is a single substitution rule: either a literal From or a
// regular-expression Pattern, replaced by To.
type Replacement struct {
	From    string `json:"from,omitempty" yaml:"from,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	To      string `json:"to" yaml:"to"`
}

// TransformStep applies one deterministic text operation. Method selects the
// operation; the remaining fields are method-specific.
type TransformStep struct {
	Method string `json:"method" yaml:"method"`
	// Input is a template resolved against the run context.
	Input string `json:"input" yaml:"input"`

	// split
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
	MaxSplits *int   `json:"max_splits,omitempty" yaml:"max_splits,omitempty"`

	// extract_between
	Begin string `json:"begin,omitempty" yaml:"begin,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
	All   bool   `json:"all,omitempty" yaml:"all,omitempty"`

	// regex_extract
	Pattern      string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Flags        []string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Group        int      `json:"group,omitempty" yaml:"group,omitempty"`
	OutputFormat string   `json:"output_format,omitempty" yaml:"output_format,omitempty"`

	// select_item
	Index     *int   `json:"index,omitempty" yaml:"index,omitempty"`
	Slice     string `json:"slice,omitempty" yaml:"slice,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// parse_json
	Schema map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
	Strict bool                   `json:"strict,omitempty" yaml:"strict,omitempty"`

	// replace
	Replacements []Replacement `json:"replacements,omitempty" yaml:"replacements,omitempty"`

	// markdown_split
	SplitType   string `json:"split_type,omitempty" yaml:"split_type,omitempty"`
	HeaderLevel int    `json:"header_level,omitempty" yaml:"header_level,omitempty"`

	// csv_parse; an empty delimiter means auto-detect
	Delimiter     string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	StrictColumns *bool  `json:"strict_columns,omitempty" yaml:"strict_columns,omitempty"`

	// array_sort
	SortKey     string `json:"sort_key,omitempty" yaml:"sort_key,omitempty"`
	SortReverse bool   `json:"sort_reverse,omitempty" yaml:"sort_reverse,omitempty"`

	// array_aggregate; Separator doubles as the join separator
	AggregateOperation string `json:"aggregate_operation,omitempty" yaml:"aggregate_operation,omitempty"`

	// array_transform
	TransformExpression string `json:"transform_expression,omitempty" yaml:"transform_expression,omitempty"`

	// format
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// fixed_split
	SplitBy            string `json:"split_by,omitempty" yaml:"split_by,omitempty"`
	Size               int    `json:"size,omitempty" yaml:"size,omitempty"`
	Overlap            int    `json:"overlap,omitempty" yaml:"overlap,omitempty"`
	PreserveBoundaries *bool  `json:"preserve_boundaries,omitempty" yaml:"preserve_boundaries,omitempty"`
}

// ColumnsStrict reports whether csv rows must match the header width (true
// by default).
func (t *TransformStep) ColumnsStrict() bool {
	if t.StrictColumns == nil {
		return true
	}
	return *t.StrictColumns
}

// Boundaries reports whether fixed_split avoids cutting words (true by
// default).
func (t *TransformStep) Boundaries() bool {
	if t.PreserveBoundaries == nil {
		return true
	}
	return *t.PreserveBoundaries
}

// SplitUnit returns the fixed_split unit ("characters" by default).
func (t *TransformStep) SplitUnit() string {
	if t.SplitBy == "" {
		return SplitByCharacters
	}
	return t.SplitBy
}

// Concurrency bounds parallel element processing inside a collection step.
type Concurrency struct {
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	BatchSize   int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	// DelayBetweenBatches is a duration string, e.g. "250ms".
	DelayBetweenBatches string `json:"delay_between_batches,omitempty" yaml:"delay_between_batches,omitempty"`
}

// Delay returns the parsed inter-batch delay; zero when unset or invalid
// (validity is enforced at load time).
func (c *Concurrency) Delay() time.Duration {
	if c == nil || c.DelayBetweenBatches == "" {
		return 0
	}
	d, err := time.ParseDuration(c.DelayBetweenBatches)
	if err != nil {
		return 0
	}
	return d
}

// ErrorHandling configures failure behaviour inside a collection step.
type ErrorHandling struct {
	OnItemFailure     string `json:"on_item_failure,omitempty" yaml:"on_item_failure,omitempty"`
	OnConditionError  string `json:"on_condition_error,omitempty" yaml:"on_condition_error,omitempty"`
	MaxRetriesPerItem int    `json:"max_retries_per_item,omitempty" yaml:"max_retries_per_item,omitempty"`
	PreserveErrors    *bool  `json:"preserve_errors,omitempty" yaml:"preserve_errors,omitempty"`
}

// ItemPolicy returns the effective per-item failure policy (skip by default).
func (h *ErrorHandling) ItemPolicy() string {
	if h == nil || h.OnItemFailure == "" {
		return ItemFailureSkip
	}
	return h.OnItemFailure
}

// ConditionPolicy returns the effective condition-error policy (skip_item by
// default).
func (h *ErrorHandling) ConditionPolicy() string {
	if h == nil || h.OnConditionError == "" {
		return ConditionErrorSkipItem
	}
	return h.OnConditionError
}

// ItemRetries returns the per-item retry budget used when the policy is
// retry.
func (h *ErrorHandling) ItemRetries() int {
	if h == nil || h.MaxRetriesPerItem == 0 {
		return 2
	}
	return h.MaxRetriesPerItem
}

// KeepErrors reports whether per-item errors are recorded in the result
// (true by default).
func (h *ErrorHandling) KeepErrors() bool {
	if h == nil || h.PreserveErrors == nil {
		return true
	}
	return *h.PreserveErrors
}

// CollectionStep runs map, filter or reduce over an array-shaped input, each
// element processed by the nested step sequence.
type CollectionStep struct {
	Operation string `json:"operation" yaml:"operation"`
	// Input is a template expected to resolve to an array.
	Input string  `json:"input" yaml:"input"`
	Steps []*Step `json:"steps,omitempty" yaml:"steps,omitempty"`

	// Condition is the filter predicate, evaluated per element with the
	// item variable bound.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Reduce configuration.
	InitialValue   interface{} `json:"initial_value,omitempty" yaml:"initial_value,omitempty"`
	AccumulatorVar string      `json:"accumulator_var,omitempty" yaml:"accumulator_var,omitempty"`
	ItemVar        string      `json:"item_var,omitempty" yaml:"item_var,omitempty"`

	Concurrency   *Concurrency   `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
}

// Accumulator returns the configured accumulator variable name ("acc" by
// default).
func (c *CollectionStep) Accumulator() string {
	if c.AccumulatorVar == "" {
		return "acc"
	}
	return c.AccumulatorVar
}

// Item returns the configured element variable name ("item" by default).
func (c *CollectionStep) Item() string {
	if c.ItemVar == "" {
		return "item"
	}
	return c.ItemVar
}

// Branch is a single entry of a multi-branch conditional.
type Branch struct {
	Condition string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	Name      string  `json:"name" yaml:"name"`
	Default   bool    `json:"default,omitempty" yaml:"default,omitempty"`
	Steps     []*Step `json:"steps" yaml:"steps"`
}

// ConditionalStep selects at most one branch to execute: either a single
// condition with if_true/if_false sequences, or an ordered branch list with
// an optional default.
type ConditionalStep struct {
	Condition string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	IfTrue    []*Step `json:"if_true,omitempty" yaml:"if_true,omitempty"`
	IfFalse   []*Step `json:"if_false,omitempty" yaml:"if_false,omitempty"`

	Conditions []*Branch `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	OnConditionError string `json:"on_condition_error,omitempty" yaml:"on_condition_error,omitempty"`
}

// ConditionPolicy returns the effective condition-error policy (stop by
// default).
func (c *ConditionalStep) ConditionPolicy() string {
	if c.OnConditionError == "" {
		return ConditionalStop
	}
	return c.OnConditionError
}
