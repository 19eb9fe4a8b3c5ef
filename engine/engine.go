// Package engine executes workflow definitions: ordered steps with
// per-step error policies, prompt calls with continuation and validation,
// deterministic transforms, conditionals and concurrent collection
// operations.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/internal/clock"
	"github.com/windflow-ai/windflow/model"
	"github.com/windflow-ai/windflow/progress"
	"github.com/windflow-ai/windflow/provider"
	"github.com/windflow-ai/windflow/tracing"
)

// Run states.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Run is the outcome of one workflow execution.
type Run struct {
	ID        string                    `json:"id"`
	Workflow  string                    `json:"workflow"`
	State     string                    `json:"state"`
	Output    interface{}               `json:"output"`
	Steps     map[string]interface{}    `json:"steps"`
	Usage     provider.Usage            `json:"usage"`
	StepUsage map[string]provider.Usage `json:"stepUsage,omitempty"`
	StartedAt time.Time                 `json:"startedAt"`
	Duration  time.Duration             `json:"duration"`
}

// Engine executes workflows against a text-completion provider.
type Engine struct {
	provider provider.Provider
	config   *Config
	logger   *zap.Logger
	onChange func(progress.Tracker)
}

// Option customises the engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithLogger sets the engine logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithProgressCallback registers a callback invoked after every counter
// update of a run's progress tracker.
func WithProgressCallback(onChange func(progress.Tracker)) Option {
	return func(e *Engine) {
		e.onChange = onChange
	}
}

// New creates an engine.
func New(p provider.Provider, options ...Option) *Engine {
	engine := &Engine{
		provider: p,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(engine)
	}
	// Validate fills defaults in place; work on a copy so a Config shared
	// between engines is not rewritten.
	config := *engine.config
	config.Validate()
	engine.config = &config
	return engine
}

// Run executes the workflow with the supplied input. Steps run strictly in
// order; each result is committed to the run context before the next step
// starts.
func (e *Engine) Run(ctx context.Context, workflow *model.Workflow, input map[string]interface{}) (*Run, error) {
	if workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if issues := workflow.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid workflow %q: %v", workflow.Name, issues[0])
	}
	resolved, err := workflow.InputDefaults(input)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	ctx, tracker := progress.WithNewTracker(ctx, runID, workflow.Name, e.onChange)
	ctx, span := tracing.StartSpan(ctx, "workflow.run")
	span.WithAttributes(map[string]string{"workflow": workflow.Name, "run": runID})

	logger := e.logger.With(zap.String("workflow", workflow.Name), zap.String("run", runID))
	logger.Info("run started", zap.Int("steps", len(workflow.Steps)))

	started := clock.Now()
	execCtx := newContext(workflow.Name, resolved)

	_, runErr := e.runSequence(ctx, workflow.Steps, execCtx)

	stepUsage, totalUsage := execCtx.UsageSnapshot()
	run := &Run{
		ID:        runID,
		Workflow:  workflow.Name,
		Steps:     execCtx.steps,
		Usage:     totalUsage,
		StepUsage: stepUsage,
		StartedAt: started,
		Duration:  clock.Now().Sub(started),
	}

	if runErr != nil {
		run.State = StateFailed
		tracing.EndSpan(span, runErr)
		logger.Error("run failed", zap.Error(runErr))
		return run, runErr
	}

	output, err := e.renderOutput(workflow, execCtx)
	if err != nil {
		run.State = StateFailed
		tracing.EndSpan(span, err)
		return run, err
	}
	run.Output = output
	run.State = StateCompleted
	tracing.EndSpan(span, nil)
	logger.Info("run completed",
		zap.Duration("duration", run.Duration),
		zap.Int("completedSteps", tracker.Snapshot().StepsCompleted))
	return run, nil
}

// runSequence executes one step sequence against the given context and
// returns the last committed result. A skip_remaining policy ends the
// sequence without error; stop propagates the failure to the caller.
func (e *Engine) runSequence(ctx context.Context, steps []*model.Step, execCtx *Context) (interface{}, error) {
	var last interface{}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		result, err := e.runStep(ctx, step, execCtx)
		if err != nil {
			switch step.ErrorPolicy() {
			case model.OnErrorContinue:
				e.logger.Warn("step failed, continuing", zap.String("step", step.ID), zap.Error(err))
				progress.UpdateCtx(ctx, progress.Delta{StepsFailed: 1})
				last = map[string]interface{}{"error": err.Error()}
				execCtx.Commit(step.ID, last)
				continue
			case model.OnErrorSkipRemaining:
				e.logger.Warn("step failed, skipping remaining", zap.String("step", step.ID), zap.Error(err))
				progress.UpdateCtx(ctx, progress.Delta{StepsFailed: 1})
				return last, nil
			default:
				progress.UpdateCtx(ctx, progress.Delta{StepsFailed: 1})
				return last, err
			}
		}
		execCtx.Commit(step.ID, result)
		progress.UpdateCtx(ctx, progress.Delta{StepsCompleted: 1})
		last = result
	}
	return last, nil
}

// runStep dispatches one step to its executor, wrapped in a span.
func (e *Engine) runStep(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.step")
	span.WithAttributes(map[string]string{"step": step.ID, "type": string(step.Type)})
	progress.UpdateCtx(ctx, progress.Delta{StepsTotal: 1})
	e.logger.Debug("step started", zap.String("step", step.ID), zap.String("type", string(step.Type)))

	var result interface{}
	var err error
	switch step.Type {
	case model.KindPrompt:
		result, err = e.runPrompt(ctx, step, execCtx)
	case model.KindTransform:
		result, err = e.runTransform(step, execCtx)
	case model.KindCollection:
		result, err = e.runCollection(ctx, step, execCtx)
	case model.KindConditional:
		result, err = e.runConditional(ctx, step, execCtx)
	default:
		err = fmt.Errorf("step %s: unsupported type %q", step.ID, step.Type)
	}
	tracing.EndSpan(span, err)
	return result, err
}

// renderOutput produces the run output: the workflow output template when
// configured, otherwise the last step's result, marshalled per the output
// format.
func (e *Engine) renderOutput(workflow *model.Workflow, execCtx *Context) (interface{}, error) {
	var value interface{}
	if workflow.Output != nil && workflow.Output.Template != "" {
		rendered, err := expander.Expand(workflow.Output.Template, execCtx.Vars())
		if err != nil {
			return nil, &TemplateError{Step: "output", Err: err}
		}
		value = rendered
	} else if len(workflow.Steps) > 0 {
		value, _ = execCtx.Result(workflow.Steps[len(workflow.Steps)-1].ID)
	}

	format := ""
	if workflow.Output != nil {
		format = workflow.Output.Format
	}
	switch format {
	case "json":
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode output: %w", err)
		}
		return string(encoded), nil
	case "yaml":
		encoded, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output: %w", err)
		}
		return string(encoded), nil
	}
	return value, nil
}
