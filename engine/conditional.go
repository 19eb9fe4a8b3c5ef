package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/model"
)

// runConditional evaluates the predicate(s) and executes at most one
// branch. Branch steps run against the shared context, so their results are
// visible to later steps.
func (e *Engine) runConditional(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Conditional
	if len(config.Conditions) > 0 {
		return e.runBranches(ctx, step, execCtx)
	}
	return e.runBasicConditional(ctx, step, execCtx)
}

func (e *Engine) runBasicConditional(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Conditional
	value, evalErr := expander.EvaluateBool(config.Condition, execCtx.Vars())
	if evalErr != nil {
		result, err := e.conditionFailure(step, config.Condition, evalErr)
		if err != nil || result != nil {
			return result, err
		}
		// continue policy: treat the predicate as false.
		value = false
	}

	branch := config.IfTrue
	branchName := "if_true"
	if !value {
		branch = config.IfFalse
		branchName = "if_false"
	}

	result := &model.ConditionalResult{ConditionResult: &value}
	if len(branch) == 0 {
		return result.AsMap(), nil
	}
	output, err := e.runSequence(ctx, branch, execCtx)
	if err != nil {
		return nil, err
	}
	result.Output = output
	result.ExecutedBranch = branchName
	return result.AsMap(), nil
}

func (e *Engine) runBranches(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Conditional
	var selected *model.Branch
	for _, branch := range config.Conditions {
		if branch.Default {
			continue
		}
		matched, evalErr := expander.EvaluateBool(branch.Condition, execCtx.Vars())
		if evalErr != nil {
			result, err := e.conditionFailure(step, branch.Condition, evalErr)
			if err != nil || result != nil {
				return result, err
			}
			// continue policy: a failing predicate counts as false.
			continue
		}
		if matched {
			selected = branch
			break
		}
	}
	if selected == nil {
		for _, branch := range config.Conditions {
			if branch.Default {
				selected = branch
				break
			}
		}
	}

	result := &model.ConditionalResult{}
	if selected == nil {
		e.logger.Debug("no branch matched", zap.String("step", step.ID))
		return result.AsMap(), nil
	}
	output, err := e.runSequence(ctx, selected.Steps, execCtx)
	if err != nil {
		return nil, err
	}
	result.Output = output
	result.ExecutedBranch = selected.Name
	return result.AsMap(), nil
}

// conditionFailure resolves a predicate evaluation failure per the step
// policy: stop surfaces the error, skip_remaining returns an empty result
// carrying the failure, continue returns (nil, nil) so the caller treats
// the predicate as false.
func (e *Engine) conditionFailure(step *model.Step, expr string, evalErr error) (interface{}, error) {
	switch step.Conditional.ConditionPolicy() {
	case model.ConditionalContinue:
		e.logger.Warn("condition failed, treating as false",
			zap.String("step", step.ID), zap.Error(evalErr))
		return nil, nil
	case model.ConditionalSkipRemaining:
		result := &model.ConditionalResult{EvaluationError: evalErr.Error()}
		return result.AsMap(), nil
	default:
		return nil, &ConditionError{Step: step.ID, Expr: expr, Err: evalErr}
	}
}
