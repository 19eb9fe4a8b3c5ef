package engine

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/internal/clock"
	"github.com/windflow-ai/windflow/model"
	"github.com/windflow-ai/windflow/progress"
	"github.com/windflow-ai/windflow/provider"
)

// runPrompt renders the prompt template, invokes the provider (continuing
// truncated responses) and optionally validates the output against a JSON
// schema with bounded retries.
func (e *Engine) runPrompt(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Prompt
	prompt, err := expander.Render(config.Prompt, execCtx.Vars())
	if err != nil {
		return nil, &TemplateError{Step: step.ID, Err: err}
	}
	if config.Validation != nil && config.Validation.ForceJSONOutput {
		prompt = prompt + "\n\n" + config.Validation.Instruction()
	}

	if config.Validation == nil {
		text, _, err := e.completeWithContinuation(ctx, step, execCtx, prompt)
		return text, err
	}
	return e.runValidatedPrompt(ctx, step, execCtx, prompt)
}

// completeWithContinuation performs the provider call, re-invoking while
// the response is truncated and continuation budget remains. The returned
// text is the concatenation of all turns; usage is summed across calls.
// content_filter and other terminal finish reasons end the loop regardless
// of remaining budget.
func (e *Engine) completeWithContinuation(ctx context.Context, step *model.Step, execCtx *Context, prompt string) (string, provider.FinishReason, error) {
	config := step.Prompt
	budget := e.config.MaxContinuations
	if config.MaxContinuations != nil {
		budget = *config.MaxContinuations
	}

	messages := []provider.Message{{Role: provider.RoleUser, Content: prompt}}
	accumulated := ""
	finish := provider.FinishStop
	continuations := 0
	for {
		response, err := e.complete(ctx, step, execCtx, messages)
		if err != nil {
			return "", "", err
		}
		accumulated += response.Text
		finish = response.FinishReason

		if finish != provider.FinishLength || continuations >= budget {
			break
		}
		continuations++
		e.logger.Debug("continuing truncated response",
			zap.String("step", step.ID), zap.Int("continuation", continuations))
		messages = []provider.Message{
			{Role: provider.RoleUser, Content: prompt},
			{Role: provider.RoleAssistant, Content: accumulated},
			{Role: provider.RoleUser, Content: e.config.ContinuationPrompt},
		}
	}
	return accumulated, finish, nil
}

// complete performs a single provider call with transport-level retries and
// exponential backoff, recording usage against the step.
func (e *Engine) complete(ctx context.Context, step *model.Step, execCtx *Context, messages []provider.Message) (*provider.Response, error) {
	config := step.Prompt
	modelName := config.Model
	if modelName == "" {
		modelName = e.config.DefaultModel
	}
	request := &provider.Request{
		Model:       modelName,
		Messages:    messages,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
		Params:      config.Params,
	}

	var lastErr error
	delay := e.config.CallRetryDelay
	for attempt := 0; attempt <= e.config.MaxCallRetries; attempt++ {
		if attempt > 0 {
			progress.UpdateCtx(ctx, progress.Delta{Retries: 1})
			if err := clock.Sleep(ctx, delay); err != nil {
				return nil, &ProviderError{Step: step.ID, Retryable: false, Err: err}
			}
			delay *= 2
		}
		progress.UpdateCtx(ctx, progress.Delta{ProviderCalls: 1})
		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		response, err := e.provider.Complete(callCtx, request)
		cancel()
		if err == nil {
			execCtx.AddUsage(step.ID, response.Usage)
			return response, nil
		}
		if !retryable(err) {
			return nil, &ProviderError{Step: step.ID, Retryable: false, Err: err}
		}
		e.logger.Warn("provider call failed, retrying",
			zap.String("step", step.ID), zap.Int("attempt", attempt+1), zap.Error(err))
		lastErr = err
	}
	return nil, &ProviderError{Step: step.ID, Retryable: true, Err: lastErr}
}

// retryable reports whether a provider failure is worth retrying: rate
// limits, server errors and timeouts are; cancellations and client errors
// are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
