package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windflow-ai/windflow/model"
	"github.com/windflow-ai/windflow/provider"
)

func TestPrompt_Continuation(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: "one ", FinishReason: provider.FinishLength, Usage: provider.Usage{CompletionTokens: 4, TotalTokens: 10}},
		provider.ScriptEntry{Text: "two ", FinishReason: provider.FinishLength, Usage: provider.Usage{CompletionTokens: 4, TotalTokens: 10}},
		provider.ScriptEntry{Text: "three", FinishReason: provider.FinishStop, Usage: provider.Usage{CompletionTokens: 3, TotalTokens: 8}},
	)
	e := New(scripted)

	workflow := &model.Workflow{
		Name:  "long-form",
		Steps: []*model.Step{promptStep("write", "Write about ${input.topic}")},
	}
	run, err := e.Run(context.Background(), workflow, map[string]interface{}{"topic": "rivers"})
	require.NoError(t, err)

	assert.Equal(t, "one two three", run.Output)
	assert.Equal(t, 3, scripted.CallCount())
	assert.Equal(t, 28, run.Usage.TotalTokens)
	assert.Equal(t, 11, run.StepUsage["write"].CompletionTokens)

	// The continuation call carries the original prompt, the accumulated
	// assistant text and the continuation instruction.
	second, err := scripted.Request(1)
	require.NoError(t, err)
	require.Len(t, second.Messages, 3)
	assert.Equal(t, provider.RoleUser, second.Messages[0].Role)
	assert.Equal(t, "Write about rivers", second.Messages[0].Content)
	assert.Equal(t, provider.RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, "one ", second.Messages[1].Content)
	assert.Equal(t, provider.RoleUser, second.Messages[2].Role)

	third, err := scripted.Request(2)
	require.NoError(t, err)
	assert.Equal(t, "one two ", third.Messages[1].Content)
}

func TestPrompt_Continuation_BudgetExhausted(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: "a", FinishReason: provider.FinishLength},
		provider.ScriptEntry{Text: "b", FinishReason: provider.FinishLength},
	)
	e := New(scripted)

	budget := 1
	step := promptStep("write", "go")
	step.Prompt.MaxContinuations = &budget
	workflow := &model.Workflow{Name: "capped", Steps: []*model.Step{step}}

	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", run.Output)
	assert.Equal(t, 2, scripted.CallCount())
}

func TestPrompt_Continuation_ContentFilterEndsLoop(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: "start", FinishReason: provider.FinishLength},
		provider.ScriptEntry{Text: " blocked", FinishReason: provider.FinishContentFilter},
	)
	e := New(scripted)

	workflow := &model.Workflow{Name: "filtered", Steps: []*model.Step{promptStep("write", "go")}}
	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)

	assert.Equal(t, "start blocked", run.Output)
	assert.Equal(t, 2, scripted.CallCount())
}

func validatedStep(id string, maxRetries int) *model.Step {
	step := promptStep(id, "Produce a record")
	step.Prompt.Validation = &model.Validation{
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"name"},
			"properties": map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
			},
		},
		MaxRetries: &maxRetries,
	}
	return step
}

func TestPrompt_ValidationRetry(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: "not json at all"},
		provider.ScriptEntry{Text: `{"name": "ada"}`},
	)
	e := New(scripted)

	workflow := &model.Workflow{Name: "validated", Steps: []*model.Step{validatedStep("record", 1)}}
	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, scripted.CallCount())
	assert.Equal(t, map[string]interface{}{"name": "ada"}, run.Output)

	// The retry re-asks with the original request plus corrective guidance.
	retry, err := scripted.Request(1)
	require.NoError(t, err)
	assert.Contains(t, retry.Messages[0].Content, "Produce a record")
	assert.Contains(t, retry.Messages[0].Content, "did not match the required JSON schema")
}

func TestPrompt_ValidationZeroRetriesFails(t *testing.T) {
	scripted := provider.NewScripted(provider.ScriptEntry{Text: "still not json"})
	e := New(scripted)

	workflow := &model.Workflow{Name: "strict", Steps: []*model.Step{validatedStep("record", 0)}}
	_, err := e.Run(context.Background(), workflow, nil)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "record", validationErr.Step)
	assert.Equal(t, 1, validationErr.Attempts)
	assert.Equal(t, 1, scripted.CallCount())
}

func TestPrompt_ValidationPartialSuccess(t *testing.T) {
	scripted := provider.NewScripted(provider.ScriptEntry{Text: `{"title": "no name field"}`})
	e := New(scripted)

	step := validatedStep("record", 0)
	step.Prompt.Validation.AllowPartialSuccess = true
	workflow := &model.Workflow{Name: "partial", Steps: []*model.Step{step}}

	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)

	result, ok := run.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, result["valid"])
	assert.Equal(t, map[string]interface{}{"title": "no name field"}, result["data"])
	assert.NotEmpty(t, result["errors"])
}

func TestPrompt_ValidationExtractPattern(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: `Here you go: <result>{"name": "grace"}</result> enjoy`},
	)
	e := New(scripted)

	step := validatedStep("record", 0)
	step.Prompt.Validation.ExtractJSONPattern = `<result>(\{.*\})</result>`
	workflow := &model.Workflow{Name: "extract", Steps: []*model.Step{step}}

	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "grace"}, run.Output)
}

func TestPrompt_ValidationExtractPatternAfterSchemaFailure(t *testing.T) {
	// The whole response is valid JSON but fails the schema; the pattern
	// isolates the conforming fragment without spending a retry.
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: `{"commentary": "done", "record": {"name": "ida"}}`},
	)
	e := New(scripted)

	step := validatedStep("record", 0)
	step.Prompt.Validation.ExtractJSONPattern = `"record":\s*(\{[^{}]*\})`
	workflow := &model.Workflow{Name: "wrapped", Steps: []*model.Step{step}}

	run, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "ida"}, run.Output)
	assert.Equal(t, 1, scripted.CallCount())
}

func TestPrompt_ForceJSONOutputSuffix(t *testing.T) {
	scripted := provider.NewScripted(provider.ScriptEntry{Text: `{"name": "lin"}`})
	e := New(scripted)

	step := validatedStep("record", 0)
	step.Prompt.Validation.ForceJSONOutput = true
	workflow := &model.Workflow{Name: "forced", Steps: []*model.Step{step}}

	_, err := e.Run(context.Background(), workflow, nil)
	require.NoError(t, err)

	request, err := scripted.Request(0)
	require.NoError(t, err)
	assert.Contains(t, request.Messages[0].Content, model.DefaultJSONInstruction)
}

func TestPrompt_TemplateErrorCarriesStep(t *testing.T) {
	e := New(provider.NewScripted())
	workflow := &model.Workflow{Name: "broken", Steps: []*model.Step{promptStep("render", "${input.missing}")}}

	_, err := e.Run(context.Background(), workflow, nil)
	require.Error(t, err)

	var templateErr *TemplateError
	require.ErrorAs(t, err, &templateErr)
	assert.Equal(t, "render", templateErr.Step)
}
