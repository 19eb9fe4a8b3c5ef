package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windflow-ai/windflow/model"
	"github.com/windflow-ai/windflow/provider"
)

func promptStep(id, prompt string) *model.Step {
	return &model.Step{ID: id, Type: model.KindPrompt, Prompt: &model.PromptStep{Prompt: prompt}}
}

func replaceStep(id, input, from, to string) *model.Step {
	return &model.Step{ID: id, Type: model.KindTransform, Transform: &model.TransformStep{
		Method:       model.MethodReplace,
		Input:        input,
		Replacements: []model.Replacement{{From: from, To: to}},
	}}
}

func TestNew_LeavesSuppliedConfigUntouched(t *testing.T) {
	shared := &Config{DefaultModel: "gpt-4o-mini"}
	e := New(provider.NewScripted(), WithConfig(shared))

	assert.Equal(t, 0, shared.MaxParallel)
	assert.Equal(t, 0, shared.MaxCallRetries)
	assert.Equal(t, 1, e.config.MaxParallel)
	assert.Equal(t, "gpt-4o-mini", e.config.DefaultModel)
}

func TestEngine_Run_OrderAndDataFlow(t *testing.T) {
	scripted := provider.NewScripted(
		provider.ScriptEntry{Text: "alpha beta", Usage: provider.Usage{TotalTokens: 7}},
		provider.ScriptEntry{Text: "done", Usage: provider.Usage{TotalTokens: 3}},
	)
	e := New(scripted)

	workflow := &model.Workflow{
		Name: "pipeline",
		Steps: []*model.Step{
			promptStep("first", "Describe ${input.topic}"),
			promptStep("second", "Refine ${steps.first}"),
		},
	}
	run, err := e.Run(context.Background(), workflow, map[string]interface{}{"topic": "storms"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, "done", run.Output)
	assert.Equal(t, "alpha beta", run.Steps["first"])
	assert.Equal(t, 10, run.Usage.TotalTokens)
	assert.NotEmpty(t, run.ID)

	// The second prompt saw the committed result of the first.
	second, err := scripted.Request(1)
	require.NoError(t, err)
	assert.Equal(t, "Refine alpha beta", second.Messages[0].Content)
}

func TestEngine_Run_RequiredInputMissing(t *testing.T) {
	e := New(provider.NewScripted())
	workflow := &model.Workflow{
		Name:  "needs-input",
		Input: []*model.InputParameter{{Name: "text", Required: true}},
		Steps: []*model.Step{promptStep("s", "x")},
	}
	_, err := e.Run(context.Background(), workflow, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required input "text" is missing`)
}

func TestEngine_Run_OnErrorPolicies(t *testing.T) {
	boom := errors.New("boom")

	testCases := []struct {
		description string
		onError     model.OnError
		expectErr   bool
		expectSteps map[string]bool
	}{
		{
			description: "stop aborts the run",
			onError:     model.OnErrorStop,
			expectErr:   true,
			expectSteps: map[string]bool{"before": true, "failing": false, "after": false},
		},
		{
			description: "continue records the error and proceeds",
			onError:     model.OnErrorContinue,
			expectSteps: map[string]bool{"before": true, "failing": true, "after": true},
		},
		{
			description: "skip_remaining keeps committed results",
			onError:     model.OnErrorSkipRemaining,
			expectSteps: map[string]bool{"before": true, "failing": false, "after": false},
		},
	}

	for _, testCase := range testCases {
		scripted := provider.NewScripted(
			provider.ScriptEntry{Text: "ok"},
			provider.ScriptEntry{Err: boom},
			provider.ScriptEntry{Text: "late"},
		)
		e := New(scripted)
		failing := promptStep("failing", "fails")
		failing.OnError = testCase.onError
		workflow := &model.Workflow{
			Name: "policies",
			Steps: []*model.Step{
				promptStep("before", "first"),
				failing,
				promptStep("after", "later"),
			},
		}
		run, err := e.Run(context.Background(), workflow, nil)
		if testCase.expectErr {
			require.Error(t, err, testCase.description)
			assert.Equal(t, StateFailed, run.State, testCase.description)
		} else {
			require.NoError(t, err, testCase.description)
		}
		for stepID, committed := range testCase.expectSteps {
			_, ok := run.Steps[stepID]
			assert.Equal(t, committed, ok, "%v: step %v", testCase.description, stepID)
		}
		if testCase.onError == model.OnErrorContinue {
			recorded, ok := run.Steps["failing"].(map[string]interface{})
			require.True(t, ok, testCase.description)
			assert.Contains(t, recorded["error"], "boom", testCase.description)
		}
	}
}

func TestEngine_Run_OutputTemplate(t *testing.T) {
	scripted := provider.NewScripted(provider.ScriptEntry{Text: "summary text"})
	e := New(scripted)

	workflow := &model.Workflow{
		Name:  "templated",
		Steps: []*model.Step{promptStep("summarize", "Summarize ${input.text}")},
		Output: &model.OutputSpec{
			Template: "Result: ${steps.summarize}",
		},
	}
	run, err := e.Run(context.Background(), workflow, map[string]interface{}{"text": "doc"})
	require.NoError(t, err)
	assert.Equal(t, "Result: summary text", run.Output)
}

func TestEngine_Run_OutputJSONFormat(t *testing.T) {
	e := New(provider.NewScripted())
	workflow := &model.Workflow{
		Name: "json-out",
		Steps: []*model.Step{
			replaceStep("clean", "${input.text}", "x", "y"),
		},
		Output: &model.OutputSpec{Format: "json"},
	}
	run, err := e.Run(context.Background(), workflow, map[string]interface{}{"text": "axb"})
	require.NoError(t, err)
	assert.Equal(t, "\"ayb\"", run.Output)
}

func TestEngine_Run_TransformIdempotence(t *testing.T) {
	workflow := &model.Workflow{
		Name: "pure",
		Steps: []*model.Step{
			{ID: "split", Type: model.KindTransform, Transform: &model.TransformStep{
				Method:    model.MethodSplit,
				Input:     "${input.csv}",
				Separator: ",",
			}},
			{ID: "pick", Type: model.KindTransform, Transform: &model.TransformStep{
				Method: model.MethodSelectItem,
				Input:  "${steps.split}",
				Slice:  "0:2",
			}},
		},
	}
	input := map[string]interface{}{"csv": "a,b,c"}

	first, err := New(provider.NewScripted()).Run(context.Background(), workflow, input)
	require.NoError(t, err)
	second, err := New(provider.NewScripted()).Run(context.Background(), workflow, input)
	require.NoError(t, err)

	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, []interface{}{"a", "b"}, first.Output)
}
