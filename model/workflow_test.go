package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWorkflow_Validate(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	floatPtr := func(v float64) *float64 { return &v }

	testCases := []struct {
		description string
		workflow    *Workflow
		expect      []string
	}{
		{
			description: "valid prompt workflow",
			workflow: &Workflow{
				Name: "summarize",
				Steps: []*Step{
					{ID: "s1", Type: KindPrompt, Prompt: &PromptStep{Prompt: "Summarize ${input.text}"}},
				},
			},
		},
		{
			description: "missing name and steps",
			workflow:    &Workflow{},
			expect:      []string{"workflow name is required", "workflow has no steps"},
		},
		{
			description: "invalid name",
			workflow: &Workflow{
				Name:  "9lives",
				Steps: []*Step{{ID: "s1", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}},
			},
			expect: []string{"must start with a letter"},
		},
		{
			description: "duplicate ids in the same sequence",
			workflow: &Workflow{
				Name: "dup",
				Steps: []*Step{
					{ID: "a", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}},
					{ID: "a", Type: KindPrompt, Prompt: &PromptStep{Prompt: "y"}},
				},
			},
			expect: []string{"duplicate step id a"},
		},
		{
			description: "same id in nested sequence is allowed",
			workflow: &Workflow{
				Name: "nested",
				Steps: []*Step{
					{ID: "a", Type: KindCollection, Collection: &CollectionStep{
						Operation: OperationMap,
						Input:     "${input.items}",
						Steps: []*Step{
							{ID: "a", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}},
						},
					}},
				},
			},
		},
		{
			description: "temperature out of range",
			workflow: &Workflow{
				Name: "temp",
				Steps: []*Step{
					{ID: "s1", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x", Temperature: floatPtr(2.5)}},
				},
			},
			expect: []string{"temperature must be within [0, 2]"},
		},
		{
			description: "validation retry bounds",
			workflow: &Workflow{
				Name: "retry",
				Steps: []*Step{
					{ID: "s1", Type: KindPrompt, Prompt: &PromptStep{
						Prompt: "x",
						Validation: &Validation{
							Schema:     map[string]interface{}{"type": "object"},
							MaxRetries: intPtr(11),
						},
					}},
				},
			},
			expect: []string{"max_retries must be within [0, 10]"},
		},
		{
			description: "select_item requires exactly one selector",
			workflow: &Workflow{
				Name: "sel",
				Steps: []*Step{
					{ID: "s1", Type: KindTransform, Transform: &TransformStep{
						Method: MethodSelectItem,
						Input:  "${steps.prev}",
						Index:  intPtr(0),
						Slice:  "1:3",
					}},
				},
			},
			expect: []string{"exactly one of index, slice or condition"},
		},
		{
			description: "invalid slice notation",
			workflow: &Workflow{
				Name: "slice",
				Steps: []*Step{
					{ID: "s1", Type: KindTransform, Transform: &TransformStep{
						Method: MethodSelectItem,
						Input:  "${steps.prev}",
						Slice:  "a:b",
					}},
				},
			},
			expect: []string{"invalid slice notation"},
		},
		{
			description: "invalid delay between batches",
			workflow: &Workflow{
				Name: "delay",
				Steps: []*Step{
					{ID: "s1", Type: KindCollection, Collection: &CollectionStep{
						Operation:   OperationMap,
						Input:       "${input.items}",
						Steps:       []*Step{{ID: "n", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}},
						Concurrency: &Concurrency{DelayBetweenBatches: "fast"},
					}},
				},
			},
			expect: []string{"invalid delay_between_batches"},
		},
		{
			description: "conditional cannot mix forms",
			workflow: &Workflow{
				Name: "cond",
				Steps: []*Step{
					{ID: "s1", Type: KindConditional, Conditional: &ConditionalStep{
						Condition:  "${input.flag}",
						IfTrue:     []*Step{{ID: "t", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}},
						Conditions: []*Branch{{Name: "b", Condition: "${input.flag}", Steps: []*Step{{ID: "c", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}}}},
					}},
				},
			},
			expect: []string{"cannot use both condition and conditions"},
		},
		{
			description: "two default branches",
			workflow: &Workflow{
				Name: "cond2",
				Steps: []*Step{
					{ID: "s1", Type: KindConditional, Conditional: &ConditionalStep{
						Conditions: []*Branch{
							{Name: "a", Default: true, Steps: []*Step{{ID: "x", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}}},
							{Name: "b", Default: true, Steps: []*Step{{ID: "y", Type: KindPrompt, Prompt: &PromptStep{Prompt: "y"}}}},
						},
					}},
				},
			},
			expect: []string{"only one default branch is allowed"},
		},
	}

	for _, testCase := range testCases {
		issues := testCase.workflow.Validate()
		if len(testCase.expect) == 0 {
			assert.Empty(t, issues, testCase.description)
			continue
		}
		require.NotEmpty(t, issues, testCase.description)
		joined := ""
		for _, issue := range issues {
			joined += issue.Error() + "\n"
		}
		for _, fragment := range testCase.expect {
			assert.Contains(t, joined, fragment, testCase.description)
		}
	}
}

func TestStep_UnmarshalYAML(t *testing.T) {
	data := `
name: pipeline
steps:
  - id: extract
    type: transform
    method: regex_extract
    input: ${input.text}
    pattern: '\d+'
    output_format: array
  - id: classify
    type: prompt
    on_error: continue
    prompt: "Classify: ${steps.extract}"
    max_tokens: 128
  - id: fan_out
    type: collection
    operation: map
    input: ${steps.extract}
    concurrency:
      max_parallel: 4
      batch_size: 2
      delay_between_batches: 100ms
    steps:
      - id: per_item
        type: prompt
        prompt: "Describe ${item}"
  - id: route
    type: conditional
    condition: ${input.verbose}
    if_true:
      - id: expand
        type: prompt
        prompt: expand
`
	var workflow Workflow
	require.NoError(t, yaml.Unmarshal([]byte(data), &workflow))
	require.Len(t, workflow.Steps, 4)

	transform := workflow.Steps[0]
	assert.Equal(t, KindTransform, transform.Type)
	require.NotNil(t, transform.Transform)
	assert.Equal(t, MethodRegexExtract, transform.Transform.Method)
	assert.Equal(t, "array", transform.Transform.OutputFormat)

	prompt := workflow.Steps[1]
	assert.Equal(t, OnErrorContinue, prompt.ErrorPolicy())
	require.NotNil(t, prompt.Prompt)
	assert.Equal(t, 128, prompt.Prompt.MaxTokens)

	collection := workflow.Steps[2]
	require.NotNil(t, collection.Collection)
	assert.Equal(t, OperationMap, collection.Collection.Operation)
	assert.Equal(t, 4, collection.Collection.Concurrency.MaxParallel)
	assert.Equal(t, "100ms", collection.Collection.Concurrency.DelayBetweenBatches)
	require.Len(t, collection.Collection.Steps, 1)
	assert.Equal(t, "per_item", collection.Collection.Steps[0].ID)

	conditional := workflow.Steps[3]
	require.NotNil(t, conditional.Conditional)
	assert.Equal(t, "${input.verbose}", conditional.Conditional.Condition)
	require.Len(t, conditional.Conditional.IfTrue, 1)

	assert.Empty(t, workflow.Validate())
}

func TestWorkflow_InputDefaults(t *testing.T) {
	workflow := &Workflow{
		Name: "w",
		Input: []*InputParameter{
			{Name: "text", Required: true},
			{Name: "limit", Default: 10},
		},
		Steps: []*Step{{ID: "s", Type: KindPrompt, Prompt: &PromptStep{Prompt: "x"}}},
	}

	resolved, err := workflow.InputDefaults(map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resolved["text"])
	assert.Equal(t, 10, resolved["limit"])

	_, err = workflow.InputDefaults(map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required input "text" is missing`)
}

func TestCollectionResult_ErrorRate(t *testing.T) {
	empty := &CollectionResult{Operation: OperationMap}
	assert.Equal(t, 0.0, empty.ErrorRate())

	partial := &CollectionResult{
		Operation:  OperationMap,
		InputCount: 4,
		Errors:     []ItemError{{Index: 1, Message: "boom"}},
	}
	assert.Equal(t, 0.25, partial.ErrorRate())
}
