package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windflow-ai/windflow/model"
)

const sampleWorkflow = `
name: digest
description: summarize and route a document
input:
  - name: text
    required: true
  - name: max_items
    default: 5
steps:
  - id: sections
    type: transform
    method: markdown_split
    input: ${input.text}
    split_type: section
  - id: summarize
    type: collection
    operation: map
    input: ${steps.sections}
    concurrency:
      max_parallel: 3
    steps:
      - id: section_summary
        type: prompt
        prompt: "Summarize: ${item}"
  - id: route
    type: conditional
    condition: len(steps.sections) > 1
    if_true:
      - id: combined
        type: prompt
        prompt: "Combine: ${steps.summarize.output}"
output:
  format: json
`

func TestService_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o644))

	service := New()
	workflow, err := service.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "digest", workflow.Name)
	require.Len(t, workflow.Steps, 3)
	assert.Equal(t, model.KindTransform, workflow.Steps[0].Type)
	assert.Equal(t, model.KindCollection, workflow.Steps[1].Type)
	assert.Equal(t, model.KindConditional, workflow.Steps[2].Type)
	require.Len(t, workflow.Input, 2)
	assert.True(t, workflow.Input[0].Required)
	assert.Equal(t, 5, workflow.Input[1].Default)
	assert.Equal(t, "json", workflow.Output.Format)
}

func TestService_Load_MissingExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "digest.yaml"), []byte(sampleWorkflow), 0o644))

	service := New()
	workflow, err := service.Load(context.Background(), filepath.Join(dir, "digest"))
	require.NoError(t, err)
	assert.Equal(t, "digest", workflow.Name)
}

func TestService_Load_InvalidWorkflow(t *testing.T) {
	invalid := `
name: broken
steps:
  - id: a
    type: prompt
    prompt: x
  - id: a
    type: prompt
    prompt: y
`
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o644))

	service := New()
	_, err := service.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestService_Validate_CollectsAllIssues(t *testing.T) {
	invalid := `
name: 9broken
steps:
  - id: a
    type: transform
    method: nonsense
    input: ${input.text}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o644))

	service := New()
	workflow, issues, err := service.Validate(context.Background(), path)
	require.NoError(t, err)
	assert.NotNil(t, workflow)
	require.Len(t, issues, 2)
}

func TestService_Validate_TemplateReferences(t *testing.T) {
	testCases := []struct {
		description string
		definition  string
		expect      string
	}{
		{
			description: "reference to a later step",
			definition: `
name: ordering
steps:
  - id: first
    type: prompt
    prompt: "Use ${steps.second.output}"
  - id: second
    type: prompt
    prompt: ok
`,
			expect: `unknown or later step "second"`,
		},
		{
			description: "unknown name in a condition",
			definition: `
name: naming
steps:
  - id: route
    type: conditional
    condition: missing > 1
    if_true:
      - id: inner
        type: prompt
        prompt: ok
`,
			expect: `unknown name "missing"`,
		},
		{
			description: "nested step ids stay scoped to the collection",
			definition: `
name: scoping
input:
  - name: items
steps:
  - id: each
    type: collection
    operation: map
    input: ${input.items}
    steps:
      - id: inner
        type: prompt
        prompt: "Handle ${item}"
  - id: after
    type: prompt
    prompt: "Use ${steps.inner.output}"
`,
			expect: `unknown or later step "inner"`,
		},
	}
	service := New()
	for _, testCase := range testCases {
		dir := t.TempDir()
		path := filepath.Join(dir, "workflow.yaml")
		require.NoError(t, os.WriteFile(path, []byte(testCase.definition), 0o644))

		_, issues, err := service.Validate(context.Background(), path)
		require.NoError(t, err, testCase.description)
		require.Len(t, issues, 1, testCase.description)
		assert.Contains(t, issues[0].Error(), testCase.expect, testCase.description)
	}
}

func TestService_Load_MissingFile(t *testing.T) {
	service := New()
	_, err := service.Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load workflow")
}
