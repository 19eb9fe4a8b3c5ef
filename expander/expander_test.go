package expander

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"name":  "alice",
			"count": 3,
		},
		"steps": map[string]interface{}{
			"extract": map[string]interface{}{
				"output": []interface{}{"a", "b", "c"},
			},
		},
	}

	testCases := []struct {
		description string
		template    string
		expect      string
		expectErr   bool
	}{
		{
			description: "plain text untouched",
			template:    "no references here",
			expect:      "no references here",
		},
		{
			description: "braced path",
			template:    "hello ${input.name}",
			expect:      "hello alice",
		},
		{
			description: "bare variable",
			template:    "hello $input.name.",
			expect:      "hello alice.",
		},
		{
			description: "array index",
			template:    "second: ${steps.extract.output[1]}",
			expect:      "second: b",
		},
		{
			description: "expression",
			template:    "next: ${input.count + 1}",
			expect:      "next: 4",
		},
		{
			description: "unresolved reference fails",
			template:    "hello ${input.missing}",
			expectErr:   true,
		},
		{
			description: "unbalanced braces fail",
			template:    "broken ${input.name",
			expectErr:   true,
		},
	}

	for _, testCase := range testCases {
		actual, err := Render(testCase.template, vars)
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestExpand_PreservesTypes(t *testing.T) {
	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"items": []interface{}{1, 2, 3},
			"limit": 5,
		},
	}

	typed, err := Expand("${input.items}", vars)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, typed)

	mixed, err := Expand("limit=${input.limit}", vars)
	require.NoError(t, err)
	assert.Equal(t, "limit=5", mixed)

	nested, err := Expand(map[string]interface{}{
		"all":   "${input.items}",
		"first": "${input.items[0]}",
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"all":   []interface{}{1, 2, 3},
		"first": 1,
	}, nested)
}

func TestEvaluate(t *testing.T) {
	vars := map[string]interface{}{
		"count": 4,
		"name":  "report",
		"flag":  true,
		"items": []interface{}{"a", "b"},
		"score": 2.5,
	}

	testCases := []struct {
		description string
		expr        string
		expect      interface{}
		expectErr   bool
	}{
		{description: "plain reference", expr: "count", expect: 4},
		{description: "comparison", expr: "count > 3", expect: true},
		{description: "equality on strings", expr: "name == 'report'", expect: true},
		{description: "logical and", expr: "flag && count > 1", expect: true},
		{description: "logical or", expr: "false || flag", expect: true},
		{description: "arithmetic stays integer", expr: "count * 2", expect: 8},
		{description: "mixed arithmetic promotes", expr: "score + count", expect: 6.5},
		{description: "len of slice", expr: "len(items) == 2", expect: true},
		{description: "negation", expr: "!flag", expect: false},
		{description: "modulo", expr: "count % 3", expect: 1},
		{description: "braced form accepted", expr: "${count + 1}", expect: 5},
		{description: "unresolved reference fails", expr: "missing + 1", expectErr: true},
		{description: "division by zero fails", expr: "count / 0", expectErr: true},
	}

	for _, testCase := range testCases {
		actual, err := Evaluate(testCase.expr, vars)
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("yes"))
	assert.True(t, Truthy("TRUE"))
	assert.True(t, Truthy("1"))
	assert.True(t, Truthy("on"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy([]interface{}{1}))

	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy("no"))
	assert.False(t, Truthy("maybe"))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy([]interface{}{}))
}

func TestReferences(t *testing.T) {
	testCases := []struct {
		description string
		template    string
		expect      []string
	}{
		{
			description: "plain text",
			template:    "no references here",
			expect:      nil,
		},
		{
			description: "mixed tokens",
			template:    "Summarize ${steps.extract.output} for $audience.",
			expect:      []string{"steps.extract.output", "audience"},
		},
		{
			description: "expression skips literals and len",
			template:    "${len(items) > 0 && mode == 'fast'}",
			expect:      []string{"items", "mode"},
		},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, References(testCase.template), testCase.description)
	}
}

func TestResolve_Unresolved(t *testing.T) {
	_, err := Resolve("steps.unknown", map[string]interface{}{"steps": map[string]interface{}{}})
	require.Error(t, err)
	var unresolved *UnresolvedError
	assert.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "steps.unknown", unresolved.Ref)
}
