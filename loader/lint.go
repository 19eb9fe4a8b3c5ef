package loader

import (
	"fmt"
	"strings"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/model"
)

// lintTemplates checks that every template and condition references only
// names visible at the point the step runs: declared inputs, results of
// earlier steps and the loop variables bound by the enclosing collection.
// The check is permissive where visibility is dynamic; conditional branch
// results count as visible downstream because branches share the run
// context.
func lintTemplates(workflow *model.Workflow) []error {
	scope := map[string]bool{"input": true, "workflow": true}
	for _, param := range workflow.Input {
		scope[param.Name] = true
	}
	committed := map[string]bool{}
	issues := lintSequence("", workflow.Steps, scope, committed)
	if workflow.Output != nil && workflow.Output.Template != "" {
		issues = append(issues, lintRefs("output", expander.References(workflow.Output.Template), scope, committed)...)
	}
	return issues
}

func lintSequence(prefix string, steps []*model.Step, scope, committed map[string]bool) []error {
	var issues []error
	for _, step := range steps {
		at := step.ID
		if prefix != "" {
			at = prefix + "/" + step.ID
		}
		issues = append(issues, lintStep(at, step, scope, committed)...)
		committed[step.ID] = true
	}
	return issues
}

func lintStep(at string, step *model.Step, scope, committed map[string]bool) []error {
	var issues []error
	switch step.Type {
	case model.KindPrompt:
		if step.Prompt != nil {
			issues = lintRefs(at, expander.References(step.Prompt.Prompt), scope, committed)
		}
	case model.KindTransform:
		if step.Transform == nil {
			break
		}
		issues = lintRefs(at, expander.References(step.Transform.Input), scope, committed)
		if step.Transform.Condition != "" {
			refs := expander.ExpressionReferences(step.Transform.Condition)
			issues = append(issues, lintRefs(at, refs, withNames(scope, "item", "index"), committed)...)
		}
		if step.Transform.TransformExpression != "" {
			refs := expander.ExpressionReferences(step.Transform.TransformExpression)
			issues = append(issues, lintRefs(at, refs, withNames(scope, "item", "index"), committed)...)
		}
		if step.Transform.Template != "" {
			refs := expander.References(step.Transform.Template)
			issues = append(issues, lintRefs(at, refs, withNames(scope, "value"), committed)...)
		}
	case model.KindCollection:
		config := step.Collection
		if config == nil {
			break
		}
		issues = lintRefs(at, expander.References(config.Input), scope, committed)
		names := []string{config.Item(), "index"}
		if config.Operation == model.OperationReduce {
			names = append(names, config.Accumulator())
		}
		elementScope := withNames(scope, names...)
		if config.Condition != "" {
			refs := expander.ExpressionReferences(config.Condition)
			issues = append(issues, lintRefs(at, refs, elementScope, committed)...)
		}
		// Nested sequences run in a forked context, so their step ids
		// stay invisible to later top-level steps.
		issues = append(issues, lintSequence(at, config.Steps, elementScope, copyNames(committed))...)
	case model.KindConditional:
		config := step.Conditional
		if config == nil {
			break
		}
		if config.Condition != "" {
			refs := expander.ExpressionReferences(config.Condition)
			issues = append(issues, lintRefs(at, refs, scope, committed)...)
		}
		issues = append(issues, lintSequence(at+"/if_true", config.IfTrue, scope, committed)...)
		issues = append(issues, lintSequence(at+"/if_false", config.IfFalse, scope, committed)...)
		for _, branch := range config.Conditions {
			if branch.Condition != "" {
				refs := expander.ExpressionReferences(branch.Condition)
				issues = append(issues, lintRefs(at, refs, scope, committed)...)
			}
			issues = append(issues, lintSequence(at+"/"+branch.Name, branch.Steps, scope, committed)...)
		}
	}
	return issues
}

func lintRefs(at string, refs []string, scope, committed map[string]bool) []error {
	var issues []error
	for _, ref := range refs {
		root, rest := splitRef(ref)
		if root == "steps" {
			id, _ := splitRef(rest)
			if id != "" && !committed[id] {
				issues = append(issues, fmt.Errorf("step %s: template references unknown or later step %q", at, id))
			}
			continue
		}
		if !scope[root] {
			issues = append(issues, fmt.Errorf("step %s: template references unknown name %q", at, ref))
		}
	}
	return issues
}

func splitRef(ref string) (head, rest string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' || ref[i] == '[' {
			return ref[:i], strings.TrimPrefix(ref[i:], ".")
		}
	}
	return ref, ""
}

func withNames(scope map[string]bool, names ...string) map[string]bool {
	extended := copyNames(scope)
	for _, name := range names {
		extended[name] = true
	}
	return extended
}

func copyNames(names map[string]bool) map[string]bool {
	copied := make(map[string]bool, len(names))
	for name := range names {
		copied[name] = true
	}
	return copied
}
