package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/windflow-ai/windflow/model"
)

// runValidatedPrompt drives the validation retry loop: each attempt calls
// the provider, parses the output as JSON and checks it against the schema.
// A failed attempt re-asks with a corrective prompt until the retry budget
// is spent.
func (e *Engine) runValidatedPrompt(ctx context.Context, step *model.Step, execCtx *Context, prompt string) (interface{}, error) {
	validation := step.Prompt.Validation
	budget := validation.RetryBudget()

	currentPrompt := prompt
	attempts := 0
	var lastErrors []string
	var best interface{}
	for {
		text, _, err := e.completeWithContinuation(ctx, step, execCtx, currentPrompt)
		if err != nil {
			return nil, err
		}
		attempts++

		parsed, parseErr := parseJSONOutput(text, validation.ExtractJSONPattern)
		if parseErr != nil {
			lastErrors = []string{parseErr.Error()}
		} else {
			valid, schemaErrors, err := checkSchema(validation.Schema, parsed)
			if err != nil {
				return nil, &ValidationError{Step: step.ID, Attempts: attempts, Errors: []string{err.Error()}}
			}
			if valid {
				return parsed, nil
			}
			// The full response parsed but failed the schema; the pattern
			// may still isolate a conforming fragment.
			if fragment, ok := extractPatternJSON(text, validation.ExtractJSONPattern); ok {
				fragmentValid, _, err := checkSchema(validation.Schema, fragment)
				if err != nil {
					return nil, &ValidationError{Step: step.ID, Attempts: attempts, Errors: []string{err.Error()}}
				}
				if fragmentValid {
					return fragment, nil
				}
			}
			lastErrors = schemaErrors
			best = parsed
		}

		if attempts > budget {
			break
		}
		e.logger.Debug("output failed validation, retrying",
			zap.String("step", step.ID), zap.Int("attempt", attempts), zap.Strings("errors", lastErrors))
		currentPrompt = retryPrompt(validation, prompt, lastErrors)
	}

	if validation.AllowPartialSuccess {
		return map[string]interface{}{
			"data":   best,
			"valid":  false,
			"errors": lastErrors,
		}, nil
	}
	return nil, &ValidationError{Step: step.ID, Attempts: attempts, Errors: lastErrors}
}

// parseJSONOutput parses the provider output as JSON. When direct parsing
// fails and an extraction pattern is configured, the first match (capture
// group 1 when present) is parsed instead.
func parseJSONOutput(text, extractPattern string) (interface{}, error) {
	candidate := strings.TrimSpace(text)
	var parsed interface{}
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
		return parsed, nil
	}
	if fenced := extractFenced(candidate); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), &parsed); err == nil {
			return parsed, nil
		}
	}
	if extracted, ok := extractPatternJSON(candidate, extractPattern); ok {
		return extracted, nil
	}
	return nil, fmt.Errorf("output is not valid JSON")
}

// extractPatternJSON applies the extraction pattern (capture group 1 when
// present) and parses the fragment as JSON. The pattern is syntax-checked
// at load time.
func extractPatternJSON(text, extractPattern string) (interface{}, bool) {
	if extractPattern == "" {
		return nil, false
	}
	re, err := regexp.Compile(extractPattern)
	if err != nil {
		return nil, false
	}
	match := re.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return nil, false
	}
	fragment := match[0]
	if len(match) > 1 && match[1] != "" {
		fragment = match[1]
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// extractFenced returns the body of the first ```json code fence, if any.
func extractFenced(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return ""
	}
	rest := text[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline != -1 {
		rest = rest[newline+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// checkSchema validates a parsed value against an inline JSON schema.
func checkSchema(schema map[string]interface{}, value interface{}) (bool, []string, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return false, nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	descriptions := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		descriptions = append(descriptions, issue.String())
	}
	return false, descriptions, nil
}

// retryPrompt builds the corrective prompt for a validation retry: the
// original request plus either the configured retry instruction or a
// default one naming the validation errors.
func retryPrompt(validation *model.Validation, original string, errors []string) string {
	instruction := validation.RetryPrompt
	if instruction == "" {
		var b strings.Builder
		b.WriteString("The previous response did not match the required JSON schema.")
		if len(errors) > 0 {
			b.WriteString(" Problems:\n")
			for _, issue := range errors {
				b.WriteString("- ")
				b.WriteString(issue)
				b.WriteString("\n")
			}
		}
		b.WriteString("Respond again with JSON that satisfies the schema.")
		instruction = b.String()
	}
	return original + "\n\n" + instruction
}
