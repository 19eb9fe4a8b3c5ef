package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/model"
)

// runTransform applies one deterministic text operation. Transforms never
// perform I/O; malformed input yields a TransformError.
func (e *Engine) runTransform(step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Transform
	input, err := expander.Expand(config.Input, execCtx.Vars())
	if err != nil {
		return nil, &TemplateError{Step: step.ID, Err: err}
	}

	var result interface{}
	var opErr error
	switch config.Method {
	case model.MethodSplit:
		result, opErr = transformSplit(config, asText(input))
	case model.MethodExtractBetween:
		result, opErr = transformExtractBetween(config, asText(input))
	case model.MethodRegexExtract:
		result, opErr = transformRegexExtract(config, asText(input))
	case model.MethodSelectItem:
		result, opErr = e.transformSelectItem(config, input, execCtx)
	case model.MethodParseJSON:
		result, opErr = transformParseJSON(config, asText(input))
	case model.MethodReplace:
		result, opErr = transformReplace(config, asText(input))
	case model.MethodMarkdownSplit:
		result, opErr = transformMarkdownSplit(config, asText(input))
	case model.MethodCSVParse:
		result, opErr = transformCSVParse(config, asText(input))
	case model.MethodYAMLParse:
		result, opErr = transformYAMLParse(asText(input))
	case model.MethodArraySort:
		result, opErr = transformArraySort(config, input)
	case model.MethodArrayAggregate:
		result, opErr = transformArrayAggregate(config, input)
	case model.MethodArrayTransform:
		result, opErr = transformArrayTransform(config, input, execCtx)
	case model.MethodFormat:
		result, opErr = transformFormat(config, input, execCtx)
	case model.MethodFixedSplit:
		result, opErr = transformFixedSplit(config, asText(input))
	default:
		opErr = fmt.Errorf("unsupported method %q", config.Method)
	}
	if opErr != nil {
		return nil, &TransformError{Step: step.ID, Method: config.Method, Err: opErr}
	}
	return result, nil
}

func asText(input interface{}) string {
	if text, ok := input.(string); ok {
		return text
	}
	return expander.Stringify(input)
}

func transformSplit(config *model.TransformStep, input string) (interface{}, error) {
	var parts []string
	if config.MaxSplits != nil {
		parts = strings.SplitN(input, config.Separator, *config.MaxSplits+1)
	} else {
		parts = strings.Split(input, config.Separator)
	}
	return toInterfaceSlice(parts), nil
}

func transformExtractBetween(config *model.TransformStep, input string) (interface{}, error) {
	var extracted []string
	rest := input
	for {
		start := strings.Index(rest, config.Begin)
		if start == -1 {
			break
		}
		rest = rest[start+len(config.Begin):]
		end := strings.Index(rest, config.End)
		if end == -1 {
			break
		}
		extracted = append(extracted, rest[:end])
		rest = rest[end+len(config.End):]
		if !config.All {
			break
		}
	}
	if len(extracted) == 0 {
		return nil, fmt.Errorf("markers %q..%q not found", config.Begin, config.End)
	}
	if config.All {
		return toInterfaceSlice(extracted), nil
	}
	return extracted[0], nil
}

func transformRegexExtract(config *model.TransformStep, input string) (interface{}, error) {
	pattern := config.Pattern
	if len(config.Flags) > 0 {
		pattern = "(?" + strings.Join(config.Flags, "") + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	matches := re.FindAllStringSubmatch(input, -1)
	var extracted []string
	for _, match := range matches {
		if config.Group >= len(match) {
			return nil, fmt.Errorf("group %d out of range for pattern %q", config.Group, config.Pattern)
		}
		extracted = append(extracted, match[config.Group])
	}
	if config.OutputFormat == "array" {
		return toInterfaceSlice(extracted), nil
	}
	if len(extracted) == 0 {
		return "", nil
	}
	return extracted[0], nil
}

func (e *Engine) transformSelectItem(config *model.TransformStep, input interface{}, execCtx *Context) (interface{}, error) {
	items, ok := expander.AsSlice(input)
	if !ok {
		return nil, fmt.Errorf("input is not an array (got %T)", input)
	}
	switch {
	case config.Index != nil:
		index := *config.Index
		if index < 0 {
			index += len(items)
		}
		if index < 0 || index >= len(items) {
			return nil, fmt.Errorf("index %d out of range for %d item(s)", *config.Index, len(items))
		}
		return items[index], nil
	case config.Slice != "":
		return sliceItems(items, config.Slice)
	case config.Condition != "":
		for i, item := range items {
			vars := execCtx.Fork(map[string]interface{}{"item": item, "index": i}).Vars()
			keep, err := expander.EvaluateBool(config.Condition, vars)
			if err != nil {
				return nil, err
			}
			if keep {
				return item, nil
			}
		}
		return nil, fmt.Errorf("no item matched condition %q", config.Condition)
	}
	return nil, fmt.Errorf("no selector configured")
}

// sliceItems applies python-style "start:end:step" notation.
func sliceItems(items []interface{}, notation string) (interface{}, error) {
	parts := strings.Split(notation, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid slice notation %q", notation)
	}
	n := len(items)
	parseBound := func(raw string, fallback int) (int, error) {
		if raw == "" {
			return fallback, nil
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid slice notation %q", notation)
		}
		if value < 0 {
			value += n
		}
		if value < 0 {
			value = 0
		}
		if value > n {
			value = n
		}
		return value, nil
	}
	start, err := parseBound(parts[0], 0)
	if err != nil {
		return nil, err
	}
	end, err := parseBound(parts[1], n)
	if err != nil {
		return nil, err
	}
	step := 1
	if len(parts) == 3 && parts[2] != "" {
		step, err = strconv.Atoi(parts[2])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid slice step in %q", notation)
		}
	}
	selected := make([]interface{}, 0)
	for i := start; i < end; i += step {
		selected = append(selected, items[i])
	}
	return selected, nil
}

func transformParseJSON(config *model.TransformStep, input string) (interface{}, error) {
	trimmed := strings.TrimSpace(input)
	var data interface{}
	parseErr := json.Unmarshal([]byte(trimmed), &data)
	if parseErr != nil {
		if fenced := extractFenced(trimmed); fenced != "" {
			parseErr = json.Unmarshal([]byte(fenced), &data)
		}
	}

	valid := parseErr == nil
	schemaValid := true
	var issues []string
	if parseErr != nil {
		issues = append(issues, parseErr.Error())
	} else if len(config.Schema) > 0 {
		ok, schemaErrors, err := checkSchema(config.Schema, data)
		if err != nil {
			return nil, err
		}
		schemaValid = ok
		issues = append(issues, schemaErrors...)
	}

	if config.Strict && (!valid || !schemaValid) {
		return nil, fmt.Errorf("strict parse failed: %s", strings.Join(issues, "; "))
	}
	return map[string]interface{}{
		"data": data,
		"validation_result": map[string]interface{}{
			"valid":        valid,
			"schema_valid": schemaValid,
			"errors":       issues,
		},
		"metadata": map[string]interface{}{
			"input_length": len(input),
		},
	}, nil
}

func transformReplace(config *model.TransformStep, input string) (interface{}, error) {
	result := input
	for i, rule := range config.Replacements {
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("replacement %d: invalid pattern: %v", i, err)
			}
			result = re.ReplaceAllString(result, rule.To)
			continue
		}
		result = strings.ReplaceAll(result, rule.From, rule.To)
	}
	return result, nil
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

func transformMarkdownSplit(config *model.TransformStep, input string) (interface{}, error) {
	splitType := config.SplitType
	if splitType == "" {
		splitType = model.SplitSection
	}
	switch splitType {
	case model.SplitSection:
		return markdownSections(input, config.HeaderLevel), nil
	case model.SplitParagraph:
		var paragraphs []string
		for _, block := range regexp.MustCompile(`\n\s*\n`).Split(input, -1) {
			if trimmed := strings.TrimSpace(block); trimmed != "" {
				paragraphs = append(paragraphs, trimmed)
			}
		}
		return toInterfaceSlice(paragraphs), nil
	case model.SplitSentence:
		var sentences []string
		rest := input
		for {
			loc := sentenceBoundary.FindStringIndex(rest)
			if loc == nil {
				break
			}
			if sentence := strings.TrimSpace(rest[:loc[1]]); sentence != "" {
				sentences = append(sentences, sentence)
			}
			rest = rest[loc[1]:]
		}
		if trimmed := strings.TrimSpace(rest); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
		return toInterfaceSlice(sentences), nil
	}
	return nil, fmt.Errorf("unsupported split_type %q", splitType)
}

// markdownSections splits at header lines. With headerLevel 0 any header
// starts a section; otherwise only headers of exactly that level do.
func markdownSections(input string, headerLevel int) []interface{} {
	isHeader := func(line string) bool {
		trimmed := strings.TrimSpace(line)
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level == 0 || level > 6 || level >= len(trimmed) || trimmed[level] != ' ' {
			return false
		}
		return headerLevel == 0 || level == headerLevel
	}

	var sections []string
	var current []string
	flush := func() {
		if section := strings.TrimSpace(strings.Join(current, "\n")); section != "" {
			sections = append(sections, section)
		}
		current = nil
	}
	for _, line := range strings.Split(input, "\n") {
		if isHeader(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return toInterfaceSlice(sections)
}

func toInterfaceSlice(values []string) []interface{} {
	result := make([]interface{}, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
