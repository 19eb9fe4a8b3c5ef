package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Transform methods.
const (
	MethodSplit          = "split"
	MethodExtractBetween = "extract_between"
	MethodRegexExtract   = "regex_extract"
	MethodSelectItem     = "select_item"
	MethodParseJSON      = "parse_json"
	MethodReplace        = "replace"
	MethodMarkdownSplit  = "markdown_split"
	MethodCSVParse       = "csv_parse"
	MethodYAMLParse      = "yaml_parse"
	MethodArraySort      = "array_sort"
	MethodArrayAggregate = "array_aggregate"
	MethodArrayTransform = "array_transform"
	MethodFormat         = "format"
	MethodFixedSplit     = "fixed_split"
)

// Markdown split granularities.
const (
	SplitSection   = "section"
	SplitParagraph = "paragraph"
	SplitSentence  = "sentence"
)

// Aggregate operations.
const (
	AggregateSum   = "sum"
	AggregateAvg   = "avg"
	AggregateMin   = "min"
	AggregateMax   = "max"
	AggregateCount = "count"
	AggregateJoin  = "join"
)

// Fixed split units.
const (
	SplitByCharacters = "characters"
	SplitByTokens     = "tokens"
)

var sliceNotation = regexp.MustCompile(`^(-?\d+)?:(-?\d+)?(:(-?\d+)?)?$`)

func (t *TransformStep) validate(at string) []error {
	var issues []error
	// format reads the context directly; for every other method the input
	// template is the datum being transformed.
	if t.Input == "" && t.Method != MethodFormat {
		issues = append(issues, fmt.Errorf("step %s: transform input is required", at))
	}
	switch t.Method {
	case MethodSplit:
		if t.Separator == "" {
			issues = append(issues, fmt.Errorf("step %s: split requires a separator", at))
		}
		if t.MaxSplits != nil && *t.MaxSplits < 0 {
			issues = append(issues, fmt.Errorf("step %s: max_splits cannot be negative", at))
		}
	case MethodExtractBetween:
		if t.Begin == "" || t.End == "" {
			issues = append(issues, fmt.Errorf("step %s: extract_between requires begin and end markers", at))
		}
	case MethodRegexExtract:
		if t.Pattern == "" {
			issues = append(issues, fmt.Errorf("step %s: regex_extract requires a pattern", at))
		} else if _, err := regexp.Compile(t.Pattern); err != nil {
			issues = append(issues, fmt.Errorf("step %s: invalid pattern: %v", at, err))
		}
		for _, flag := range t.Flags {
			switch flag {
			case "i", "m", "s":
			default:
				issues = append(issues, fmt.Errorf("step %s: unsupported regex flag %q", at, flag))
			}
		}
		if t.Group < 0 {
			issues = append(issues, fmt.Errorf("step %s: group cannot be negative", at))
		}
		switch t.OutputFormat {
		case "", "string", "array":
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported output_format %q", at, t.OutputFormat))
		}
	case MethodSelectItem:
		set := 0
		if t.Index != nil {
			set++
		}
		if t.Slice != "" {
			set++
			if !validSlice(t.Slice) {
				issues = append(issues, fmt.Errorf("step %s: invalid slice notation %q", at, t.Slice))
			}
		}
		if t.Condition != "" {
			set++
		}
		if set != 1 {
			issues = append(issues, fmt.Errorf("step %s: select_item requires exactly one of index, slice or condition", at))
		}
	case MethodParseJSON:
		// schema and strict are both optional
	case MethodReplace:
		if len(t.Replacements) == 0 {
			issues = append(issues, fmt.Errorf("step %s: replace requires at least one replacement", at))
		}
		for i, r := range t.Replacements {
			if r.From == "" && r.Pattern == "" {
				issues = append(issues, fmt.Errorf("step %s: replacement %d requires from or pattern", at, i))
			}
			if r.From != "" && r.Pattern != "" {
				issues = append(issues, fmt.Errorf("step %s: replacement %d cannot set both from and pattern", at, i))
			}
			if r.Pattern != "" {
				if _, err := regexp.Compile(r.Pattern); err != nil {
					issues = append(issues, fmt.Errorf("step %s: replacement %d: invalid pattern: %v", at, i, err))
				}
			}
		}
	case MethodMarkdownSplit:
		switch t.SplitType {
		case "", SplitSection, SplitParagraph, SplitSentence:
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported split_type %q", at, t.SplitType))
		}
		if t.HeaderLevel < 0 || t.HeaderLevel > 6 {
			issues = append(issues, fmt.Errorf("step %s: header_level must be within [0, 6]", at))
		}
	case MethodCSVParse:
		if len([]rune(t.Delimiter)) > 1 {
			issues = append(issues, fmt.Errorf("step %s: delimiter must be a single character", at))
		}
	case MethodYAMLParse:
		// no method-specific configuration
	case MethodArraySort:
		// sort_key and sort_reverse are both optional
	case MethodArrayAggregate:
		switch t.AggregateOperation {
		case AggregateSum, AggregateAvg, AggregateMin, AggregateMax, AggregateCount, AggregateJoin:
		case "":
			issues = append(issues, fmt.Errorf("step %s: array_aggregate requires an aggregate_operation", at))
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported aggregate_operation %q", at, t.AggregateOperation))
		}
	case MethodArrayTransform:
		if t.TransformExpression == "" {
			issues = append(issues, fmt.Errorf("step %s: array_transform requires a transform_expression", at))
		}
	case MethodFormat:
		if t.Template == "" {
			issues = append(issues, fmt.Errorf("step %s: format requires a template", at))
		}
	case MethodFixedSplit:
		if t.Size <= 0 {
			issues = append(issues, fmt.Errorf("step %s: fixed_split requires a positive size", at))
		} else if t.Overlap < 0 || t.Overlap >= t.Size {
			issues = append(issues, fmt.Errorf("step %s: overlap must be within [0, size)", at))
		}
		switch t.SplitBy {
		case "", SplitByCharacters, SplitByTokens:
		default:
			issues = append(issues, fmt.Errorf("step %s: unsupported split_by %q", at, t.SplitBy))
		}
	case "":
		issues = append(issues, fmt.Errorf("step %s: transform method is required", at))
	default:
		issues = append(issues, fmt.Errorf("step %s: unsupported transform method %q", at, t.Method))
	}
	return issues
}

func validSlice(expr string) bool {
	if !sliceNotation.MatchString(expr) {
		return false
	}
	for _, part := range strings.Split(expr, ":") {
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}
