package engine

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/model"
)

// transformCSVParse parses delimited text into one map per data row, keyed
// by the header row. An empty delimiter auto-detects among comma, tab,
// semicolon and pipe.
func transformCSVParse(config *model.TransformStep, input string) (interface{}, error) {
	data := strings.TrimSpace(input)
	if data == "" {
		return []interface{}{}, nil
	}
	reader := csv.NewReader(strings.NewReader(data))
	reader.Comma = csvDelimiter(config.Delimiter, data)
	reader.TrimLeadingSpace = true
	if !config.ColumnsStrict() {
		reader.FieldsPerRecord = -1
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %v", err)
	}
	if len(records) < 2 {
		return []interface{}{}, nil
	}
	header := records[0]
	rows := make([]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			} else {
				row[column] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// csvDelimiter resolves the delimiter: configured wins, otherwise the most
// frequent candidate in the leading kilobyte (comma when none occurs).
func csvDelimiter(configured, data string) rune {
	if configured != "" {
		return []rune(configured)[0]
	}
	sample := data
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	best, bestCount := ',', 0
	for _, candidate := range []rune{',', '\t', ';', '|'} {
		if count := strings.Count(sample, string(candidate)); count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}

func transformYAMLParse(input string) (interface{}, error) {
	var data interface{}
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(input)), &data); err != nil {
		return nil, fmt.Errorf("invalid yaml: %v", err)
	}
	return data, nil
}

// transformArraySort orders the elements, by sort_key when configured.
// Numeric pairs compare numerically; anything else falls back to the
// stringified form, so mixed-type arrays stay sortable.
func transformArraySort(config *model.TransformStep, input interface{}) (interface{}, error) {
	items, ok := expander.AsSlice(input)
	if !ok {
		return nil, fmt.Errorf("input is not an array (got %T)", input)
	}
	sorted := make([]interface{}, len(items))
	copy(sorted, items)
	key := func(item interface{}) interface{} {
		if config.SortKey == "" {
			return item
		}
		if m, ok := item.(map[string]interface{}); ok {
			if value, ok := m[config.SortKey]; ok {
				return value
			}
		}
		return expander.Stringify(item)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if config.SortReverse {
			return sortLess(key(sorted[j]), key(sorted[i]))
		}
		return sortLess(key(sorted[i]), key(sorted[j]))
	})
	return sorted, nil
}

func sortLess(x, y interface{}) bool {
	fx, okX := asNumber(x)
	fy, okY := asNumber(y)
	if okX && okY {
		return fx < fy
	}
	return expander.Stringify(x) < expander.Stringify(y)
}

func asNumber(value interface{}) (float64, bool) {
	switch actual := value.(type) {
	case int:
		return float64(actual), true
	case int8:
		return float64(actual), true
	case int16:
		return float64(actual), true
	case int32:
		return float64(actual), true
	case int64:
		return float64(actual), true
	case uint:
		return float64(actual), true
	case uint8:
		return float64(actual), true
	case uint16:
		return float64(actual), true
	case uint32:
		return float64(actual), true
	case uint64:
		return float64(actual), true
	case float32:
		return float64(actual), true
	case float64:
		return actual, true
	}
	return 0, false
}

// transformArrayAggregate folds the array into a scalar. sum, avg, min and
// max consider only the numeric elements; join stringifies everything.
func transformArrayAggregate(config *model.TransformStep, input interface{}) (interface{}, error) {
	items, ok := expander.AsSlice(input)
	if !ok {
		return nil, fmt.Errorf("input is not an array (got %T)", input)
	}
	switch config.AggregateOperation {
	case model.AggregateCount:
		return len(items), nil
	case model.AggregateJoin:
		separator := config.Separator
		if separator == "" {
			separator = ", "
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = expander.Stringify(item)
		}
		return strings.Join(parts, separator), nil
	}

	var values []interface{}
	var numbers []float64
	wholeNumbers := true
	for _, item := range items {
		n, ok := asNumber(item)
		if !ok {
			continue
		}
		if _, isFloat := item.(float64); isFloat {
			wholeNumbers = false
		}
		if _, isFloat := item.(float32); isFloat {
			wholeNumbers = false
		}
		values = append(values, item)
		numbers = append(numbers, n)
	}

	switch config.AggregateOperation {
	case model.AggregateSum:
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		if wholeNumbers {
			return int(sum), nil
		}
		return sum, nil
	case model.AggregateAvg:
		if len(numbers) == 0 {
			return 0, nil
		}
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		return sum / float64(len(numbers)), nil
	case model.AggregateMin, model.AggregateMax:
		if len(numbers) == 0 {
			return nil, nil
		}
		pick := 0
		for i, n := range numbers[1:] {
			if config.AggregateOperation == model.AggregateMin && n < numbers[pick] {
				pick = i + 1
			}
			if config.AggregateOperation == model.AggregateMax && n > numbers[pick] {
				pick = i + 1
			}
		}
		return values[pick], nil
	}
	return nil, fmt.Errorf("unsupported aggregate_operation %q", config.AggregateOperation)
}

// transformArrayTransform evaluates the expression once per element with
// item and index bound. Elements the expression cannot evaluate pass
// through unchanged.
func transformArrayTransform(config *model.TransformStep, input interface{}, execCtx *Context) (interface{}, error) {
	items, ok := expander.AsSlice(input)
	if !ok {
		return nil, fmt.Errorf("input is not an array (got %T)", input)
	}
	transformed := make([]interface{}, len(items))
	for i, item := range items {
		vars := execCtx.Fork(map[string]interface{}{"item": item, "index": i}).Vars()
		value, err := expander.Evaluate(config.TransformExpression, vars)
		if err != nil {
			transformed[i] = item
			continue
		}
		transformed[i] = value
	}
	return transformed, nil
}

// transformFormat renders the template against the full run context; the
// resolved input, when configured, is bound as value.
func transformFormat(config *model.TransformStep, input interface{}, execCtx *Context) (interface{}, error) {
	vars := execCtx.Fork(map[string]interface{}{"value": input}).Vars()
	return expander.Render(config.Template, vars)
}

func transformFixedSplit(config *model.TransformStep, input string) (interface{}, error) {
	switch config.SplitUnit() {
	case model.SplitByCharacters:
		return fixedCharChunks(input, config.Size, config.Overlap, config.Boundaries()), nil
	case model.SplitByTokens:
		return fixedWordChunks(input, config.Size, config.Overlap), nil
	}
	return nil, fmt.Errorf("unsupported split_by %q", config.SplitBy)
}

// fixedCharChunks cuts the text into size-character windows with overlap.
// With boundary preservation a window retreats to the last space, but never
// by more than a tenth of the window.
func fixedCharChunks(input string, size, overlap int, preserveBoundaries bool) []interface{} {
	chunks := []interface{}{}
	start, index := 0, 0
	for start < len(input) {
		end := start + size
		if end > len(input) {
			end = len(input)
		}
		if preserveBoundaries && end < len(input) {
			boundary := end
			for boundary > start && input[boundary] != ' ' {
				boundary--
			}
			if boundary > start && end-boundary <= size/10 {
				end = boundary
			}
		}
		content := strings.TrimSpace(input[start:end])
		if content != "" {
			chunks = append(chunks, map[string]interface{}{
				"content":    content,
				"index":      index,
				"start_pos":  start,
				"end_pos":    end,
				"char_count": len(content),
				"word_count": len(strings.Fields(content)),
			})
			index++
		}
		if end >= len(input) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// fixedWordChunks cuts the text into size-word windows with overlap.
func fixedWordChunks(input string, size, overlap int) []interface{} {
	words := strings.Fields(input)
	chunks := []interface{}{}
	index := 0
	for start := 0; start < len(words); {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		content := strings.Join(words[start:end], " ")
		chunks = append(chunks, map[string]interface{}{
			"content":     content,
			"index":       index,
			"start_token": start,
			"end_token":   end,
			"token_count": end - start,
			"char_count":  len(content),
		})
		index++
		if end >= len(words) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
