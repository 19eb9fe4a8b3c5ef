// Package expander renders $var / ${expr} templates and evaluates
// expressions against a variable scope. Unresolved references surface as
// errors instead of silently expanding to empty strings.
package expander

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/viant/toolbox"
)

// UnresolvedError reports a reference that has no value in the scope.
type UnresolvedError struct {
	Ref string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved reference %q", e.Ref)
}

// Render interpolates every ${expr} and $var token in the template.
// Non-string resolved values are stringified. A reference that cannot be
// resolved fails the whole render.
func Render(template string, vars map[string]interface{}) (string, error) {
	if !strings.Contains(template, "$") {
		return template, nil
	}
	result := template
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		length := matchingBrace(result[start:])
		if length == -1 {
			return "", fmt.Errorf("unbalanced braces in template at offset %d", start)
		}
		expr := result[start+2 : start+length]
		value, err := Evaluate(expr, vars)
		if err != nil {
			return "", err
		}
		result = result[:start] + Stringify(value) + result[start+length+1:]
	}
	return renderBareVars(result, vars)
}

// renderBareVars interpolates $name.path tokens left after ${} processing.
func renderBareVars(text string, vars map[string]interface{}) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		if text[i] != '$' || i+1 >= len(text) || !identStart(text[i+1]) {
			out.WriteByte(text[i])
			i++
			continue
		}
		j := i + 1
		for j < len(text) && identPart(text[j]) {
			j++
		}
		// A trailing dot belongs to the surrounding text, not the path.
		for j > i+1 && text[j-1] == '.' {
			j--
		}
		ref := text[i+1 : j]
		value, err := Resolve(ref, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(Stringify(value))
		i = j
	}
	return out.String(), nil
}

// Expand resolves templates while preserving types: a string that is a
// single ${expr} token yields the typed value; mixed text renders to a
// string; maps and slices are expanded recursively.
func Expand(value interface{}, vars map[string]interface{}) (interface{}, error) {
	switch actual := value.(type) {
	case string:
		if isSingleToken(actual) {
			return Evaluate(actual[2:len(actual)-1], vars)
		}
		return Render(actual, vars)
	case map[string]interface{}:
		expanded := make(map[string]interface{}, len(actual))
		for key, element := range actual {
			expandedKey := key
			if strings.Contains(key, "$") {
				rendered, err := Render(key, vars)
				if err != nil {
					return nil, err
				}
				expandedKey = rendered
			}
			expandedElement, err := Expand(element, vars)
			if err != nil {
				return nil, err
			}
			expanded[expandedKey] = expandedElement
		}
		return expanded, nil
	case []interface{}:
		expanded := make([]interface{}, len(actual))
		for i, element := range actual {
			item, err := Expand(element, vars)
			if err != nil {
				return nil, err
			}
			expanded[i] = item
		}
		return expanded, nil
	}
	return value, nil
}

// isSingleToken reports whether the whole string is one ${...} token.
func isSingleToken(value string) bool {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return false
	}
	return matchingBrace(value) == len(value)-1
}

// matchingBrace returns the index of the brace closing the leading "${",
// or -1 when unbalanced.
func matchingBrace(s string) int {
	if !strings.HasPrefix(s, "${") {
		return -1
	}
	depth := 0
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// References lists the variable references a template reads: identifiers
// inside ${expr} blocks plus bare $name.path tokens. String literals and
// builtin names are excluded. Plain text yields nil.
func References(template string) []string {
	var refs []string
	text := template
	for {
		start := strings.Index(text, "${")
		if start == -1 {
			break
		}
		length := matchingBrace(text[start:])
		if length == -1 {
			break
		}
		refs = append(refs, ExpressionReferences(text[start+2:start+length])...)
		text = text[:start] + text[start+length+1:]
	}
	i := 0
	for i < len(text) {
		if text[i] != '$' || i+1 >= len(text) || !identStart(text[i+1]) {
			i++
			continue
		}
		j := i + 1
		for j < len(text) && identPart(text[j]) {
			j++
		}
		for j > i+1 && text[j-1] == '.' {
			j--
		}
		refs = append(refs, text[i+1:j])
		i = j
	}
	return refs
}

// ExpressionReferences lists the references an expression reads, skipping
// quoted strings, booleans and len.
func ExpressionReferences(expr string) []string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}") {
		expr = expr[2 : len(expr)-1]
	}
	var refs []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		if c == '\'' || c == '"' {
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				break
			}
			i += end + 2
			continue
		}
		if !identStart(c) {
			i++
			continue
		}
		j := i
		for j < len(expr) && refPart(expr[j]) {
			j++
		}
		ref := expr[i:j]
		i = j
		switch ref {
		case "true", "false", "len":
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// Resolve navigates a dot/bracket path ("steps.extract.output[2].name")
// through the scope. Missing names and out-of-range indexes return
// *UnresolvedError.
func Resolve(path string, vars map[string]interface{}) (interface{}, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, &UnresolvedError{Ref: path}
	}
	current, ok := vars[segments[0].name]
	if !ok {
		return nil, &UnresolvedError{Ref: path}
	}
	for _, segment := range segments[1:] {
		if segment.index != nil {
			element, ok := elementAt(current, *segment.index)
			if !ok {
				return nil, &UnresolvedError{Ref: path}
			}
			current = element
			continue
		}
		property, ok := propertyOf(current, segment.name)
		if !ok {
			return nil, &UnresolvedError{Ref: path}
		}
		current = property
	}
	return current, nil
}

type pathSegment struct {
	name  string
	index *int
}

func parsePath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	i := 0
	for i < len(path) {
		switch {
		case path[i] == '.':
			i++
		case path[i] == '[':
			close := strings.IndexByte(path[i:], ']')
			if close < 0 {
				return nil, fmt.Errorf("malformed path %q", path)
			}
			index, err := strconv.Atoi(path[i+1 : i+close])
			if err != nil {
				return nil, fmt.Errorf("malformed index in path %q", path)
			}
			segments = append(segments, pathSegment{index: &index})
			i += close + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			segments = append(segments, pathSegment{name: path[i:j]})
			i = j
		}
	}
	return segments, nil
}

func propertyOf(value interface{}, name string) (interface{}, bool) {
	switch actual := value.(type) {
	case map[string]interface{}:
		v, ok := actual[name]
		return v, ok
	case map[string]string:
		v, ok := actual[name]
		return v, ok
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name))
		if !v.IsValid() || !v.CanInterface() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		field := rv.FieldByName(name)
		if !field.IsValid() {
			typ := rv.Type()
			for i := 0; i < typ.NumField(); i++ {
				if strings.EqualFold(typ.Field(i).Name, name) {
					field = rv.Field(i)
					break
				}
			}
		}
		if !field.IsValid() || !field.CanInterface() {
			return nil, false
		}
		return field.Interface(), true
	}
	return nil, false
}

func elementAt(value interface{}, index int) (interface{}, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if index < 0 || index >= rv.Len() {
		return nil, false
	}
	element := rv.Index(index)
	if !element.CanInterface() {
		return nil, false
	}
	return element.Interface(), true
}

// AsSlice coerces a resolved value to []interface{}.
func AsSlice(value interface{}) ([]interface{}, bool) {
	if items, ok := value.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// Truthy coerces a value to a boolean: booleans pass through, strings
// count as true only for "true", "1", "yes" and "on" (case-insensitive),
// numbers are true when non-zero, collections when non-empty.
func Truthy(value interface{}) bool {
	switch actual := value.(type) {
	case nil:
		return false
	case bool:
		return actual
	case string:
		switch strings.ToLower(strings.TrimSpace(actual)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return toolbox.AsFloat(value) != 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Stringify converts a value to its interpolation form; nil renders empty.
func Stringify(value interface{}) string {
	if value == nil {
		return ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.String:
		return rv.String()
	}
	return toolbox.AsString(value)
}

func identStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identPart(c byte) bool {
	return identStart(c) || c == '.' || (c >= '0' && c <= '9')
}
