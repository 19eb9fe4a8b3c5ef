package expander

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/viant/toolbox"
)

// Evaluate resolves a condition or arithmetic expression against the scope.
// Plain references ("steps.extract.output") resolve via path navigation;
// expressions ("count > 3 && input.mode == 'fast'") are parsed as Go
// expressions after literal substitution. len(x) is supported.
func Evaluate(expr string, vars map[string]interface{}) (interface{}, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}") {
		expr = strings.TrimSpace(expr[2 : len(expr)-1])
	}
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if !hasOperators(expr) && !strings.Contains(expr, "len(") {
		switch expr {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if literal, ok := numericLiteral(expr); ok {
			return literal, nil
		}
		if quoted, ok := stringLiteral(expr); ok {
			return quoted, nil
		}
		return Resolve(expr, vars)
	}
	substituted, err := substituteRefs(expr, vars)
	if err != nil {
		return nil, err
	}
	parsed, err := parser.ParseExpr(substituted)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %v", expr, err)
	}
	return evalNode(parsed)
}

// EvaluateBool evaluates the expression and coerces the result to a boolean.
func EvaluateBool(expr string, vars map[string]interface{}) (bool, error) {
	value, err := Evaluate(expr, vars)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

var operators = []string{"==", "!=", ">=", "<=", "&&", "||", ">", "<", "+", "*", "/", "%", "!"}

func hasOperators(expr string) bool {
	for _, op := range operators {
		if strings.Contains(expr, op) {
			return true
		}
	}
	// A minus counts only between tokens, not as a leading sign.
	if i := strings.Index(expr, "-"); i > 0 {
		return true
	}
	return false
}

func numericLiteral(expr string) (interface{}, bool) {
	if v, err := strconv.Atoi(expr); err == nil {
		return v, true
	}
	if v, err := strconv.ParseFloat(expr, 64); err == nil {
		return v, true
	}
	return nil, false
}

func stringLiteral(expr string) (string, bool) {
	if len(expr) >= 2 {
		if (expr[0] == '\'' && expr[len(expr)-1] == '\'') ||
			(expr[0] == '"' && expr[len(expr)-1] == '"') {
			return expr[1 : len(expr)-1], true
		}
	}
	return "", false
}

// substituteRefs rewrites variable references as Go literals so the result
// parses with go/parser. Quoted segments pass through untouched; single
// quotes become double quotes.
func substituteRefs(expr string, vars map[string]interface{}) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(expr) {
		c := expr[i]
		if c == '\'' || c == '"' {
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return "", fmt.Errorf("unterminated string in expression %q", expr)
			}
			out.WriteByte('"')
			out.WriteString(expr[i+1 : i+1+end])
			out.WriteByte('"')
			i += end + 2
			continue
		}
		if !identStart(c) {
			out.WriteByte(c)
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
		case "true", "false":
			out.WriteString(ref)
			continue
		case "len":
			literal, consumed, err := substituteLen(expr[i:], vars)
			if err != nil {
				return "", err
			}
			if consumed > 0 {
				out.WriteString(literal)
				i += consumed
				continue
			}
			return "", fmt.Errorf("malformed len() in expression %q", expr)
		}
		value, err := Resolve(ref, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(asLiteral(value))
	}
	return out.String(), nil
}

// substituteLen consumes "(arg)" following a len token and returns the
// length as a literal.
func substituteLen(rest string, vars map[string]interface{}) (string, int, error) {
	if !strings.HasPrefix(rest, "(") {
		return "", 0, nil
	}
	close := strings.IndexByte(rest, ')')
	if close < 0 {
		return "", 0, fmt.Errorf("unterminated len()")
	}
	arg := strings.TrimSpace(rest[1:close])
	value, err := Resolve(arg, vars)
	if err != nil {
		return "", 0, err
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return strconv.Itoa(rv.Len()), close + 1, nil
	}
	return "", 0, fmt.Errorf("len() of non-collection value %T", value)
}

func refPart(c byte) bool {
	return identPart(c) || c == '[' || c == ']'
}

func asLiteral(value interface{}) string {
	switch actual := value.(type) {
	case nil:
		return `""`
	case string:
		return strconv.Quote(actual)
	case bool:
		return strconv.FormatBool(actual)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return Stringify(actual)
	}
	return strconv.Quote(Stringify(value))
}

func evalNode(node ast.Expr) (interface{}, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT:
			v, err := strconv.Atoi(n.Value)
			return v, err
		case token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		case token.STRING, token.CHAR:
			return strings.Trim(n.Value, `"'`), nil
		}
		return nil, fmt.Errorf("unsupported literal %s", n.Value)
	case *ast.ParenExpr:
		return evalNode(n.X)
	case *ast.Ident:
		switch n.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &UnresolvedError{Ref: n.Name}
	case *ast.UnaryExpr:
		operand, err := evalNode(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.SUB:
			return negate(operand)
		case token.NOT:
			return !Truthy(operand), nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		return evalBinary(n)
	}
	return nil, fmt.Errorf("unsupported expression node %T", node)
}

func evalBinary(n *ast.BinaryExpr) (interface{}, error) {
	x, err := evalNode(n.X)
	if err != nil {
		return nil, err
	}
	// Short-circuit logical operators.
	switch n.Op {
	case token.LAND:
		if !Truthy(x) {
			return false, nil
		}
		y, err := evalNode(n.Y)
		if err != nil {
			return nil, err
		}
		return Truthy(y), nil
	case token.LOR:
		if Truthy(x) {
			return true, nil
		}
		y, err := evalNode(n.Y)
		if err != nil {
			return nil, err
		}
		return Truthy(y), nil
	}
	y, err := evalNode(n.Y)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case token.ADD:
		return add(x, y)
	case token.SUB:
		return arithmetic(x, y, func(a, b int) int { return a - b }, func(a, b float64) float64 { return a - b })
	case token.MUL:
		return arithmetic(x, y, func(a, b int) int { return a * b }, func(a, b float64) float64 { return a * b })
	case token.QUO:
		return divide(x, y)
	case token.REM:
		return modulo(x, y)
	case token.EQL:
		return equal(x, y), nil
	case token.NEQ:
		return !equal(x, y), nil
	case token.LSS, token.GTR, token.LEQ, token.GEQ:
		cmp, err := compare(x, y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.LSS:
			return cmp < 0, nil
		case token.GTR:
			return cmp > 0, nil
		case token.LEQ:
			return cmp <= 0, nil
		}
		return cmp >= 0, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", n.Op)
}

func isInt(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return isInt(v)
}

func add(x, y interface{}) (interface{}, error) {
	if sx, ok := x.(string); ok {
		return sx + Stringify(y), nil
	}
	if sy, ok := y.(string); ok {
		return Stringify(x) + sy, nil
	}
	return arithmetic(x, y, func(a, b int) int { return a + b }, func(a, b float64) float64 { return a + b })
}

func arithmetic(x, y interface{}, ints func(int, int) int, floats func(float64, float64) float64) (interface{}, error) {
	if !isNumber(x) || !isNumber(y) {
		return nil, fmt.Errorf("non-numeric operands %T and %T", x, y)
	}
	if isInt(x) && isInt(y) {
		return ints(toolbox.AsInt(x), toolbox.AsInt(y)), nil
	}
	return floats(toolbox.AsFloat(x), toolbox.AsFloat(y)), nil
}

func divide(x, y interface{}) (interface{}, error) {
	if !isNumber(x) || !isNumber(y) {
		return nil, fmt.Errorf("non-numeric operands %T and %T", x, y)
	}
	divisor := toolbox.AsFloat(y)
	if divisor == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return toolbox.AsFloat(x) / divisor, nil
}

func modulo(x, y interface{}) (interface{}, error) {
	if isInt(x) && isInt(y) {
		if toolbox.AsInt(y) == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return toolbox.AsInt(x) % toolbox.AsInt(y), nil
	}
	if !isNumber(x) || !isNumber(y) {
		return nil, fmt.Errorf("non-numeric operands %T and %T", x, y)
	}
	divisor := toolbox.AsFloat(y)
	if divisor == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return math.Mod(toolbox.AsFloat(x), divisor), nil
}

func negate(v interface{}) (interface{}, error) {
	switch actual := v.(type) {
	case int:
		return -actual, nil
	case float64:
		return -actual, nil
	}
	if isNumber(v) {
		return -toolbox.AsFloat(v), nil
	}
	return nil, fmt.Errorf("cannot negate %T", v)
}

func equal(x, y interface{}) bool {
	if isNumber(x) && isNumber(y) {
		return toolbox.AsFloat(x) == toolbox.AsFloat(y)
	}
	return reflect.DeepEqual(x, y)
}

func compare(x, y interface{}) (int, error) {
	if isNumber(x) && isNumber(y) {
		fx, fy := toolbox.AsFloat(x), toolbox.AsFloat(y)
		switch {
		case fx < fy:
			return -1, nil
		case fx > fy:
			return 1, nil
		}
		return 0, nil
	}
	sx, okX := x.(string)
	sy, okY := y.(string)
	if okX && okY {
		return strings.Compare(sx, sy), nil
	}
	return 0, fmt.Errorf("cannot order %T against %T", x, y)
}
