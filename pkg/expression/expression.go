// Package expression evaluates the guard and interpolation language used in
// workflow documents: ${{ }} interpolation, equality and boolean operators,
// and dotted lookups into the execution environment.
package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate parses and evaluates a single expression against the environment.
// Lookups that resolve to nothing yield nil rather than an error.
func Evaluate(input string, env map[string]any) (any, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize expression %q: %w", input, err)
	}

	p := &parser{tokens: tokens, env: env}

	value, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", input, err)
	}

	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("failed to evaluate expression %q: unexpected token %q", input, p.peek().text)
	}

	return value, nil
}

// EvaluateBool evaluates an expression and reduces the result to its
// truthiness. Empty expressions are true, so steps without a guard always run.
func EvaluateBool(input string, env map[string]any) (bool, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return true, nil
	}

	// Guards may be written with or without the interpolation wrapper.
	trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "${{"), "}}"))

	value, err := Evaluate(trimmed, env)
	if err != nil {
		return false, err
	}

	return Truthy(value), nil
}

// Truthy reports whether a value counts as true: false, zero, empty string
// and nil are falsy, everything else is truthy.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}

// Interpolate replaces every ${{ expression }} occurrence in the input with
// the stringified result of evaluating it.
func Interpolate(input string, env map[string]any) (string, error) {
	var out strings.Builder

	rest := input

	for {
		start := strings.Index(rest, "${{")
		if start < 0 {
			out.WriteString(rest)

			return out.String(), nil
		}

		out.WriteString(rest[:start])

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated expression in %q", input)
		}

		inner := rest[start+3 : start+end]

		value, err := Evaluate(strings.TrimSpace(inner), env)
		if err != nil {
			return "", err
		}

		out.WriteString(Stringify(value))

		rest = rest[start+end+2:]
	}
}

// InterpolateAny interpolates strings recursively through maps and slices.
// A string that is exactly one expression keeps the evaluated value's type.
func InterpolateAny(value any, env map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") &&
			strings.Index(trimmed, "}}") == len(trimmed)-2 {
			return Evaluate(strings.TrimSpace(trimmed[3:len(trimmed)-2]), env)
		}

		return Interpolate(v, env)
	case map[string]any:
		result := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := InterpolateAny(item, env)
			if err != nil {
				return nil, err
			}

			result[key] = rendered
		}

		return result, nil
	case []any:
		result := make([]any, len(v))

		for i, item := range v {
			rendered, err := InterpolateAny(item, env)
			if err != nil {
				return nil, err
			}

			result[i] = rendered
		}

		return result, nil
	default:
		return value, nil
	}
}

// Stringify converts an evaluated value to its interpolated string form.
// Nil becomes the empty string.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenEq
	tokenNeq
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenDot
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	tokens := make([]token, 0, 8)

	i := 0
	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")"})
			i++
		case c == '.':
			tokens = append(tokens, token{kind: tokenDot, text: "."})
			i++
		case c == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}

			tokens = append(tokens, token{kind: tokenEq, text: "=="})
			i += 2
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenNeq, text: "!="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenNot, text: "!"})
				i++
			}
		case c == '&':
			if i+1 >= len(input) || input[i+1] != '&' {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}

			tokens = append(tokens, token{kind: tokenAnd, text: "&&"})
			i += 2
		case c == '|':
			if i+1 >= len(input) || input[i+1] != '|' {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}

			tokens = append(tokens, token{kind: tokenOr, text: "||"})
			i += 2
		case c == '\'':
			text, next, err := scanString(input, i)
			if err != nil {
				return nil, err
			}

			tokens = append(tokens, token{kind: tokenString, text: text})
			i = next
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9':
			start := i
			i++

			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				i++
			}

			tokens = append(tokens, token{kind: tokenNumber, text: input[start:i]})
		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}

			tokens = append(tokens, token{kind: tokenIdent, text: input[start:i]})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	return append(tokens, token{kind: tokenEOF}), nil
}

// scanString reads a single-quoted string literal. Two consecutive quotes
// escape a literal quote, as in 'it''s'.
func scanString(input string, start int) (string, int, error) {
	var text strings.Builder

	i := start + 1
	for i < len(input) {
		if input[i] == '\'' {
			if i+1 < len(input) && input[i+1] == '\'' {
				text.WriteByte('\'')
				i += 2

				continue
			}

			return text.String(), i + 1, nil
		}

		text.WriteByte(input[i])
		i++
	}

	return "", 0, fmt.Errorf("unterminated string literal at position %d", start)
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-'
}

type parser struct {
	tokens []token
	pos    int
	env    map[string]any
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++

	return t
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenOr {
		p.next()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = Truthy(left) || Truthy(right)
	}

	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenAnd {
		p.next()

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = Truthy(left) && Truthy(right)
	}

	return left, nil
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	switch p.peek().kind {
	case tokenEq:
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return equals(left, right), nil
	case tokenNeq:
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return !equals(left, right), nil
	default:
		return left, nil
	}
}

func (p *parser) parseUnary() (any, error) {
	if p.peek().kind == tokenNot {
		p.next()

		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return !Truthy(value), nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	t := p.next()

	switch t.kind {
	case tokenLParen:
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.next().kind != tokenRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}

		return value, nil
	case tokenString:
		return t.text, nil
	case tokenNumber:
		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.text, err)
		}

		return value, nil
	case tokenIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}

		return p.parseLookup(t.text)
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// parseLookup resolves a dotted path like steps.compile.outcome against the
// environment. Any missing segment resolves the whole path to nil.
func (p *parser) parseLookup(root string) (any, error) {
	current := lookupKey(p.env, root)

	for p.peek().kind == tokenDot {
		p.next()

		segment := p.next()
		if segment.kind != tokenIdent {
			return nil, fmt.Errorf("expected identifier after '.', got %q", segment.text)
		}

		switch m := current.(type) {
		case map[string]any:
			current = lookupKey(m, segment.text)
		case map[string]string:
			value, ok := m[segment.text]
			if !ok {
				current = nil
			} else {
				current = value
			}
		default:
			current = nil
		}
	}

	return current, nil
}

func lookupKey(env map[string]any, key string) any {
	if env == nil {
		return nil
	}

	return env[key]
}

// equals compares two evaluated values. Numbers compare numerically, other
// values compare when their types match; mismatched types are never equal.
func equals(left, right any) bool {
	leftNum, leftIsNum := asNumber(left)
	rightNum, rightIsNum := asNumber(right)

	if leftIsNum && rightIsNum {
		return leftNum == rightNum
	}

	if left == nil || right == nil {
		return left == right
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)

		return ok && l == r
	case bool:
		r, ok := right.(bool)

		return ok && l == r
	default:
		return false
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
