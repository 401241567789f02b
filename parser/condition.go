package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"

	"sqlflow/tokenizer"
)

// Condition is a parsed IF/ELSE IF test expression. It is not evaluated at
// parse time (spec: "Conditions are evaluated at plan time against the
// resolved variable map") — parsing only builds a CEL-compatible expression
// string plus the set of variable names it references, so the planner can
// bind the run's resolved variables and evaluate once they are all known.
type Condition struct {
	celExpr     string
	identifiers []string
}

// Identifiers returns the variable names this condition reads, so a caller
// can declare them before compiling.
func (c *Condition) Identifiers() []string { return c.identifiers }

// String returns the CEL-compatible rendering of the condition, formatted
// per the no-extra-whitespace rule for reconstructed expressions.
func (c *Condition) String() string { return c.celExpr }

// parseCondition parses `cond := expr (("AND"|"OR") expr)*` starting at
// tokens[pos], returning the condition and the index of the first token
// after it. CEL's native && / || precedence (&& binds tighter) matches the
// spec's documented AND-before-OR precedence, so the condition is compiled
// straight into a CEL boolean expression rather than a hand-rolled
// evaluator.
func parseCondition(tokens []tokenizer.Token, pos int) (*Condition, int, error) {
	var sb strings.Builder

	identSet := map[string]bool{}

	expr, pos, err := parseCompareExpr(tokens, pos, identSet)
	if err != nil {
		return nil, pos, err
	}

	sb.WriteString(expr)

	for pos < len(tokens) {
		tok := tokens[pos]
		if tok.Type != tokenizer.KEYWORD || (tok.Value != "AND" && tok.Value != "OR") {
			break
		}

		combinator := "&&"
		if tok.Value == "OR" {
			combinator = "||"
		}

		pos++

		next, newPos, err := parseCompareExpr(tokens, pos, identSet)
		if err != nil {
			return nil, newPos, err
		}

		sb.WriteString(" ")
		sb.WriteString(combinator)
		sb.WriteString(" ")
		sb.WriteString(next)

		pos = newPos
	}

	identifiers := make([]string, 0, len(identSet))
	for name := range identSet {
		identifiers = append(identifiers, name)
	}

	return &Condition{celExpr: sb.String(), identifiers: identifiers}, pos, nil
}

// parseCompareExpr parses `expr := id op (string|number|id|var_ref)`.
func parseCompareExpr(tokens []tokenizer.Token, pos int, identSet map[string]bool) (string, int, error) {
	if pos >= len(tokens) || tokens[pos].Type != tokenizer.IDENT {
		return "", pos, &SyntaxError{Line: lineAt(tokens, pos), Message: "expected identifier at start of condition expression"}
	}

	left := tokens[pos].Value
	identSet[left] = true
	pos++

	if pos >= len(tokens) {
		return "", pos, &SyntaxError{Line: lineAt(tokens, pos), Message: "unexpected end of condition"}
	}

	op, ok := celOperator(tokens[pos].Type)
	if !ok {
		return "", pos, &SyntaxError{Line: lineAt(tokens, pos), Message: "expected comparison operator in condition"}
	}

	pos++

	if pos >= len(tokens) {
		return "", pos, &SyntaxError{Line: lineAt(tokens, pos), Message: "condition missing right-hand operand"}
	}

	right, newPos, err := renderOperand(tokens, pos, identSet)
	if err != nil {
		return "", newPos, err
	}

	// Evaluate binds a numeric-looking value as a double, so against a
	// string literal the variable is compared in its string form.
	if tokens[pos].Type == tokenizer.STRING {
		left = "string(" + left + ")"
	}

	return fmt.Sprintf("%s %s %s", left, op, right), newPos, nil
}

func celOperator(t tokenizer.TokenType) (string, bool) {
	switch t {
	case tokenizer.OP_EQ:
		return "==", true
	case tokenizer.OP_NEQ:
		return "!=", true
	case tokenizer.OP_LT:
		return "<", true
	case tokenizer.OP_LE:
		return "<=", true
	case tokenizer.OP_GT:
		return ">", true
	case tokenizer.OP_GE:
		return ">=", true
	default:
		return "", false
	}
}

func renderOperand(tokens []tokenizer.Token, pos int, identSet map[string]bool) (string, int, error) {
	tok := tokens[pos]

	switch tok.Type {
	case tokenizer.STRING:
		return strconv.Quote(tok.Value), pos + 1, nil
	case tokenizer.NUMBER:
		if !strings.Contains(tok.Value, ".") {
			return tok.Value + ".0", pos + 1, nil
		}

		return tok.Value, pos + 1, nil
	case tokenizer.IDENT:
		identSet[tok.Value] = true
		return tok.Value, pos + 1, nil
	case tokenizer.VAR_REF:
		name, _, _ := strings.Cut(tok.Value, "|")
		identSet[name] = true

		return name, pos + 1, nil
	default:
		return "", pos, &SyntaxError{Line: tok.Position.Line, Message: "invalid condition operand"}
	}
}

func lineAt(tokens []tokenizer.Token, pos int) int {
	if pos < len(tokens) {
		return tokens[pos].Position.Line
	}

	if len(tokens) > 0 {
		return tokens[len(tokens)-1].Position.Line
	}

	return 0
}

// Evaluate compiles and runs the condition's CEL expression against vars.
// Unknown identifiers default to empty string per spec; a variable whose
// value parses as a number is bound as a double so comparisons against
// numeric literals behave numerically rather than lexicographically.
func (c *Condition) Evaluate(vars map[string]string) (bool, error) {
	opts := make([]cel.EnvOption, 0, len(c.identifiers))
	for _, name := range c.identifiers {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return false, fmt.Errorf("building condition environment: %w", err)
	}

	ast, issues := env.Compile(c.celExpr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("compiling condition %q: %w", c.celExpr, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("building condition program: %w", err)
	}

	bindings := make(map[string]any, len(c.identifiers))
	for _, name := range c.identifiers {
		raw, ok := vars[name]
		if !ok {
			raw = ""
		}

		bindings[name] = coerceCondValue(raw)
	}

	out, _, err := prg.Eval(bindings)
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", c.celExpr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", c.celExpr)
	}

	return result, nil
}

func coerceCondValue(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}

	return raw
}
