package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sqlflow/tokenizer"
)

// IncludeLoader resolves an INCLUDE path to script text. Paths are resolved
// relative to the file that contains the INCLUDE statement.
type IncludeLoader interface {
	Load(path string) (string, error)
}

// FileIncludeLoader reads included scripts from disk.
type FileIncludeLoader struct{}

func (FileIncludeLoader) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading include %q: %w", path, err)
	}

	return string(data), nil
}

var varRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(\|([^}]*))?\}`)

// substituteVars replaces ${name} / ${name|default} occurrences anywhere
// inside text using the resolution order documented in spec.md §4.1/§9:
// the caller-supplied vars map already reflects CLI > profile > SET-so-far
// > .env > process env; only the literal `${name|default}` default remains
// to apply here when the name is absent from vars entirely.
func substituteVars(text string, vars map[string]string) string {
	return varRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := varRefPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]

		if v, ok := vars[name]; ok {
			return v
		}

		return def
	})
}

type parser struct {
	tokens       []tokenizer.Token
	pos          int
	vars         map[string]string
	loader       IncludeLoader
	includeStack []string
	diagnostics  []error
}

// Parse tokenizes and parses a .sf script into a Pipeline. vars is the
// pre-known variable map (profile + CLI + environment + .env + defaults)
// used for parsing-time substitution; SET statements extend a local copy of
// it as parsing proceeds so later statements see earlier SETs, matching the
// documented "SET statements (in pipeline order)" precedence tier.
func Parse(source, sourceFile string, vars map[string]string, loader IncludeLoader) (*Pipeline, error) {
	if loader == nil {
		loader = FileIncludeLoader{}
	}

	tokens, err := tokenizer.NewSqlTokenizer(source).AllTokens()
	if err != nil {
		return nil, &SyntaxError{Message: err.Error()}
	}

	localVars := make(map[string]string, len(vars))
	for k, v := range vars {
		localVars[k] = v
	}

	p := &parser{
		tokens:       tokens,
		vars:         localVars,
		loader:       loader,
		includeStack: []string{absPath(sourceFile)},
	}

	steps, err := p.parseStatements(tokenEOF)
	if err != nil {
		return nil, err
	}

	pipeline := &Pipeline{
		SourceFile:  sourceFile,
		Steps:       steps,
		Variables:   localVars,
		Diagnostics: p.diagnostics,
	}

	// Per-statement recovery lets the parser keep going to collect every
	// SyntaxError/ValidationError in one pass, but the pipeline as a whole
	// is still fatal if any were recorded.
	if len(p.diagnostics) > 0 {
		return pipeline, errors.Join(p.diagnostics...)
	}

	return pipeline, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	return abs
}

// stopCondition decides when parseStatements should return control to its
// caller (EOF at the top level; END at the close of a conditional branch).
type stopCondition func(tok tokenizer.Token) bool

func tokenEOF(tok tokenizer.Token) bool { return tok.Type == tokenizer.EOF }

func tokenIsElseOrEnd(tok tokenizer.Token) bool {
	return tok.Type == tokenizer.KEYWORD && (tok.Value == "ELSE" || tok.Value == "END")
}

func (p *parser) cur() tokenizer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}

	return tokenizer.Token{Type: tokenizer.EOF}
}

func (p *parser) advance() tokenizer.Token {
	tok := p.cur()
	if p.pos < len(p.tokens) {
		p.pos++
	}

	return tok
}

func (p *parser) expectKeyword(kw string) (tokenizer.Token, error) {
	tok := p.cur()
	if tok.Type != tokenizer.KEYWORD || tok.Value != kw {
		return tok, &SyntaxError{Line: tok.Position.Line, Column: tok.Position.Column, Message: fmt.Sprintf("expected %s, got %s", kw, tok)}
	}

	return p.advance(), nil
}

func (p *parser) expectType(t tokenizer.TokenType, what string) (tokenizer.Token, error) {
	tok := p.cur()
	if tok.Type != t {
		return tok, &SyntaxError{Line: tok.Position.Line, Column: tok.Position.Column, Message: fmt.Sprintf("expected %s, got %s", what, tok)}
	}

	return p.advance(), nil
}

func (p *parser) parseStatements(stop stopCondition) ([]Step, error) {
	var steps []Step

	for {
		if stop(p.cur()) {
			return steps, nil
		}

		if p.cur().Type == tokenizer.EOF {
			return steps, nil
		}

		if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "INCLUDE" {
			included, err := p.parseIncludeInline()
			if err != nil {
				p.diagnostics = append(p.diagnostics, err)
				if !p.resync() {
					return steps, err
				}

				continue
			}

			steps = append(steps, included...)

			continue
		}

		step, err := p.parseStatement()
		if err != nil {
			p.diagnostics = append(p.diagnostics, err)
			if !p.resync() {
				return steps, err
			}

			continue
		}

		if step != nil {
			steps = append(steps, step)
		}
	}
}

// parseIncludeInline parses `"INCLUDE" string ";"`, loads the referenced
// file relative to the including file, and recursively parses it, returning
// its statements flattened in place of the INCLUDE directive. Paths already
// on includeStack are a fatal cycle.
func (p *parser) parseIncludeInline() ([]Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("INCLUDE"); err != nil {
		return nil, err
	}

	pathTok, err := p.expectType(tokenizer.STRING, "include path")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(p.includeStack[len(p.includeStack)-1])
	resolved := pathTok.Value

	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(baseDir, resolved)
	}

	resolved = absPath(resolved)

	for _, visited := range p.includeStack {
		if visited == resolved {
			return nil, &IncludeCycleError{Path: resolved, Chain: append([]string{}, p.includeStack...)}
		}
	}

	text, err := p.loader.Load(resolved)
	if err != nil {
		return nil, &ValidationError{Line: line, Message: err.Error()}
	}

	childTokens, err := tokenizer.NewSqlTokenizer(text).AllTokens()
	if err != nil {
		return nil, &SyntaxError{Line: line, Message: fmt.Sprintf("tokenizing include %q: %v", resolved, err)}
	}

	child := &parser{
		tokens:       childTokens,
		vars:         p.vars,
		loader:       p.loader,
		includeStack: append(p.includeStack, resolved),
	}

	steps, err := child.parseStatements(tokenEOF)
	p.diagnostics = append(p.diagnostics, child.diagnostics...)

	if err != nil {
		return nil, err
	}

	return steps, nil
}

// resync skips to the token after the next ';', allowing the parser to
// recover and continue accumulating diagnostics instead of aborting.
func (p *parser) resync() bool {
	for p.pos < len(p.tokens) {
		tok := p.advance()
		if tok.Type == tokenizer.SEMICOLON || tok.Type == tokenizer.EOF {
			return tok.Type == tokenizer.SEMICOLON
		}
	}

	return false
}

func (p *parser) parseStatement() (Step, error) {
	tok := p.cur()
	if tok.Type != tokenizer.KEYWORD {
		return nil, &SyntaxError{Line: tok.Position.Line, Column: tok.Position.Column, Message: fmt.Sprintf("expected a statement keyword, got %s", tok)}
	}

	switch tok.Value {
	case "SOURCE":
		return p.parseSource()
	case "LOAD":
		return p.parseLoad()
	case "CREATE":
		return p.parseCreateTable()
	case "EXPORT":
		return p.parseExport()
	case "SET":
		return p.parseSet()
	case "IF":
		return p.parseConditional()
	default:
		return nil, &SyntaxError{Line: tok.Position.Line, Message: fmt.Sprintf("unexpected keyword %s", tok.Value)}
	}
}

func (p *parser) parseSource() (Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("SOURCE"); err != nil {
		return nil, err
	}

	name, err := p.expectType(tokenizer.IDENT, "source name")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}

	connType, err := p.expectType(tokenizer.IDENT, "connector type")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("PARAMS"); err != nil {
		return nil, err
	}

	paramsTok, err := p.expectType(tokenizer.JSON_LITERAL, "PARAMS json object")
	if err != nil {
		return nil, err
	}

	params, err := p.parseJSONObject(paramsTok)
	if err != nil {
		return nil, err
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	return &SourceDefStep{
		Name:          name.Value,
		ConnectorType: connType.Value,
		Params:        params,
		LineNumber:    line,
	}, nil
}

func (p *parser) parseJSONObject(tok tokenizer.Token) (map[string]any, error) {
	substituted := substituteVars(tok.Value, p.vars)

	var obj map[string]any
	if err := json.Unmarshal([]byte(substituted), &obj); err != nil {
		return nil, &ValidationError{Line: tok.Position.Line, Message: fmt.Sprintf("invalid JSON literal: %v", err)}
	}

	return obj, nil
}

func (p *parser) parseLoad() (Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("LOAD"); err != nil {
		return nil, err
	}

	target, err := p.expectType(tokenizer.IDENT, "target table")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}

	source, err := p.expectType(tokenizer.IDENT, "source name")
	if err != nil {
		return nil, err
	}

	step := &LoadStep{TargetTable: target.Value, SourceName: source.Value, Mode: ModeReplace, LineNumber: line}

	if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "MODE" {
		p.advance()

		mode, keys, err := p.parseLoadMode()
		if err != nil {
			return nil, err
		}

		step.Mode = mode
		step.UpsertKeys = keys
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	return step, nil
}

// parseLoadMode parses `load_mode := "REPLACE" | "APPEND" | "UPSERT" "KEY" key_list`.
func (p *parser) parseLoadMode() (LoadMode, []string, error) {
	tok := p.cur()
	if tok.Type != tokenizer.KEYWORD {
		return "", nil, &SyntaxError{Line: tok.Position.Line, Message: "expected a load mode"}
	}

	switch tok.Value {
	case "REPLACE":
		p.advance()
		return ModeReplace, nil, nil
	case "APPEND":
		p.advance()
		return ModeAppend, nil, nil
	case "UPSERT":
		p.advance()

		if _, err := p.expectKeyword("KEY"); err != nil {
			return "", nil, err
		}

		keys, err := p.parseKeyList()
		if err != nil {
			return "", nil, err
		}

		return ModeUpsert, keys, nil
	default:
		return "", nil, &SyntaxError{Line: tok.Position.Line, Message: fmt.Sprintf("invalid LOAD mode %q", tok.Value)}
	}
}

// parseKeyList parses `key_list := id | "(" id ("," id)* ")"`.
func (p *parser) parseKeyList() ([]string, error) {
	if p.cur().Type == tokenizer.LPAREN {
		p.advance()

		var keys []string

		for {
			id, err := p.expectType(tokenizer.IDENT, "key column")
			if err != nil {
				return nil, err
			}

			keys = append(keys, id.Value)

			if p.cur().Type == tokenizer.COMMA {
				p.advance()
				continue
			}

			break
		}

		if _, err := p.expectType(tokenizer.RPAREN, ")"); err != nil {
			return nil, err
		}

		return keys, nil
	}

	id, err := p.expectType(tokenizer.IDENT, "key column")
	if err != nil {
		return nil, err
	}

	return []string{id.Value}, nil
}

func (p *parser) parseCreateTable() (Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}

	if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "OR" {
		p.advance()

		if _, err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}

	name, err := p.expectType(tokenizer.IDENT, "table name")
	if err != nil {
		return nil, err
	}

	step := &SQLBlockStep{TableName: name.Value, Mode: ModeReplace, LineNumber: line}

	if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "MODE" {
		p.advance()

		if err := p.parseCTASMode(step); err != nil {
			return nil, err
		}
	}

	if _, err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}

	sqlTok, err := p.expectType(tokenizer.SQL_LITERAL, "SELECT query")
	if err != nil {
		return nil, err
	}

	step.SQLText = substituteVars(sqlTok.Value, p.vars)

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	return step, nil
}

// parseCTASMode parses `ctas_mode := "MODE" (...)` into step, excluding the
// leading MODE keyword (already consumed by the caller).
func (p *parser) parseCTASMode(step *SQLBlockStep) error {
	tok := p.cur()
	if tok.Type != tokenizer.KEYWORD {
		return &SyntaxError{Line: tok.Position.Line, Message: "expected a CREATE TABLE AS mode"}
	}

	switch tok.Value {
	case "REPLACE":
		p.advance()
		step.Mode = ModeReplace
	case "APPEND":
		p.advance()
		step.Mode = ModeAppend
	case "UPSERT":
		p.advance()

		if _, err := p.expectKeyword("KEY"); err != nil {
			return err
		}

		keys, err := p.parseKeyList()
		if err != nil {
			return err
		}

		step.Mode = ModeUpsert
		step.UpsertKeys = keys
	case "INCREMENTAL":
		p.advance()

		if _, err := p.expectKeyword("BY"); err != nil {
			return err
		}

		col, err := p.expectType(tokenizer.IDENT, "cursor column")
		if err != nil {
			return err
		}

		step.Mode = ModeIncremental
		step.TimeColumn = col.Value

		if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "LOOKBACK" {
			p.advance()

			lb, err := p.expectType(tokenizer.STRING, "lookback duration string")
			if err != nil {
				return err
			}

			step.LookbackDuration = lb.Value
		}
	default:
		return &SyntaxError{Line: tok.Position.Line, Message: fmt.Sprintf("invalid CREATE TABLE AS mode %q", tok.Value)}
	}

	return nil
}

func (p *parser) parseExport() (Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("EXPORT"); err != nil {
		return nil, err
	}

	// The tokenizer raw-captures everything between EXPORT and TO as one
	// SQL_LITERAL, whether it is a bare table reference ("EXPORT u TO ...")
	// or an inline SELECT query.
	queryTok, err := p.expectType(tokenizer.SQL_LITERAL, "table reference or inline query")
	if err != nil {
		return nil, err
	}

	query := queryTok.Value

	if _, err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}

	dest, err := p.expectType(tokenizer.STRING, "destination URI")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}

	format, err := p.expectType(tokenizer.IDENT, "export format")
	if err != nil {
		return nil, err
	}

	step := &ExportStep{
		Query:          substituteVars(query, p.vars),
		DestinationURI: substituteVars(dest.Value, p.vars),
		Format:         format.Value,
		LineNumber:     line,
	}

	if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "OPTIONS" {
		p.advance()

		optsTok, err := p.expectType(tokenizer.JSON_LITERAL, "OPTIONS json object")
		if err != nil {
			return nil, err
		}

		opts, err := p.parseJSONObject(optsTok)
		if err != nil {
			return nil, err
		}

		step.Options = opts
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	return step, nil
}

func (p *parser) parseSet() (Step, error) {
	line := p.cur().Position.Line

	if _, err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	name, err := p.expectType(tokenizer.IDENT, "variable name")
	if err != nil {
		return nil, err
	}

	if _, err := p.expectType(tokenizer.ASSIGN, "="); err != nil {
		return nil, err
	}

	tok := p.cur()

	var value string

	switch tok.Type {
	case tokenizer.STRING, tokenizer.NUMBER:
		value = substituteVars(tok.Value, p.vars)
		p.advance()
	case tokenizer.VAR_REF:
		resolvedName, def, _ := strings.Cut(tok.Value, "|")
		if v, ok := p.vars[resolvedName]; ok {
			value = v
		} else {
			value = def
		}

		p.advance()
	default:
		return nil, &SyntaxError{Line: tok.Position.Line, Message: "expected a string, number, or variable reference after '='"}
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	// SET is evaluated eagerly so subsequent statements in pipeline order
	// observe it, per the documented precedence: "in-pipeline SET (in
	// pipeline order)".
	p.vars[name.Value] = value

	return &SetStep{Name: name.Value, Value: value, LineNumber: line}, nil
}

func (p *parser) parseConditional() (Step, error) {
	line := p.cur().Position.Line

	var branches []ConditionalBranch

	for {
		if _, err := p.expectKeyword("IF"); err != nil {
			return nil, err
		}

		cond, newPos, err := parseCondition(p.tokens, p.pos)
		if err != nil {
			return nil, err
		}

		p.pos = newPos

		if _, err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}

		body, err := p.parseStatements(tokenIsElseOrEnd)
		if err != nil {
			return nil, err
		}

		branches = append(branches, ConditionalBranch{Condition: cond, Body: body})

		if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "ELSE" {
			p.advance()

			if p.cur().Type == tokenizer.KEYWORD && p.cur().Value == "IF" {
				continue
			}

			elseBody, err := p.parseStatements(tokenIsElseOrEnd)
			if err != nil {
				return nil, err
			}

			branches = append(branches, ConditionalBranch{Condition: nil, Body: elseBody})
		}

		break
	}

	if _, err := p.expectKeyword("END"); err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("IF"); err != nil {
		return nil, err
	}

	if _, err := p.expectType(tokenizer.SEMICOLON, ";"); err != nil {
		return nil, err
	}

	return &ConditionalBlock{Branches: branches, LineNumber: line}, nil
}
