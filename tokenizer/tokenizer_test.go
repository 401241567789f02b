package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(t *testing.T, input string) []Token {
	t.Helper()

	tokens, err := NewSqlTokenizer(input).AllTokens()
	assert.NoError(t, err)

	return tokens
}

func TestTokenizer_Keywords(t *testing.T) {
	tokens := collect(t, "SOURCE s TYPE csv;")

	assert.Equal(t, KEYWORD, tokens[0].Type)
	assert.Equal(t, "SOURCE", tokens[0].Value)
	assert.Equal(t, IDENT, tokens[1].Type)
	assert.Equal(t, "s", tokens[1].Value)
	assert.Equal(t, KEYWORD, tokens[2].Type)
	assert.Equal(t, "TYPE", tokens[2].Value)
	assert.Equal(t, IDENT, tokens[3].Type)
	assert.Equal(t, SEMICOLON, tokens[4].Type)
	assert.Equal(t, EOF, tokens[5].Type)
}

func TestTokenizer_CaseInsensitiveKeywords(t *testing.T) {
	tokens := collect(t, "source s type csv;")
	assert.Equal(t, KEYWORD, tokens[0].Type)
	assert.Equal(t, "SOURCE", tokens[0].Value)
}

func TestTokenizer_StringEscapes(t *testing.T) {
	tokens := collect(t, `"a\nb\tc"`)
	assert.Equal(t, STRING, tokens[0].Type)
	assert.Equal(t, "a\nb\tc", tokens[0].Value)
}

func TestTokenizer_VariableRef(t *testing.T) {
	tokens := collect(t, "${name|fallback}")
	assert.Equal(t, VAR_REF, tokens[0].Type)
	assert.Equal(t, "name|fallback", tokens[0].Value)
}

func TestTokenizer_JSONLiteral(t *testing.T) {
	tokens := collect(t, `{"path":"a.csv","nested":{"x":1}}`)
	assert.Equal(t, JSON_LITERAL, tokens[0].Type)
	assert.Equal(t, `{"path":"a.csv","nested":{"x":1}}`, tokens[0].Value)
}

func TestTokenizer_Comparators(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"==", OP_EQ},
		{"!=", OP_NEQ},
		{"<>", OP_NEQ},
		{"<=", OP_LE},
		{">=", OP_GE},
		{"<", OP_LT},
		{">", OP_GT},
		{"=", ASSIGN},
	}

	for _, tc := range tests {
		tokens := collect(t, tc.src)
		assert.Equal(t, tc.want, tokens[0].Type, "source %q", tc.src)
	}
}

func TestTokenizer_LineComment(t *testing.T) {
	tokens := collect(t, "SET a = 1; -- trailing comment\nSET b = 2;")
	var kinds []TokenType
	var idents []string
	for _, tok := range tokens {
		kinds = append(kinds, tok.Type)
		if tok.Type == IDENT {
			idents = append(idents, tok.Value)
		}
	}

	// Only the SET names are identifiers; the comment's words are skipped.
	assert.Equal(t, []string{"a", "b"}, idents)
	assert.Contains(t, kinds, KEYWORD)
}

func TestTokenizer_PositionTracking(t *testing.T) {
	tokens := collect(t, "SET a\n= 1;")
	// "=" is on line 2
	for _, tok := range tokens {
		if tok.Type == ASSIGN {
			assert.Equal(t, 2, tok.Position.Line)
		}
	}
}

func TestTokenizer_UnterminatedString(t *testing.T) {
	_, err := NewSqlTokenizer(`"unterminated`).AllTokens()
	assert.Error(t, err)
}

func TestTokenizer_UnexpectedCharacter(t *testing.T) {
	_, err := NewSqlTokenizer("@").AllTokens()
	assert.Error(t, err)
}

func TestTokenizer_CreateTableAsCapturesRawSQLUntilSemicolon(t *testing.T) {
	tokens := collect(t, `CREATE TABLE u AS SELECT o.id, c.name FROM orders o JOIN customers c ON o.id = c.id WHERE o.amt > @min;`)

	var literal Token

	for _, tok := range tokens {
		if tok.Type == SQL_LITERAL {
			literal = tok
			break
		}
	}

	assert.Equal(t, "SELECT o.id, c.name FROM orders o JOIN customers c ON o.id = c.id WHERE o.amt > @min", literal.Value)

	// the terminating ';' is still tokenized normally afterward.
	assert.Equal(t, SEMICOLON, tokens[len(tokens)-2].Type)
}

func TestTokenizer_ExportCapturesBareTableReference(t *testing.T) {
	tokens := collect(t, `EXPORT u TO "out.csv" TYPE CSV;`)
	assert.Equal(t, KEYWORD, tokens[0].Type)
	assert.Equal(t, "EXPORT", tokens[0].Value)
	assert.Equal(t, SQL_LITERAL, tokens[1].Type)
	assert.Equal(t, "u", tokens[1].Value)
	assert.Equal(t, KEYWORD, tokens[2].Type)
	assert.Equal(t, "TO", tokens[2].Value)
}

func TestTokenizer_ExportCapturesInlineQueryUntilTo(t *testing.T) {
	tokens := collect(t, `EXPORT SELECT a.x FROM a WHERE a.y > 1 TO "out.csv" TYPE CSV;`)
	assert.Equal(t, SQL_LITERAL, tokens[1].Type)
	assert.Equal(t, `SELECT a.x FROM a WHERE a.y > 1`, tokens[1].Value)
	assert.Equal(t, "TO", tokens[2].Value)
}

func TestTokenizer_RawCaptureIgnoresStopWordInsideString(t *testing.T) {
	tokens := collect(t, `CREATE TABLE u AS SELECT "mode" FROM t;`)

	var literal Token

	for _, tok := range tokens {
		if tok.Type == SQL_LITERAL {
			literal = tok
			break
		}
	}

	assert.Equal(t, `SELECT "mode" FROM t`, literal.Value)
}
