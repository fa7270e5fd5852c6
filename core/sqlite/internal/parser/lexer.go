package parser

import (
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input string
	pos   int
	line  int
	col   int
}

// NewLexer creates a new Lexer for the given SQL input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

func (l *Lexer) at(i int) byte {
	if l.pos+i < len(l.input) {
		return l.input[l.pos+i]
	}
	return 0
}

// advance moves n bytes forward, keeping line and column current.
func (l *Lexer) advance(n int) {
	for ; n > 0 && l.pos < len(l.input); n-- {
		if l.input[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

// NextToken returns the next token, including space and comment tokens.
func (l *Lexer) NextToken() Token {
	tok := Token{Pos: l.pos, Line: l.line, Col: l.col}
	tok.Type = l.scan()
	tok.Lexeme = l.input[tok.Pos:l.pos]
	return tok
}

var twoCharOps = map[string]TokenType{
	"==": TK_EQ, "!=": TK_NE, "<>": TK_NE, "<=": TK_LE, ">=": TK_GE,
	"<<": TK_LSHIFT, ">>": TK_RSHIFT, "||": TK_CONCAT,
}

var oneCharOps = map[byte]TokenType{
	'=': TK_EQ, '<': TK_LT, '>': TK_GT, '+': TK_PLUS, '-': TK_MINUS,
	'*': TK_STAR, '/': TK_SLASH, '%': TK_REM, '&': TK_BITAND, '|': TK_BITOR,
	'~': TK_BITNOT, '(': TK_LP, ')': TK_RP, ',': TK_COMMA, ';': TK_SEMI,
	'.': TK_DOT,
}

func (l *Lexer) scan() TokenType {
	c := l.at(0)
	switch {
	case l.pos >= len(l.input):
		return TK_EOF
	case isSpace(c):
		for l.pos < len(l.input) && isSpace(l.at(0)) {
			l.advance(1)
		}
		return TK_SPACE
	case c == '-' && l.at(1) == '-':
		for l.pos < len(l.input) && l.at(0) != '\n' {
			l.advance(1)
		}
		return TK_COMMENT
	case c == '/' && l.at(1) == '*':
		end := strings.Index(l.input[l.pos+2:], "*/")
		if end < 0 {
			l.advance(len(l.input))
		} else {
			l.advance(end + 4)
		}
		return TK_COMMENT
	case c == '\'':
		return l.quoted('\'', '\'', TK_STRING)
	case c == '"':
		return l.quoted('"', '"', TK_ID)
	case c == '`':
		return l.quoted('`', '`', TK_ID)
	case c == '[':
		return l.quoted('[', ']', TK_ID)
	case (c == 'x' || c == 'X') && l.at(1) == '\'':
		l.advance(1)
		start := l.pos + 1
		if l.quoted('\'', '\'', TK_BLOB) == TK_ILLEGAL {
			return TK_ILLEGAL
		}
		hex := l.input[start : l.pos-1]
		if len(hex)%2 != 0 || strings.TrimLeft(hex, "0123456789abcdefABCDEF") != "" {
			return TK_ILLEGAL
		}
		return TK_BLOB
	case isDigit(c) || c == '.' && isDigit(l.at(1)):
		return l.number()
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.input) && isIdentChar(l.at(0)) {
			l.advance(1)
		}
		return lookupKeyword(l.input[start:l.pos])
	case c == '?':
		l.advance(1)
		for isDigit(l.at(0)) {
			l.advance(1)
		}
		return TK_VARIABLE
	case c == ':' || c == '@' || c == '$':
		l.advance(1)
		n := 0
		for isIdentChar(l.at(0)) {
			l.advance(1)
			n++
		}
		if n == 0 {
			return TK_ILLEGAL
		}
		return TK_VARIABLE
	}
	if l.pos+1 < len(l.input) {
		if t, ok := twoCharOps[l.input[l.pos:l.pos+2]]; ok {
			l.advance(2)
			return t
		}
	}
	l.advance(1)
	if t, ok := oneCharOps[c]; ok {
		return t
	}
	return TK_ILLEGAL
}

// quoted consumes a quoted run; a doubled closing quote is an escaped quote.
// An unterminated run is illegal.
func (l *Lexer) quoted(open, close byte, t TokenType) TokenType {
	l.advance(1)
	for l.pos < len(l.input) {
		c := l.at(0)
		l.advance(1)
		if c != close {
			continue
		}
		if open != '[' && l.at(0) == close {
			l.advance(1)
			continue
		}
		return t
	}
	return TK_ILLEGAL
}

func (l *Lexer) number() TokenType {
	if l.at(0) == '0' && (l.at(1) == 'x' || l.at(1) == 'X') && isHexDigit(l.at(2)) {
		l.advance(2)
		for isHexDigit(l.at(0)) {
			l.advance(1)
		}
		return TK_INTEGER
	}
	t := TK_INTEGER
	for isDigit(l.at(0)) {
		l.advance(1)
	}
	if l.at(0) == '.' {
		t = TK_FLOAT
		l.advance(1)
		for isDigit(l.at(0)) {
			l.advance(1)
		}
	}
	if e := l.at(0); e == 'e' || e == 'E' {
		n := 1
		if s := l.at(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.at(n)) {
			t = TK_FLOAT
			l.advance(n)
			for isDigit(l.at(0)) {
				l.advance(1)
			}
		}
	}
	if isIdentStart(l.at(0)) {
		for isIdentChar(l.at(0)) {
			l.advance(1)
		}
		return TK_ILLEGAL
	}
	return t
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Bytes of multi-byte UTF-8 sequences are identifier characters.
func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

// TokenizeAll tokenizes the entire input, dropping space and comments. The
// last token is always TK_EOF.
func TokenizeAll(input string) ([]Token, error) {
	lexer := NewLexer(input)
	var tokens []Token
	for {
		tok := lexer.NextToken()
		switch tok.Type {
		case TK_SPACE, TK_COMMENT:
			continue
		case TK_ILLEGAL:
			return tokens, errs.Newf(errs.ERROR, "unrecognized token: %q", tok.Lexeme)
		}
		tokens = append(tokens, tok)
		if tok.Type == TK_EOF {
			return tokens, nil
		}
	}
}

// Unquote removes the quotes from a quoted identifier or string literal.
func Unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	switch q := s[0]; {
	case q == '[' && s[len(s)-1] == ']':
		return s[1 : len(s)-1]
	case (q == '\'' || q == '"' || q == '`') && s[len(s)-1] == q:
		return strings.ReplaceAll(s[1:len(s)-1], string(q)+string(q), string(q))
	}
	return s
}

// QuoteIdent quotes name for use as an identifier when it needs it.
func QuoteIdent(name string) string {
	plain := name != "" && isIdentStart(name[0]) && lookupKeyword(name) == TK_ID
	for i := 0; plain && i < len(name); i++ {
		plain = isIdentChar(name[i])
	}
	if plain {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
