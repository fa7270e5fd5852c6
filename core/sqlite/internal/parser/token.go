// Package parser tokenizes and parses the SQL dialect the engine executes.
package parser

import "strings"

// TokenType represents the type of a SQL token.
type TokenType int

// Token types
const (
	TK_EOF TokenType = iota
	TK_ILLEGAL
	TK_SPACE
	TK_COMMENT

	// Literals
	TK_INTEGER
	TK_FLOAT
	TK_STRING
	TK_BLOB
	TK_NULL
	TK_ID
	TK_VARIABLE

	// Operators and punctuation
	TK_EQ     // =, ==
	TK_NE     // <>, !=
	TK_LT     // <
	TK_LE     // <=
	TK_GT     // >
	TK_GE     // >=
	TK_PLUS   // +
	TK_MINUS  // -
	TK_STAR   // *
	TK_SLASH  // /
	TK_REM    // %
	TK_BITAND // &
	TK_BITOR  // |
	TK_BITNOT // ~
	TK_LSHIFT // <<
	TK_RSHIFT // >>
	TK_CONCAT // ||
	TK_LP     // (
	TK_RP     // )
	TK_COMMA  // ,
	TK_SEMI   // ;
	TK_DOT    // .

	keywordStart

	TK_ABORT
	TK_ALL
	TK_AND
	TK_AS
	TK_ASC
	TK_ATTACH
	TK_AUTOINCREMENT
	TK_BEGIN
	TK_BETWEEN
	TK_BY
	TK_CASE
	TK_CAST
	TK_CHECK
	TK_COLLATE
	TK_COMMIT
	TK_CONFLICT
	TK_CONSTRAINT
	TK_CREATE
	TK_CROSS
	TK_DATABASE
	TK_DEFAULT
	TK_DEFERRED
	TK_DELETE
	TK_DESC
	TK_DETACH
	TK_DISTINCT
	TK_DROP
	TK_ELSE
	TK_END
	TK_ESCAPE
	TK_EXCEPT
	TK_EXCLUSIVE
	TK_EXISTS
	TK_FAIL
	TK_FOREIGN
	TK_FROM
	TK_GLOB
	TK_GROUP
	TK_HAVING
	TK_IF
	TK_IGNORE
	TK_IMMEDIATE
	TK_IN
	TK_INDEX
	TK_INNER
	TK_INSERT
	TK_INTERSECT
	TK_INTO
	TK_IS
	TK_ISNULL
	TK_JOIN
	TK_KEY
	TK_LEFT
	TK_LIKE
	TK_LIMIT
	TK_NATURAL
	TK_NOT
	TK_NOTNULL
	TK_OFFSET
	TK_ON
	TK_OR
	TK_ORDER
	TK_PRAGMA
	TK_PRIMARY
	TK_REFERENCES
	TK_REPLACE
	TK_ROLLBACK
	TK_ROWID
	TK_SELECT
	TK_SET
	TK_TABLE
	TK_TEMP
	TK_THEN
	TK_TRANSACTION
	TK_TRIGGER
	TK_UNION
	TK_UNIQUE
	TK_UPDATE
	TK_USING
	TK_VACUUM
	TK_VALUES
	TK_VIEW
	TK_VIRTUAL
	TK_WHEN
	TK_WHERE
	TK_WITHOUT

	keywordEnd
)

var keywords = map[string]TokenType{
	"ABORT":         TK_ABORT,
	"ALL":           TK_ALL,
	"AND":           TK_AND,
	"AS":            TK_AS,
	"ASC":           TK_ASC,
	"ATTACH":        TK_ATTACH,
	"AUTOINCREMENT": TK_AUTOINCREMENT,
	"BEGIN":         TK_BEGIN,
	"BETWEEN":       TK_BETWEEN,
	"BY":            TK_BY,
	"CASE":          TK_CASE,
	"CAST":          TK_CAST,
	"CHECK":         TK_CHECK,
	"COLLATE":       TK_COLLATE,
	"COMMIT":        TK_COMMIT,
	"CONFLICT":      TK_CONFLICT,
	"CONSTRAINT":    TK_CONSTRAINT,
	"CREATE":        TK_CREATE,
	"CROSS":         TK_CROSS,
	"DATABASE":      TK_DATABASE,
	"DEFAULT":       TK_DEFAULT,
	"DEFERRED":      TK_DEFERRED,
	"DELETE":        TK_DELETE,
	"DESC":          TK_DESC,
	"DETACH":        TK_DETACH,
	"DISTINCT":      TK_DISTINCT,
	"DROP":          TK_DROP,
	"ELSE":          TK_ELSE,
	"END":           TK_END,
	"ESCAPE":        TK_ESCAPE,
	"EXCEPT":        TK_EXCEPT,
	"EXCLUSIVE":     TK_EXCLUSIVE,
	"EXISTS":        TK_EXISTS,
	"FAIL":          TK_FAIL,
	"FOREIGN":       TK_FOREIGN,
	"FROM":          TK_FROM,
	"GLOB":          TK_GLOB,
	"GROUP":         TK_GROUP,
	"HAVING":        TK_HAVING,
	"IF":            TK_IF,
	"IGNORE":        TK_IGNORE,
	"IMMEDIATE":     TK_IMMEDIATE,
	"IN":            TK_IN,
	"INDEX":         TK_INDEX,
	"INNER":         TK_INNER,
	"INSERT":        TK_INSERT,
	"INTERSECT":     TK_INTERSECT,
	"INTO":          TK_INTO,
	"IS":            TK_IS,
	"ISNULL":        TK_ISNULL,
	"JOIN":          TK_JOIN,
	"KEY":           TK_KEY,
	"LEFT":          TK_LEFT,
	"LIKE":          TK_LIKE,
	"LIMIT":         TK_LIMIT,
	"NATURAL":       TK_NATURAL,
	"NOT":           TK_NOT,
	"NOTNULL":       TK_NOTNULL,
	"NULL":          TK_NULL,
	"OFFSET":        TK_OFFSET,
	"ON":            TK_ON,
	"OR":            TK_OR,
	"ORDER":         TK_ORDER,
	"PRAGMA":        TK_PRAGMA,
	"PRIMARY":       TK_PRIMARY,
	"REFERENCES":    TK_REFERENCES,
	"REPLACE":       TK_REPLACE,
	"ROLLBACK":      TK_ROLLBACK,
	"ROWID":         TK_ROWID,
	"SELECT":        TK_SELECT,
	"SET":           TK_SET,
	"TABLE":         TK_TABLE,
	"TEMP":          TK_TEMP,
	"TEMPORARY":     TK_TEMP,
	"THEN":          TK_THEN,
	"TRANSACTION":   TK_TRANSACTION,
	"TRIGGER":       TK_TRIGGER,
	"UNION":         TK_UNION,
	"UNIQUE":        TK_UNIQUE,
	"UPDATE":        TK_UPDATE,
	"USING":         TK_USING,
	"VACUUM":        TK_VACUUM,
	"VALUES":        TK_VALUES,
	"VIEW":          TK_VIEW,
	"VIRTUAL":       TK_VIRTUAL,
	"WHEN":          TK_WHEN,
	"WHERE":         TK_WHERE,
	"WITHOUT":       TK_WITHOUT,
}

var tokenNames = map[TokenType]string{
	TK_EOF:      "EOF",
	TK_ILLEGAL:  "ILLEGAL",
	TK_SPACE:    "SPACE",
	TK_COMMENT:  "COMMENT",
	TK_INTEGER:  "INTEGER",
	TK_FLOAT:    "FLOAT",
	TK_STRING:   "STRING",
	TK_BLOB:     "BLOB",
	TK_ID:       "ID",
	TK_VARIABLE: "VARIABLE",
	TK_EQ:       "=",
	TK_NE:       "<>",
	TK_LT:       "<",
	TK_LE:       "<=",
	TK_GT:       ">",
	TK_GE:       ">=",
	TK_PLUS:     "+",
	TK_MINUS:    "-",
	TK_STAR:     "*",
	TK_SLASH:    "/",
	TK_REM:      "%",
	TK_BITAND:   "&",
	TK_BITOR:    "|",
	TK_BITNOT:   "~",
	TK_LSHIFT:   "<<",
	TK_RSHIFT:   ">>",
	TK_CONCAT:   "||",
	TK_LP:       "(",
	TK_RP:       ")",
	TK_COMMA:    ",",
	TK_SEMI:     ";",
	TK_DOT:      ".",
}

func init() {
	for word, t := range keywords {
		if _, ok := tokenNames[t]; !ok || word != "TEMPORARY" {
			tokenNames[t] = word
		}
	}
}

// lookupKeyword returns the token type for a keyword, or TK_ID.
func lookupKeyword(ident string) TokenType {
	if t, ok := keywords[strings.ToUpper(ident)]; ok {
		return t
	}
	return TK_ID
}

// Token represents a SQL token with its type, text, and position.
type Token struct {
	Type   TokenType
	Lexeme string
	Pos    int // byte offset in the source
	Line   int
	Col    int
}

// String returns the token type name.
func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsKeyword returns true if the token is a SQL keyword.
func (t TokenType) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd || t == TK_NULL
}

// IsLiteral returns true if the token is a literal value.
func (t TokenType) IsLiteral() bool {
	return t >= TK_INTEGER && t <= TK_NULL
}
