package parser

import (
	"strconv"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

// Parser implements a recursive descent parser for SQL.
type Parser struct {
	src     string
	tokens  []Token
	current int

	// Parameter numbering, reset per statement.
	nvars int
	named map[string]int
}

// NewParser creates a new parser for the given SQL input.
func NewParser(input string) *Parser {
	return &Parser{src: input}
}

// Parse parses the SQL input and returns its statements in order.
func (p *Parser) Parse() ([]Statement, error) {
	tokens, err := TokenizeAll(p.src)
	if err != nil {
		return nil, err
	}
	p.tokens = tokens

	var statements []Statement
	for !p.isAtEnd() {
		if p.match(TK_SEMI) {
			continue
		}
		p.nvars, p.named = 0, nil
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
		if !p.match(TK_SEMI) && !p.isAtEnd() {
			return nil, p.syntaxError()
		}
	}
	return statements, nil
}

// ParseString is a convenience function to parse a SQL string.
func ParseString(sql string) ([]Statement, error) {
	return NewParser(sql).Parse()
}

// ParamCount returns the highest parameter index used by the last statement
// parsed.
func (p *Parser) ParamCount() int {
	return p.nvars
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.peek().Type {
	case TK_SELECT:
		return p.parseSelect()
	case TK_INSERT, TK_REPLACE:
		return p.parseInsert()
	case TK_UPDATE:
		return p.parseUpdate()
	case TK_DELETE:
		return p.parseDelete()
	case TK_CREATE:
		return p.parseCreate()
	case TK_DROP:
		return p.parseDrop()
	case TK_ATTACH:
		return p.parseAttach()
	case TK_DETACH:
		p.advance()
		p.match(TK_DATABASE)
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		return &DetachStmt{Schema: name}, nil
	case TK_BEGIN:
		return p.parseBegin()
	case TK_COMMIT, TK_END:
		p.advance()
		p.match(TK_TRANSACTION)
		return &CommitStmt{}, nil
	case TK_ROLLBACK:
		p.advance()
		p.match(TK_TRANSACTION)
		if p.peek().Type == TK_ID && strings.EqualFold(p.peek().Lexeme, "TO") {
			return nil, errs.NewUnsupported("ROLLBACK TO", "savepoints are not supported")
		}
		return &RollbackStmt{}, nil
	case TK_PRAGMA:
		return p.parsePragma()
	case TK_VACUUM:
		return p.parseVacuum()
	}
	return nil, p.syntaxError()
}

// =============================================================================
// SELECT
// =============================================================================

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expect(TK_SELECT); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}
	if p.match(TK_DISTINCT) {
		stmt.Distinct = true
	} else {
		p.match(TK_ALL)
	}

	cols, err := p.parseResultColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if p.match(TK_FROM) {
		if stmt.From, err = p.parseTableRef(); err != nil {
			return nil, err
		}
		switch p.peek().Type {
		case TK_COMMA, TK_JOIN, TK_LEFT, TK_INNER, TK_CROSS, TK_NATURAL:
			return nil, errs.NewUnsupported("join", "a query reads from one source")
		}
	}

	if p.match(TK_WHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}

	if p.match(TK_GROUP) {
		if err := p.expect(TK_BY); err != nil {
			return nil, err
		}
		if stmt.GroupBy, err = p.parseExpressionList(); err != nil {
			return nil, err
		}
		if p.match(TK_HAVING) {
			if stmt.Having, err = p.parseExpression(); err != nil {
				return nil, err
			}
		}
	}

	switch p.peek().Type {
	case TK_UNION, TK_EXCEPT, TK_INTERSECT:
		return nil, errs.NewUnsupported("compound SELECT", p.peek().Lexeme)
	}

	if p.match(TK_ORDER) {
		if err := p.expect(TK_BY); err != nil {
			return nil, err
		}
		if stmt.OrderBy, err = p.parseOrderByList(); err != nil {
			return nil, err
		}
	}

	if p.match(TK_LIMIT) {
		if stmt.Limit, err = p.parseExpression(); err != nil {
			return nil, err
		}
		if p.match(TK_OFFSET) {
			if stmt.Offset, err = p.parseExpression(); err != nil {
				return nil, err
			}
		} else if p.match(TK_COMMA) {
			// LIMIT offset, count
			stmt.Offset = stmt.Limit
			if stmt.Limit, err = p.parseExpression(); err != nil {
				return nil, err
			}
		}
	}
	return stmt, nil
}

func (p *Parser) parseResultColumns() ([]ResultColumn, error) {
	var cols []ResultColumn
	for {
		if p.match(TK_STAR) {
			cols = append(cols, ResultColumn{Star: true})
		} else if p.isName(p.peek()) && p.peekAhead(1).Type == TK_DOT && p.peekAhead(2).Type == TK_STAR {
			table := Unquote(p.advance().Lexeme)
			p.advance()
			p.advance()
			cols = append(cols, ResultColumn{Star: true, Table: table})
		} else {
			start := p.current
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			col := ResultColumn{Expr: expr, Text: p.span(start)}
			if col.Alias, err = p.parseAlias(); err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		if !p.match(TK_COMMA) {
			return cols, nil
		}
	}
}

// parseAlias reads "AS name" or a bare identifier.
func (p *Parser) parseAlias() (string, error) {
	if p.match(TK_AS) {
		return p.name()
	}
	if t := p.peek().Type; t == TK_ID || t == TK_STRING {
		return Unquote(p.advance().Lexeme), nil
	}
	return "", nil
}

func (p *Parser) parseTableRef() (*TableRef, error) {
	ref := &TableRef{}
	if p.match(TK_LP) {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TK_RP); err != nil {
			return nil, err
		}
		ref.Subquery = sub
	} else {
		schema, name, _, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		ref.Schema, ref.Name = schema, name
	}
	alias, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	ref.Alias = alias
	return ref, nil
}

func (p *Parser) parseOrderByList() ([]OrderingTerm, error) {
	var terms []OrderingTerm
	for {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		term := OrderingTerm{Expr: expr}
		if p.match(TK_DESC) {
			term.Desc = true
		} else {
			p.match(TK_ASC)
		}
		terms = append(terms, term)
		if !p.match(TK_COMMA) {
			return terms, nil
		}
	}
}

// =============================================================================
// INSERT, UPDATE, DELETE
// =============================================================================

var conflictModes = map[TokenType]ConflictMode{
	TK_ROLLBACK: ConflictRollback,
	TK_ABORT:    ConflictAbort,
	TK_FAIL:     ConflictFail,
	TK_IGNORE:   ConflictIgnore,
	TK_REPLACE:  ConflictReplace,
}

func (p *Parser) parseConflict() (ConflictMode, error) {
	mode, ok := conflictModes[p.peek().Type]
	if !ok {
		return 0, p.syntaxError()
	}
	p.advance()
	return mode, nil
}

func (p *Parser) parseInsert() (*InsertStmt, error) {
	stmt := &InsertStmt{}
	if p.match(TK_REPLACE) {
		stmt.OnConflict = ConflictReplace
	} else {
		p.advance()
		if p.match(TK_OR) {
			mode, err := p.parseConflict()
			if err != nil {
				return nil, err
			}
			stmt.OnConflict = mode
		}
	}
	if err := p.expect(TK_INTO); err != nil {
		return nil, err
	}
	schema, table, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Schema, stmt.Table = schema, table

	if p.match(TK_LP) {
		if stmt.Columns, err = p.parseNameList(); err != nil {
			return nil, err
		}
	}

	switch {
	case p.match(TK_VALUES):
		for {
			if err := p.expect(TK_LP); err != nil {
				return nil, err
			}
			row, err := p.parseExpressionList()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TK_RP); err != nil {
				return nil, err
			}
			stmt.Values = append(stmt.Values, row)
			if !p.match(TK_COMMA) {
				break
			}
		}
	case p.check(TK_SELECT):
		if stmt.Select, err = p.parseSelect(); err != nil {
			return nil, err
		}
	case p.match(TK_DEFAULT):
		if err := p.expect(TK_VALUES); err != nil {
			return nil, err
		}
		stmt.DefaultValues = true
	default:
		return nil, p.syntaxError()
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	p.advance()
	stmt := &UpdateStmt{}
	if p.match(TK_OR) {
		mode, err := p.parseConflict()
		if err != nil {
			return nil, err
		}
		stmt.OnConflict = mode
	}
	schema, table, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Schema, stmt.Table = schema, table
	if err := p.expect(TK_SET); err != nil {
		return nil, err
	}
	for {
		col, err := p.name()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TK_EQ); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Column: col, Value: val})
		if !p.match(TK_COMMA) {
			break
		}
	}
	if p.match(TK_WHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	p.advance()
	if err := p.expect(TK_FROM); err != nil {
		return nil, err
	}
	schema, table, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Schema: schema, Table: table}
	if p.match(TK_WHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// =============================================================================
// CREATE, DROP
// =============================================================================

func (p *Parser) parseCreate() (Statement, error) {
	p.advance()
	if p.match(TK_TEMP) {
		return nil, errs.NewUnsupported("TEMP", "temporary schema objects")
	}
	switch {
	case p.match(TK_TABLE):
		return p.parseCreateTable()
	case p.match(TK_UNIQUE):
		if err := p.expect(TK_INDEX); err != nil {
			return nil, err
		}
		return p.parseCreateIndex(true)
	case p.match(TK_INDEX):
		return p.parseCreateIndex(false)
	case p.match(TK_VIEW):
		return p.parseCreateView()
	case p.match(TK_TRIGGER):
		return p.parseCreateTrigger()
	case p.match(TK_VIRTUAL):
		if err := p.expect(TK_TABLE); err != nil {
			return nil, err
		}
		return p.parseCreateVirtualTable()
	}
	return nil, p.syntaxError()
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if !p.match(TK_IF) {
		return false, nil
	}
	if err := p.expect(TK_NOT); err != nil {
		return false, err
	}
	return true, p.expect(TK_EXISTS)
}

func (p *Parser) parseCreateTable() (*CreateTableStmt, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	schema, name, nameTok, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{Schema: schema, Name: name, IfNotExists: ifNot}

	if p.match(TK_AS) {
		return nil, errs.NewUnsupported("CREATE TABLE AS", "declare the columns explicitly")
	}
	if err := p.expect(TK_LP); err != nil {
		return nil, err
	}
	for {
		if p.isTableConstraint() {
			tc, err := p.parseTableConstraint()
			if err != nil {
				return nil, err
			}
			if tc != nil {
				stmt.Constraints = append(stmt.Constraints, *tc)
			}
		} else {
			if len(stmt.Constraints) > 0 {
				return nil, p.syntaxError()
			}
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, *col)
		}
		if !p.match(TK_COMMA) {
			break
		}
	}
	if err := p.expect(TK_RP); err != nil {
		return nil, err
	}
	if p.match(TK_WITHOUT) {
		if err := p.expect(TK_ROWID); err != nil {
			return nil, err
		}
		stmt.WithoutRowid = true
	}
	stmt.SQL = "CREATE TABLE " + p.span(nameTok)
	return stmt, nil
}

func (p *Parser) parseColumnDef() (*ColumnDef, error) {
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	col := &ColumnDef{Name: name}
	col.Type = p.parseTypeName()

	for {
		if p.match(TK_CONSTRAINT) {
			if _, err := p.name(); err != nil {
				return nil, err
			}
		}
		switch {
		case p.match(TK_PRIMARY):
			if err := p.expect(TK_KEY); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
			if p.match(TK_DESC) {
				col.Desc = true
			} else {
				p.match(TK_ASC)
			}
			if err := p.skipOnConflict(); err != nil {
				return nil, err
			}
			col.Autoincrement = p.match(TK_AUTOINCREMENT)
		case p.match(TK_NOT):
			if err := p.expect(TK_NULL); err != nil {
				return nil, err
			}
			col.NotNull = true
			if err := p.skipOnConflict(); err != nil {
				return nil, err
			}
		case p.match(TK_NULL):
		case p.match(TK_UNIQUE):
			col.Unique = true
			if err := p.skipOnConflict(); err != nil {
				return nil, err
			}
		case p.match(TK_CHECK):
			e, err := p.parseParenExpr()
			if err != nil {
				return nil, err
			}
			col.Checks = append(col.Checks, e)
		case p.match(TK_DEFAULT):
			if col.Default, err = p.parseDefault(); err != nil {
				return nil, err
			}
		case p.match(TK_COLLATE):
			if col.Collate, err = p.name(); err != nil {
				return nil, err
			}
		case p.match(TK_REFERENCES):
			if err := p.skipForeignKey(); err != nil {
				return nil, err
			}
		case p.check(TK_AS) || p.peek().Type == TK_ID && strings.EqualFold(p.peek().Lexeme, "GENERATED"):
			return nil, errs.NewUnsupported("generated column", col.Name)
		default:
			return col, nil
		}
	}
}

// parseTypeName reads a declared type such as "VARCHAR(10)" or "UNSIGNED BIG
// INT". It returns the source text, or "" when there is none.
func (p *Parser) parseTypeName() string {
	start := p.current
	for p.check(TK_ID) {
		p.advance()
	}
	if p.current == start {
		return ""
	}
	if p.check(TK_LP) {
		save := p.current
		p.advance()
		ok := p.skipSignedNumber()
		if ok && p.match(TK_COMMA) {
			ok = p.skipSignedNumber()
		}
		if !ok || !p.match(TK_RP) {
			p.current = save
		}
	}
	return p.span(start)
}

func (p *Parser) skipSignedNumber() bool {
	if !p.match(TK_PLUS) {
		p.match(TK_MINUS)
	}
	return p.match(TK_INTEGER, TK_FLOAT)
}

// parseDefault reads the value of a DEFAULT clause: a literal, a signed
// number, a parenthesized expression or a bare identifier.
func (p *Parser) parseDefault() (Expression, error) {
	switch tok := p.peek(); {
	case tok.Type == TK_LP:
		return p.parseParenExpr()
	case tok.Type == TK_MINUS || tok.Type == TK_PLUS:
		return p.parseUnary()
	case tok.Type == TK_ID:
		p.advance()
		switch strings.ToUpper(tok.Lexeme) {
		case "TRUE":
			return &LiteralExpr{Kind: LiteralInteger, Value: "1"}, nil
		case "FALSE":
			return &LiteralExpr{Kind: LiteralInteger, Value: "0"}, nil
		}
		return &LiteralExpr{Kind: LiteralString, Value: Unquote(tok.Lexeme)}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parseParenExpr() (Expression, error) {
	if err := p.expect(TK_LP); err != nil {
		return nil, err
	}
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return e, p.expect(TK_RP)
}

// skipOnConflict consumes an optional "ON CONFLICT mode".
func (p *Parser) skipOnConflict() error {
	if !p.check(TK_ON) || p.peekAhead(1).Type != TK_CONFLICT {
		return nil
	}
	p.advance()
	p.advance()
	_, err := p.parseConflict()
	return err
}

// skipForeignKey consumes the rest of a REFERENCES clause. Foreign keys are
// recorded in the stored SQL only.
func (p *Parser) skipForeignKey() error {
	if _, err := p.name(); err != nil {
		return err
	}
	if p.match(TK_LP) {
		if _, err := p.parseNameList(); err != nil {
			return err
		}
	}
	for {
		tok := p.peek()
		switch {
		case tok.Type == TK_ON:
			p.advance()
			p.advance() // DELETE or UPDATE
			switch {
			case p.match(TK_SET):
				p.advance() // NULL or DEFAULT
			case p.peek().Type == TK_ID && strings.EqualFold(p.peek().Lexeme, "NO"):
				p.advance()
				p.advance()
			default:
				p.advance()
			}
		case tok.Type == TK_ID && strings.EqualFold(tok.Lexeme, "MATCH"):
			p.advance()
			p.advance()
		case tok.Type == TK_NOT && strings.EqualFold(p.peekAhead(1).Lexeme, "DEFERRABLE"),
			tok.Type == TK_ID && strings.EqualFold(tok.Lexeme, "DEFERRABLE"):
			p.match(TK_NOT)
			p.advance()
			if strings.EqualFold(p.peek().Lexeme, "INITIALLY") {
				p.advance()
				p.advance()
			}
		default:
			return nil
		}
	}
}

func (p *Parser) isTableConstraint() bool {
	switch p.peek().Type {
	case TK_CONSTRAINT, TK_PRIMARY, TK_UNIQUE, TK_CHECK, TK_FOREIGN:
		return true
	}
	return false
}

// parseTableConstraint returns nil for a FOREIGN KEY constraint.
func (p *Parser) parseTableConstraint() (*TableConstraint, error) {
	tc := &TableConstraint{}
	if p.match(TK_CONSTRAINT) {
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		tc.Name = name
	}
	var err error
	switch {
	case p.match(TK_PRIMARY):
		if err := p.expect(TK_KEY); err != nil {
			return nil, err
		}
		tc.PrimaryKey = true
		if tc.Columns, err = p.parseIndexedColumns(); err != nil {
			return nil, err
		}
		p.match(TK_AUTOINCREMENT)
		return tc, p.skipOnConflict()
	case p.match(TK_UNIQUE):
		tc.Unique = true
		if tc.Columns, err = p.parseIndexedColumns(); err != nil {
			return nil, err
		}
		return tc, p.skipOnConflict()
	case p.match(TK_CHECK):
		if tc.Check, err = p.parseParenExpr(); err != nil {
			return nil, err
		}
		return tc, nil
	case p.match(TK_FOREIGN):
		if err := p.expect(TK_KEY); err != nil {
			return nil, err
		}
		if err := p.expect(TK_LP); err != nil {
			return nil, err
		}
		if _, err := p.parseNameList(); err != nil {
			return nil, err
		}
		if err := p.expect(TK_REFERENCES); err != nil {
			return nil, err
		}
		return nil, p.skipForeignKey()
	}
	return nil, p.syntaxError()
}

func (p *Parser) parseIndexedColumns() ([]IndexedColumn, error) {
	if err := p.expect(TK_LP); err != nil {
		return nil, err
	}
	var cols []IndexedColumn
	for {
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		col := IndexedColumn{Name: name}
		if p.match(TK_COLLATE) {
			if col.Collate, err = p.name(); err != nil {
				return nil, err
			}
		}
		if p.match(TK_DESC) {
			col.Desc = true
		} else {
			p.match(TK_ASC)
		}
		switch p.peek().Type {
		case TK_COMMA, TK_RP:
		default:
			return nil, errs.NewUnsupported("indexed expression", "index columns must be plain column names")
		}
		cols = append(cols, col)
		if !p.match(TK_COMMA) {
			break
		}
	}
	return cols, p.expect(TK_RP)
}

func (p *Parser) parseCreateIndex(unique bool) (*CreateIndexStmt, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	schema, name, nameTok, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TK_ON); err != nil {
		return nil, err
	}
	table, err := p.name()
	if err != nil {
		return nil, err
	}
	stmt := &CreateIndexStmt{Schema: schema, Name: name, Table: table, Unique: unique, IfNotExists: ifNot}
	if stmt.Columns, err = p.parseIndexedColumns(); err != nil {
		return nil, err
	}
	if p.match(TK_WHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	prefix := "CREATE INDEX "
	if unique {
		prefix = "CREATE UNIQUE INDEX "
	}
	stmt.SQL = prefix + p.span(nameTok)
	return stmt, nil
}

func (p *Parser) parseCreateView() (*CreateViewStmt, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	schema, name, nameTok, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &CreateViewStmt{Schema: schema, Name: name, IfNotExists: ifNot}
	if p.match(TK_LP) {
		if stmt.Columns, err = p.parseNameList(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TK_AS); err != nil {
		return nil, err
	}
	if stmt.Select, err = p.parseSelect(); err != nil {
		return nil, err
	}
	stmt.SQL = "CREATE VIEW " + p.span(nameTok)
	return stmt, nil
}

// parseCreateTrigger records the trigger's table and text. The body runs from
// BEGIN to the END that closes it; CASE ... END pairs inside are skipped.
func (p *Parser) parseCreateTrigger() (*CreateTriggerStmt, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	schema, name, nameTok, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &CreateTriggerStmt{Schema: schema, Name: name, IfNotExists: ifNot}

	for !p.check(TK_ON) {
		if p.isAtEnd() {
			return nil, p.syntaxError()
		}
		p.advance()
	}
	p.advance()
	if _, stmt.Table, _, err = p.qualifiedName(); err != nil {
		return nil, err
	}
	for !p.match(TK_BEGIN) {
		if p.isAtEnd() {
			return nil, p.syntaxError()
		}
		p.advance()
	}
	depth, body := 0, 0
	for {
		tok := p.advance()
		switch tok.Type {
		case TK_EOF:
			return nil, errs.New(errs.ERROR, "incomplete input")
		case TK_CASE:
			depth++
		case TK_SEMI:
			body++
		case TK_END:
			if depth > 0 {
				depth--
				continue
			}
			if body == 0 {
				return nil, p.syntaxError()
			}
			stmt.SQL = "CREATE TRIGGER " + p.span(nameTok)
			return stmt, nil
		}
	}
}

func (p *Parser) parseCreateVirtualTable() (*CreateVirtualTableStmt, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	schema, name, nameTok, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TK_USING); err != nil {
		return nil, err
	}
	module, err := p.name()
	if err != nil {
		return nil, err
	}
	stmt := &CreateVirtualTableStmt{Schema: schema, Name: name, Module: module, IfNotExists: ifNot}
	if p.match(TK_LP) {
		depth, start := 0, p.current
		for {
			tok := p.peek()
			switch {
			case tok.Type == TK_EOF:
				return nil, errs.New(errs.ERROR, "incomplete input")
			case tok.Type == TK_LP:
				depth++
			case tok.Type == TK_RP && depth > 0:
				depth--
			case (tok.Type == TK_COMMA || tok.Type == TK_RP) && depth == 0:
				if p.current > start {
					stmt.Args = append(stmt.Args, p.span(start))
				}
				p.advance()
				if tok.Type == TK_RP {
					stmt.SQL = "CREATE VIRTUAL TABLE " + p.span(nameTok)
					return stmt, nil
				}
				start = p.current
				continue
			}
			p.advance()
		}
	}
	stmt.SQL = "CREATE VIRTUAL TABLE " + p.span(nameTok)
	return stmt, nil
}

func (p *Parser) parseDrop() (*DropStmt, error) {
	p.advance()
	stmt := &DropStmt{}
	switch p.peek().Type {
	case TK_TABLE:
		stmt.Kind = KindTable
	case TK_INDEX:
		stmt.Kind = KindIndex
	case TK_VIEW:
		stmt.Kind = KindView
	case TK_TRIGGER:
		stmt.Kind = KindTrigger
	default:
		return nil, p.syntaxError()
	}
	p.advance()
	if p.match(TK_IF) {
		if err := p.expect(TK_EXISTS); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}
	schema, name, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Schema, stmt.Name = schema, name
	return stmt, nil
}

// =============================================================================
// ATTACH, BEGIN, PRAGMA, VACUUM
// =============================================================================

func (p *Parser) parseAttach() (*AttachStmt, error) {
	p.advance()
	p.match(TK_DATABASE)
	file, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TK_AS); err != nil {
		return nil, err
	}
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	stmt := &AttachStmt{File: file, Schema: name}
	if p.match(TK_KEY) {
		if stmt.Key, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseBegin() (*BeginStmt, error) {
	p.advance()
	stmt := &BeginStmt{}
	switch {
	case p.match(TK_DEFERRED):
	case p.match(TK_IMMEDIATE):
		stmt.Mode = TxImmediate
	case p.match(TK_EXCLUSIVE):
		stmt.Mode = TxExclusive
	}
	if p.match(TK_TRANSACTION) && p.check(TK_ID) {
		p.advance()
	}
	return stmt, nil
}

func (p *Parser) parsePragma() (*PragmaStmt, error) {
	p.advance()
	schema, name, _, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &PragmaStmt{Schema: schema, Name: strings.ToLower(name)}

	closing := TK_EOF
	switch {
	case p.match(TK_EQ):
	case p.match(TK_LP):
		closing = TK_RP
	default:
		return stmt, nil
	}
	sign := ""
	if p.match(TK_MINUS) {
		sign = "-"
	} else {
		p.match(TK_PLUS)
	}
	tok := p.peek()
	switch {
	case tok.Type == TK_INTEGER || tok.Type == TK_FLOAT:
		stmt.Value = sign + tok.Lexeme
	case sign == "" && (p.isName(tok) || tok.Type == TK_NULL):
		stmt.Value = Unquote(tok.Lexeme)
	default:
		return nil, p.syntaxError()
	}
	p.advance()
	stmt.HasValue = true
	if closing != TK_EOF {
		if err := p.expect(closing); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseVacuum() (*VacuumStmt, error) {
	p.advance()
	stmt := &VacuumStmt{}
	if tok := p.peek(); tok.Type != TK_INTO && p.isName(tok) {
		stmt.Schema = Unquote(p.advance().Lexeme)
	}
	if p.match(TK_INTO) {
		into, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Into = into
	}
	return stmt, nil
}

// =============================================================================
// Expressions
// =============================================================================

func (p *Parser) parseExpression() (Expression, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TK_OR) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.match(TK_AND) {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expression, error) {
	if p.match(TK_NOT) {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Expr: e}, nil
	}
	return p.parseEquality()
}

// parseEquality handles the operators that share the equality precedence:
// = <> IS IN LIKE GLOB BETWEEN ISNULL NOTNULL.
func (p *Parser) parseEquality() (Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		not := false
		if p.check(TK_NOT) {
			switch p.peekAhead(1).Type {
			case TK_NULL, TK_IN, TK_LIKE, TK_GLOB, TK_BETWEEN:
				p.advance()
				not = true
			default:
				return left, nil
			}
		}
		switch {
		case !not && p.match(TK_EQ):
			right, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: OpEq, Left: left, Right: right}
		case !not && p.match(TK_NE):
			right, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: OpNe, Left: left, Right: right}
		case !not && p.match(TK_IS):
			isNot := p.match(TK_NOT)
			if p.match(TK_NULL) {
				left = &IsNullExpr{Expr: left, Not: isNot}
				continue
			}
			right, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			op := OpIs
			if isNot {
				op = OpIsNot
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}
		case !not && p.match(TK_ISNULL):
			left = &IsNullExpr{Expr: left}
		case !not && p.match(TK_NOTNULL):
			left = &IsNullExpr{Expr: left, Not: true}
		case not && p.match(TK_NULL):
			left = &IsNullExpr{Expr: left, Not: true}
		case p.match(TK_IN):
			in, err := p.parseIn(left, not)
			if err != nil {
				return nil, err
			}
			left = in
		case p.check(TK_LIKE) || p.check(TK_GLOB):
			glob := p.advance().Type == TK_GLOB
			pattern, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			like := &LikeExpr{Expr: left, Pattern: pattern, Not: not, Glob: glob}
			if p.match(TK_ESCAPE) {
				if like.Escape, err = p.parseRelational(); err != nil {
					return nil, err
				}
			}
			left = like
		case p.match(TK_BETWEEN):
			lower, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TK_AND); err != nil {
				return nil, err
			}
			upper, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			left = &BetweenExpr{Expr: left, Lower: lower, Upper: upper, Not: not}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseIn(left Expression, not bool) (Expression, error) {
	if err := p.expect(TK_LP); err != nil {
		return nil, err
	}
	in := &InExpr{Expr: left, Not: not}
	switch {
	case p.check(TK_SELECT):
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		in.Select = sel
	case p.check(TK_RP):
	default:
		values, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		in.Values = values
	}
	return in, p.expect(TK_RP)
}

type binaryLevel map[TokenType]BinaryOp

var (
	relationalOps     = binaryLevel{TK_LT: OpLt, TK_LE: OpLe, TK_GT: OpGt, TK_GE: OpGe}
	bitwiseOps        = binaryLevel{TK_BITAND: OpBitAnd, TK_BITOR: OpBitOr, TK_LSHIFT: OpLShift, TK_RSHIFT: OpRShift}
	additiveOps       = binaryLevel{TK_PLUS: OpPlus, TK_MINUS: OpMinus}
	multiplicativeOps = binaryLevel{TK_STAR: OpMul, TK_SLASH: OpDiv, TK_REM: OpRem}
	concatOps         = binaryLevel{TK_CONCAT: OpConcat}
)

// parseLeftAssoc parses a left-associative chain of the operators in ops.
func (p *Parser) parseLeftAssoc(ops binaryLevel, next func() (Expression, error)) (Expression, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := ops[p.peek().Type]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseRelational() (Expression, error) {
	return p.parseLeftAssoc(relationalOps, p.parseBitwise)
}

func (p *Parser) parseBitwise() (Expression, error) {
	return p.parseLeftAssoc(bitwiseOps, p.parseAdditive)
}

func (p *Parser) parseAdditive() (Expression, error) {
	return p.parseLeftAssoc(additiveOps, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() (Expression, error) {
	return p.parseLeftAssoc(multiplicativeOps, p.parseConcat)
}

func (p *Parser) parseConcat() (Expression, error) {
	return p.parseLeftAssoc(concatOps, p.parseUnary)
}

func (p *Parser) parseUnary() (Expression, error) {
	var op UnaryOp
	switch {
	case p.match(TK_MINUS):
		op = OpNeg
	case p.match(TK_PLUS):
		op = OpPos
	case p.match(TK_BITNOT):
		op = OpBitNot
	default:
		return p.parsePostfix()
	}
	e, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: op, Expr: e}, nil
}

func (p *Parser) parsePostfix() (Expression, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.match(TK_COLLATE) {
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		e = &CollateExpr{Expr: e, Collation: name}
	}
	return e, nil
}

// Keywords that read as identifiers in an expression.
var fallbackKeywords = map[TokenType]bool{
	TK_ABORT: true, TK_ASC: true, TK_ATTACH: true, TK_AUTOINCREMENT: true,
	TK_BEGIN: true, TK_CONFLICT: true, TK_DATABASE: true, TK_DEFERRED: true,
	TK_DESC: true, TK_DETACH: true, TK_EXCLUSIVE: true, TK_FAIL: true,
	TK_IGNORE: true, TK_IMMEDIATE: true, TK_KEY: true, TK_PRAGMA: true,
	TK_REPLACE: true, TK_ROWID: true, TK_TEMP: true, TK_TRANSACTION: true,
	TK_TRIGGER: true, TK_VACUUM: true, TK_VIEW: true, TK_VIRTUAL: true,
	TK_WITHOUT: true,
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok := p.peek()
	switch tok.Type {
	case TK_INTEGER:
		p.advance()
		return &LiteralExpr{Kind: LiteralInteger, Value: tok.Lexeme}, nil
	case TK_FLOAT:
		p.advance()
		return &LiteralExpr{Kind: LiteralFloat, Value: tok.Lexeme}, nil
	case TK_STRING:
		p.advance()
		return &LiteralExpr{Kind: LiteralString, Value: Unquote(tok.Lexeme)}, nil
	case TK_BLOB:
		p.advance()
		return &LiteralExpr{Kind: LiteralBlob, Value: tok.Lexeme[2 : len(tok.Lexeme)-1]}, nil
	case TK_NULL:
		p.advance()
		return &LiteralExpr{Kind: LiteralNull}, nil
	case TK_VARIABLE:
		p.advance()
		return p.variable(tok)
	case TK_LP:
		p.advance()
		if p.check(TK_SELECT) {
			sel, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			return &SubqueryExpr{Select: sel}, p.expect(TK_RP)
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.check(TK_COMMA) {
			return nil, errs.NewUnsupported("row value", "")
		}
		return e, p.expect(TK_RP)
	case TK_CAST:
		p.advance()
		if err := p.expect(TK_LP); err != nil {
			return nil, err
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TK_AS); err != nil {
			return nil, err
		}
		typ := p.parseTypeName()
		return &CastExpr{Expr: e, Type: typ}, p.expect(TK_RP)
	case TK_CASE:
		p.advance()
		return p.parseCase()
	case TK_EXISTS:
		p.advance()
		if err := p.expect(TK_LP); err != nil {
			return nil, err
		}
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &ExistsExpr{Select: sel}, p.expect(TK_RP)
	}

	if tok.Type == TK_ID || fallbackKeywords[tok.Type] || p.peekAhead(1).Type == TK_LP && (tok.Type == TK_LIKE || tok.Type == TK_GLOB) {
		p.advance()
		name := Unquote(tok.Lexeme)
		if p.match(TK_LP) {
			return p.parseFunction(name)
		}
		if p.match(TK_DOT) {
			col := p.peek()
			if !p.isName(col) {
				return nil, p.syntaxError()
			}
			p.advance()
			return &ColumnExpr{Table: name, Column: Unquote(col.Lexeme)}, nil
		}
		return &ColumnExpr{Column: name}, nil
	}
	return nil, p.syntaxError()
}

func (p *Parser) variable(tok Token) (Expression, error) {
	name := tok.Lexeme
	if name == "?" {
		p.nvars++
		return &VariableExpr{Name: name, Index: p.nvars}, nil
	}
	if name[0] == '?' {
		n, err := strconv.Atoi(name[1:])
		if err != nil || n < 1 || n > 32766 {
			return nil, errs.NewParse(name, "variable number must be between ?1 and ?32766")
		}
		p.nvars = max(p.nvars, n)
		return &VariableExpr{Name: name, Index: n}, nil
	}
	if idx, ok := p.named[name]; ok {
		return &VariableExpr{Name: name, Index: idx}, nil
	}
	if p.named == nil {
		p.named = make(map[string]int)
	}
	p.nvars++
	p.named[name] = p.nvars
	return &VariableExpr{Name: name, Index: p.nvars}, nil
}

func (p *Parser) parseFunction(name string) (Expression, error) {
	fn := &FunctionExpr{Name: strings.ToLower(name)}
	switch {
	case p.match(TK_STAR):
		fn.Star = true
	case p.check(TK_RP):
	default:
		fn.Distinct = p.match(TK_DISTINCT)
		args, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		fn.Args = args
	}
	return fn, p.expect(TK_RP)
}

func (p *Parser) parseCase() (Expression, error) {
	c := &CaseExpr{}
	var err error
	if !p.check(TK_WHEN) {
		if c.Operand, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	for p.match(TK_WHEN) {
		var w WhenClause
		if w.Cond, err = p.parseExpression(); err != nil {
			return nil, err
		}
		if err := p.expect(TK_THEN); err != nil {
			return nil, err
		}
		if w.Result, err = p.parseExpression(); err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, w)
	}
	if len(c.Whens) == 0 {
		return nil, p.syntaxError()
	}
	if p.match(TK_ELSE) {
		if c.Else, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return c, p.expect(TK_END)
}

func (p *Parser) parseExpressionList() ([]Expression, error) {
	var list []Expression
	for {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.match(TK_COMMA) {
			return list, nil
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// isName reports whether tok can stand for an identifier: a plain or quoted
// identifier, a string, or any keyword.
func (p *Parser) isName(tok Token) bool {
	return tok.Type == TK_ID || tok.Type == TK_STRING || tok.Type.IsKeyword() && tok.Type != TK_NULL
}

func (p *Parser) name() (string, error) {
	tok := p.peek()
	if !p.isName(tok) {
		return "", p.syntaxError()
	}
	p.advance()
	return Unquote(tok.Lexeme), nil
}

// qualifiedName reads [schema.]name and returns the token index of name.
func (p *Parser) qualifiedName() (schema, name string, nameTok int, err error) {
	nameTok = p.current
	if name, err = p.name(); err != nil {
		return "", "", 0, err
	}
	if p.match(TK_DOT) {
		schema = name
		nameTok = p.current
		if name, err = p.name(); err != nil {
			return "", "", 0, err
		}
	}
	return schema, name, nameTok, nil
}

// parseNameList reads "a, b, c)" after an opening parenthesis.
func (p *Parser) parseNameList() ([]string, error) {
	var names []string
	for {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		if !p.match(TK_COMMA) {
			break
		}
	}
	return names, p.expect(TK_RP)
}

// span returns the source text from token start through the last consumed
// token.
func (p *Parser) span(start int) string {
	if p.current <= start {
		return ""
	}
	last := p.tokens[p.current-1]
	return p.src[p.tokens[start].Pos : last.Pos+len(last.Lexeme)]
}

func (p *Parser) peek() Token {
	if p.current >= len(p.tokens) {
		return Token{Type: TK_EOF, Pos: len(p.src)}
	}
	return p.tokens[p.current]
}

func (p *Parser) peekAhead(n int) Token {
	if p.current+n >= len(p.tokens) {
		return Token{Type: TK_EOF, Pos: len(p.src)}
	}
	return p.tokens[p.current+n]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if !p.isAtEnd() {
		p.current++
	}
	return tok
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(types ...TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(t TokenType) error {
	if p.match(t) {
		return nil
	}
	return p.syntaxError()
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == TK_EOF
}

func (p *Parser) syntaxError() error {
	tok := p.peek()
	if tok.Type == TK_EOF {
		return errs.New(errs.ERROR, "incomplete input")
	}
	return errs.NewParse(tok.Lexeme, "syntax error")
}
