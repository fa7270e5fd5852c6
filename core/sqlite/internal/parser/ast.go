package parser

// Node is the interface that all AST nodes implement.
type Node interface {
	node()
}

// Statement represents a SQL statement.
type Statement interface {
	Node
	statement()
}

// Expression represents a SQL expression.
type Expression interface {
	Node
	expression()
}

// =============================================================================
// Queries
// =============================================================================

// SelectStmt represents a SELECT statement over at most one source.
type SelectStmt struct {
	Distinct bool
	Columns  []ResultColumn
	From     *TableRef
	Where    Expression
	GroupBy  []Expression
	Having   Expression
	OrderBy  []OrderingTerm
	Limit    Expression
	Offset   Expression
}

// ResultColumn is one entry of the SELECT list.
type ResultColumn struct {
	Expr  Expression
	Alias string
	Star  bool   // * or table.*
	Table string // qualifier of table.*
	Text  string // source text of Expr, used as the default column name
}

// TableRef names the FROM source: a table or view, or a subquery.
type TableRef struct {
	Schema   string
	Name     string
	Alias    string
	Subquery *SelectStmt
}

// OrderingTerm is one ORDER BY key.
type OrderingTerm struct {
	Expr Expression
	Desc bool
}

// =============================================================================
// Data changes
// =============================================================================

// ConflictMode is the OR clause of INSERT and UPDATE.
type ConflictMode int

const (
	ConflictAbort ConflictMode = iota
	ConflictRollback
	ConflictFail
	ConflictIgnore
	ConflictReplace
)

// InsertStmt represents an INSERT statement.
type InsertStmt struct {
	OnConflict    ConflictMode
	Schema        string
	Table         string
	Columns       []string
	Values        [][]Expression
	Select        *SelectStmt
	DefaultValues bool
}

// Assignment is one SET clause entry.
type Assignment struct {
	Column string
	Value  Expression
}

// UpdateStmt represents an UPDATE statement.
type UpdateStmt struct {
	OnConflict ConflictMode
	Schema     string
	Table      string
	Sets       []Assignment
	Where      Expression
}

// DeleteStmt represents a DELETE statement.
type DeleteStmt struct {
	Schema string
	Table  string
	Where  Expression
}

// =============================================================================
// Schema changes
// =============================================================================

// CreateTableStmt represents CREATE TABLE. SQL holds the text stored in the
// catalog: "CREATE TABLE " followed by the source from the table name on.
type CreateTableStmt struct {
	Schema       string
	Name         string
	IfNotExists  bool
	Columns      []ColumnDef
	Constraints  []TableConstraint
	WithoutRowid bool
	SQL          string
}

// ColumnDef is a column of CREATE TABLE.
type ColumnDef struct {
	Name          string
	Type          string
	PrimaryKey    bool
	Desc          bool
	Autoincrement bool
	NotNull       bool
	Unique        bool
	Default       Expression
	Collate       string
	Checks        []Expression
}

// TableConstraint is a PRIMARY KEY, UNIQUE or CHECK table constraint.
type TableConstraint struct {
	Name       string
	PrimaryKey bool
	Unique     bool
	Columns    []IndexedColumn
	Check      Expression
}

// IndexedColumn is a column of an index or key definition.
type IndexedColumn struct {
	Name    string
	Collate string
	Desc    bool
}

// CreateIndexStmt represents CREATE [UNIQUE] INDEX.
type CreateIndexStmt struct {
	Schema      string
	Name        string
	Table       string
	Unique      bool
	IfNotExists bool
	Columns     []IndexedColumn
	Where       Expression
	SQL         string
}

// CreateViewStmt represents CREATE VIEW.
type CreateViewStmt struct {
	Schema      string
	Name        string
	IfNotExists bool
	Columns     []string
	Select      *SelectStmt
	SQL         string
}

// CreateTriggerStmt represents CREATE TRIGGER. The body is kept as text only.
type CreateTriggerStmt struct {
	Schema      string
	Name        string
	Table       string
	IfNotExists bool
	SQL         string
}

// CreateVirtualTableStmt represents CREATE VIRTUAL TABLE.
type CreateVirtualTableStmt struct {
	Schema      string
	Name        string
	Module      string
	Args        []string
	IfNotExists bool
	SQL         string
}

// ObjectKind names a schema object type as stored in the catalog.
type ObjectKind string

const (
	KindTable   ObjectKind = "table"
	KindIndex   ObjectKind = "index"
	KindView    ObjectKind = "view"
	KindTrigger ObjectKind = "trigger"
)

// DropStmt represents DROP TABLE/INDEX/VIEW/TRIGGER.
type DropStmt struct {
	Kind     ObjectKind
	Schema   string
	Name     string
	IfExists bool
}

// =============================================================================
// Connection control
// =============================================================================

// AttachStmt represents ATTACH [DATABASE] file AS name [KEY key].
type AttachStmt struct {
	File   Expression
	Schema string
	Key    Expression
}

// DetachStmt represents DETACH [DATABASE] name.
type DetachStmt struct {
	Schema string
}

// TxMode is the locking mode of BEGIN.
type TxMode int

const (
	TxDeferred TxMode = iota
	TxImmediate
	TxExclusive
)

// BeginStmt represents BEGIN [mode] [TRANSACTION].
type BeginStmt struct {
	Mode TxMode
}

// CommitStmt represents COMMIT or END.
type CommitStmt struct{}

// RollbackStmt represents ROLLBACK.
type RollbackStmt struct{}

// PragmaStmt represents PRAGMA [schema.]name [= value | (value)]. Value is
// the unquoted argument text; a leading sign is kept.
type PragmaStmt struct {
	Schema   string
	Name     string
	Value    string
	HasValue bool
}

// VacuumStmt represents VACUUM [schema] [INTO file].
type VacuumStmt struct {
	Schema string
	Into   Expression
}

func (*SelectStmt) node()             {}
func (*InsertStmt) node()             {}
func (*UpdateStmt) node()             {}
func (*DeleteStmt) node()             {}
func (*CreateTableStmt) node()        {}
func (*CreateIndexStmt) node()        {}
func (*CreateViewStmt) node()         {}
func (*CreateTriggerStmt) node()      {}
func (*CreateVirtualTableStmt) node() {}
func (*DropStmt) node()               {}
func (*AttachStmt) node()             {}
func (*DetachStmt) node()             {}
func (*BeginStmt) node()              {}
func (*CommitStmt) node()             {}
func (*RollbackStmt) node()           {}
func (*PragmaStmt) node()             {}
func (*VacuumStmt) node()             {}

func (*SelectStmt) statement()             {}
func (*InsertStmt) statement()             {}
func (*UpdateStmt) statement()             {}
func (*DeleteStmt) statement()             {}
func (*CreateTableStmt) statement()        {}
func (*CreateIndexStmt) statement()        {}
func (*CreateViewStmt) statement()         {}
func (*CreateTriggerStmt) statement()      {}
func (*CreateVirtualTableStmt) statement() {}
func (*DropStmt) statement()               {}
func (*AttachStmt) statement()             {}
func (*DetachStmt) statement()             {}
func (*BeginStmt) statement()              {}
func (*CommitStmt) statement()             {}
func (*RollbackStmt) statement()           {}
func (*PragmaStmt) statement()             {}
func (*VacuumStmt) statement()             {}

// =============================================================================
// Expressions
// =============================================================================

// LiteralKind is the type of a literal.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralInteger
	LiteralFloat
	LiteralString
	LiteralBlob
)

// LiteralExpr is a constant. Value is the number text, the unquoted string
// or the hex digits of a blob.
type LiteralExpr struct {
	Kind  LiteralKind
	Value string
}

// ColumnExpr references a column, optionally qualified by table.
type ColumnExpr struct {
	Table  string
	Column string
}

// VariableExpr is a bound parameter. Index is 1-based.
type VariableExpr struct {
	Name  string
	Index int
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpPos
	OpNot
	OpBitNot
)

// UnaryExpr applies a prefix operator.
type UnaryExpr struct {
	Op   UnaryOp
	Expr Expression
}

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpOr BinaryOp = iota
	OpAnd
	OpEq
	OpNe
	OpIs
	OpIsNot
	OpLt
	OpLe
	OpGt
	OpGe
	OpBitAnd
	OpBitOr
	OpLShift
	OpRShift
	OpPlus
	OpMinus
	OpMul
	OpDiv
	OpRem
	OpConcat
)

// BinaryExpr applies an infix operator.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
}

// IsNullExpr is "x IS NULL", "x ISNULL" and their negations.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

// LikeExpr is LIKE or GLOB.
type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Escape  Expression
	Not     bool
	Glob    bool
}

// BetweenExpr is "x [NOT] BETWEEN lo AND hi".
type BetweenExpr struct {
	Expr  Expression
	Lower Expression
	Upper Expression
	Not   bool
}

// InExpr is "x [NOT] IN (list)" or "x [NOT] IN (select)".
type InExpr struct {
	Expr   Expression
	Values []Expression
	Select *SelectStmt
	Not    bool
}

// WhenClause is one WHEN ... THEN ... arm of CASE.
type WhenClause struct {
	Cond   Expression
	Result Expression
}

// CaseExpr is CASE [operand] WHEN ... [ELSE ...] END.
type CaseExpr struct {
	Operand Expression
	Whens   []WhenClause
	Else    Expression
}

// CastExpr is CAST(x AS type).
type CastExpr struct {
	Expr Expression
	Type string
}

// CollateExpr is "x COLLATE name".
type CollateExpr struct {
	Expr      Expression
	Collation string
}

// FunctionExpr is a scalar or aggregate call.
type FunctionExpr struct {
	Name     string
	Args     []Expression
	Star     bool
	Distinct bool
}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	Select *SelectStmt
}

// ExistsExpr is [NOT] EXISTS (select).
type ExistsExpr struct {
	Select *SelectStmt
	Not    bool
}

func (*LiteralExpr) node()  {}
func (*ColumnExpr) node()   {}
func (*VariableExpr) node() {}
func (*UnaryExpr) node()    {}
func (*BinaryExpr) node()   {}
func (*IsNullExpr) node()   {}
func (*LikeExpr) node()     {}
func (*BetweenExpr) node()  {}
func (*InExpr) node()       {}
func (*CaseExpr) node()     {}
func (*CastExpr) node()     {}
func (*CollateExpr) node()  {}
func (*FunctionExpr) node() {}
func (*SubqueryExpr) node() {}
func (*ExistsExpr) node()   {}

func (*LiteralExpr) expression()  {}
func (*ColumnExpr) expression()   {}
func (*VariableExpr) expression() {}
func (*UnaryExpr) expression()    {}
func (*BinaryExpr) expression()   {}
func (*IsNullExpr) expression()   {}
func (*LikeExpr) expression()     {}
func (*BetweenExpr) expression()  {}
func (*InExpr) expression()       {}
func (*CaseExpr) expression()     {}
func (*CastExpr) expression()     {}
func (*CollateExpr) expression()  {}
func (*FunctionExpr) expression() {}
func (*SubqueryExpr) expression() {}
func (*ExistsExpr) expression()   {}

// Walk calls fn for e and every expression below it, stopping early when fn
// returns false. Subqueries are not entered.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch x := e.(type) {
	case *UnaryExpr:
		Walk(x.Expr, fn)
	case *BinaryExpr:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *IsNullExpr:
		Walk(x.Expr, fn)
	case *LikeExpr:
		Walk(x.Expr, fn)
		Walk(x.Pattern, fn)
		Walk(x.Escape, fn)
	case *BetweenExpr:
		Walk(x.Expr, fn)
		Walk(x.Lower, fn)
		Walk(x.Upper, fn)
	case *InExpr:
		Walk(x.Expr, fn)
		for _, v := range x.Values {
			Walk(v, fn)
		}
	case *CaseExpr:
		Walk(x.Operand, fn)
		for _, w := range x.Whens {
			Walk(w.Cond, fn)
			Walk(w.Result, fn)
		}
		Walk(x.Else, fn)
	case *CastExpr:
		Walk(x.Expr, fn)
	case *CollateExpr:
		Walk(x.Expr, fn)
	case *FunctionExpr:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	}
}
