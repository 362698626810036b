// ABOUTME: Logical plan AST — the contract the (external) SQL front end
// ABOUTME: delivers to the planner/executor after parsing and semantic analysis (spec.md §4.7)

package plan

import "github.com/quilldb/quill/pkg/types"

// Node is implemented by every logical relational operator: TableScan,
// Filter, Project, Join, Aggregate, Sort, Limit. SubqueryExpr is an Expr
// that appears inside predicates, not a Node. The front end builds a tree
// of these; pkg/exec lowers it into a physical operator tree.
type Node interface {
	node()
}

// TableScan reads every row of a base table. A view reference is expanded
// into the view's stored query by the front end before the plan reaches
// pkg/exec (SPEC_FULL.md §4); the planner rejects a TableScan that names a
// view with its own semantic error.
type TableScan struct {
	Table string
	Alias string
}

func (*TableScan) node() {}

// Filter keeps only rows for which Predicate evaluates true.
type Filter struct {
	Input     Node
	Predicate Expr
}

func (*Filter) node() {}

// NamedExpr is one output column of a Project: an expression plus the name
// it's bound to in the result schema (the column name itself if no AS alias
// was given).
type NamedExpr struct {
	Expr  Expr
	Alias string
}

// Project computes a fixed list of output expressions over each input row.
type Project struct {
	Input Node
	Exprs []NamedExpr
}

func (*Project) node() {}

// JoinType names the join variants spec.md §6 lists. Non-goal CASCADE
// referential actions are unrelated; this is purely the DML join kind.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
)

func (j JoinType) String() string {
	switch j {
	case LeftJoin:
		return "LEFT"
	case RightJoin:
		return "RIGHT"
	case FullJoin:
		return "FULL"
	default:
		return "INNER"
	}
}

// Join combines two row streams under a join predicate.
type Join struct {
	Left, Right Node
	Type        JoinType
	On          Expr
}

func (*Join) node() {}

// AggFunc enumerates the aggregates spec.md §6 lists.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggExpr is one aggregate in a SELECT list: Arg is nil for COUNT(*).
type AggExpr struct {
	Func  AggFunc
	Arg   Expr
	Alias string
}

// Aggregate groups rows by GroupBy and computes Aggregates per group,
// keeping only groups for which Having evaluates true (nil Having means no
// HAVING clause was given).
type Aggregate struct {
	Input      Node
	GroupBy    []Expr
	Aggregates []AggExpr
	Having     Expr
}

func (*Aggregate) node() {}

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr Expr
	Desc bool
}

// Sort orders its input by Keys, in order, ties broken by the next key.
type Sort struct {
	Input Node
	Keys  []SortKey
}

func (*Sort) node() {}

// Limit yields at most N rows from its input, dropping the rest. N == 0 is
// a valid, testable edge case (spec.md §8): an empty result.
type Limit struct {
	Input Node
	N     int64
}

func (*Limit) node() {}

// SubqueryExpr embeds a nested logical plan used as a scalar value or as the
// right-hand side of IN (subquery) (spec.md §6).
type SubqueryExpr struct {
	Plan Node
}

func (*SubqueryExpr) expr() {}

// Expr is implemented by every scalar expression node a predicate, SELECT
// list item, or ORDER BY/GROUP BY key is built from.
type Expr interface {
	expr()
}

// ColumnRef names a column, optionally qualified by table/alias to
// disambiguate a join.
type ColumnRef struct {
	Table string
	Name  string
}

func (*ColumnRef) expr() {}

// Literal is a constant value folded in by the front end.
type Literal struct {
	Value types.Value
}

func (*Literal) expr() {}

// CompareOp enumerates the comparison/logical/pattern operators spec.md §6
// needs for WHERE/ON/HAVING predicates.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpLike
)

// Binary is a two-operand expression: a comparison, AND/OR, or LIKE.
type Binary struct {
	Op          CompareOp
	Left, Right Expr
}

func (*Binary) expr() {}

// Not negates a boolean expression.
type Not struct {
	Expr Expr
}

func (*Not) expr() {}

// IsNull tests a column/expression for SQL NULL.
type IsNull struct {
	Expr Expr
	Negate bool // IS NOT NULL
}

func (*IsNull) expr() {}

// InList tests membership in a literal value list (the non-subquery form of
// IN; InSubquery below is the subquery form spec.md §6 also lists).
type InList struct {
	Expr Expr
	List []Expr
}

func (*InList) expr() {}

// InSubquery tests membership in a nested SELECT's result column.
type InSubquery struct {
	Expr  Expr
	Query *SubqueryExpr
}

func (*InSubquery) expr() {}
