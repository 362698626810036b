// ABOUTME: Scalar expression evaluator: resolves a plan.Expr predicate/projection against one Row
// ABOUTME: Dispatches on types.Value.Kind, the "dynamic tuple typing" design note in spec.md §9

package exec

import (
	"bytes"
	"fmt"

	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// SubqueryRunner lets the evaluator execute a plan.SubqueryExpr without
// exec depending on the planner that builds it (the planner depends on
// exec, not the reverse). The engine's planner implements this by building
// and draining the nested plan.
type SubqueryRunner interface {
	RunScalar(q *plan.SubqueryExpr) (types.Value, error)
	RunList(q *plan.SubqueryExpr) ([]types.Value, error)
}

// Eval resolves expr against row, using sub (may be nil if the predicate has
// no subquery) for SubqueryExpr/InSubquery nodes.
func Eval(expr plan.Expr, row Row, sub SubqueryRunner) (types.Value, error) {
	switch e := expr.(type) {
	case *plan.Literal:
		return e.Value, nil
	case *plan.ColumnRef:
		v, ok := row.Get(e.Table, e.Name)
		if !ok {
			return types.Value{}, dberr.New(dberr.KindNotFound, fmt.Sprintf("column %s not found in row", qualify(e)))
		}
		return v, nil
	case *plan.Not:
		v, err := Eval(e.Expr, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(!truthy(v)), nil
	case *plan.IsNull:
		v, err := Eval(e.Expr, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		result := v.IsNull()
		if e.Negate {
			result = !result
		}
		return types.BoolValue(result), nil
	case *plan.InList:
		v, err := Eval(e.Expr, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		for _, item := range e.List {
			iv, err := Eval(item, row, sub)
			if err != nil {
				return types.Value{}, err
			}
			if compareValues(v, iv) == 0 {
				return types.BoolValue(true), nil
			}
		}
		return types.BoolValue(false), nil
	case *plan.InSubquery:
		v, err := Eval(e.Expr, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		if sub == nil {
			return types.Value{}, dberr.New(dberr.KindSemantic, "IN (subquery) with no subquery runner available")
		}
		list, err := sub.RunList(e.Query)
		if err != nil {
			return types.Value{}, err
		}
		for _, iv := range list {
			if compareValues(v, iv) == 0 {
				return types.BoolValue(true), nil
			}
		}
		return types.BoolValue(false), nil
	case *plan.SubqueryExpr:
		if sub == nil {
			return types.Value{}, dberr.New(dberr.KindSemantic, "scalar subquery with no subquery runner available")
		}
		return sub.RunScalar(e)
	case *plan.Binary:
		return evalBinary(e, row, sub)
	default:
		return types.Value{}, dberr.New(dberr.KindSemantic, fmt.Sprintf("exec: unsupported expression %T", expr))
	}
}

func qualify(c *plan.ColumnRef) string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

func evalBinary(b *plan.Binary, row Row, sub SubqueryRunner) (types.Value, error) {
	if b.Op == plan.OpAnd || b.Op == plan.OpOr {
		l, err := Eval(b.Left, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		if b.Op == plan.OpAnd && !truthy(l) {
			return types.BoolValue(false), nil
		}
		if b.Op == plan.OpOr && truthy(l) {
			return types.BoolValue(true), nil
		}
		r, err := Eval(b.Right, row, sub)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(truthy(r)), nil
	}

	l, err := Eval(b.Left, row, sub)
	if err != nil {
		return types.Value{}, err
	}
	r, err := Eval(b.Right, row, sub)
	if err != nil {
		return types.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return types.NullValue(), nil
	}

	if b.Op == plan.OpLike {
		return types.BoolValue(matchLike(l.String(), r.String())), nil
	}

	cmp := compareValues(l, r)
	switch b.Op {
	case plan.OpEq:
		return types.BoolValue(cmp == 0), nil
	case plan.OpNeq:
		return types.BoolValue(cmp != 0), nil
	case plan.OpLt:
		return types.BoolValue(cmp < 0), nil
	case plan.OpLte:
		return types.BoolValue(cmp <= 0), nil
	case plan.OpGt:
		return types.BoolValue(cmp > 0), nil
	case plan.OpGte:
		return types.BoolValue(cmp >= 0), nil
	default:
		return types.Value{}, dberr.New(dberr.KindSemantic, "exec: unsupported comparison operator")
	}
}

// truthy treats SQL NULL and false as not-true, matching three-valued logic
// collapsed to a boolean filter decision (a NULL predicate drops the row,
// same as false).
func truthy(v types.Value) bool {
	return v.Kind == types.KindBool && v.Bool
}

// compareValues orders two non-null values of the same dynamic kind. Mixed
// numeric kinds (INT vs BIGINT vs DECIMAL) compare on their scaled integer
// representation; callers are expected to have type-checked upstream
// (dberr.KindType), so this never needs to fail.
func compareValues(a, b types.Value) int {
	switch a.Kind {
	case types.KindVarchar, types.KindText:
		return bytes.Compare(a.Str, b.Str)
	case types.KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	default: // INT, BIGINT, DATE, DECIMAL all carry their comparable value in I64
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	}
}

// matchLike implements SQL LIKE with % (any run of characters) and _ (any
// single character), per spec.md §6.
func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

func likeMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatch(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatch(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatch(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatch(s[1:], p[1:])
	}
}
