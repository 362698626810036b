// ABOUTME: HashAggregate groups rows by a key tuple and folds each group
// ABOUTME: through the running accumulators spec.md §6 lists (COUNT/SUM/AVG/MIN/MAX)

package exec

import (
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

type aggState struct {
	count int64
	sum   int64
	min   types.Value
	max   types.Value
	seen  bool
}

func (s *aggState) add(v types.Value) {
	if v.IsNull() {
		return
	}
	s.count++
	s.sum += v.I64
	if !s.seen || compareValues(v, s.min) < 0 {
		s.min = v
	}
	if !s.seen || compareValues(v, s.max) > 0 {
		s.max = v
	}
	s.seen = true
}

func (s *aggState) result(fn plan.AggFunc, rowCount int64) types.Value {
	switch fn {
	case plan.AggCountStar:
		return types.IntValue(rowCount)
	case plan.AggCount:
		return types.IntValue(s.count)
	case plan.AggSum:
		if s.count == 0 {
			return types.NullValue()
		}
		return types.IntValue(s.sum)
	case plan.AggAvg:
		if s.count == 0 {
			return types.NullValue()
		}
		return types.IntValue(s.sum / s.count)
	case plan.AggMin:
		if !s.seen {
			return types.NullValue()
		}
		return s.min
	case plan.AggMax:
		if !s.seen {
			return types.NullValue()
		}
		return s.max
	default:
		return types.NullValue()
	}
}

type group struct {
	keyRow Row
	states []aggState
	rows   int64
}

// HashAggregate groups Input by GroupBy, computing Aggregates over each
// group (an empty GroupBy collapses the whole input into one group, the
// usual "SELECT COUNT(*) FROM t" shape). Groups failing Having are dropped;
// a nil Having keeps every group. Per spec.md §8, a GROUP BY over zero rows
// with no aggregates yields zero groups; with only aggregates and no
// GROUP BY it yields exactly one group (COUNT(*) = 0, SUM = NULL, etc.).
type HashAggregate struct {
	Input      Iterator
	GroupBy    []plan.Expr
	Aggregates []plan.AggExpr
	Having     plan.Expr
	Sub        SubqueryRunner

	cols    []ColumnInfo
	order   []string
	groups  map[string]*group
	results []Row
	pos     int
}

func (a *HashAggregate) Open() error {
	if err := a.Input.Open(); err != nil {
		return err
	}
	a.cols = make([]ColumnInfo, 0, len(a.GroupBy)+len(a.Aggregates))
	for i, g := range a.GroupBy {
		name := "group_" + itoa(i)
		if ref, ok := g.(*plan.ColumnRef); ok {
			name = ref.Name
		}
		a.cols = append(a.cols, ColumnInfo{Name: name})
	}
	for _, ag := range a.Aggregates {
		a.cols = append(a.cols, ColumnInfo{Name: ag.Alias})
	}

	a.groups = make(map[string]*group)
	sawInput := false
	for {
		row, ok, err := a.Input.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sawInput = true
		keyVals := make([]types.Value, len(a.GroupBy))
		for i, g := range a.GroupBy {
			v, err := Eval(g, row, a.Sub)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		key := string(types.EncodeValues(keyVals))
		grp, exists := a.groups[key]
		if !exists {
			grp = &group{keyRow: Row{Cols: a.cols[:len(a.GroupBy)], Values: keyVals}, states: make([]aggState, len(a.Aggregates))}
			a.groups[key] = grp
			a.order = append(a.order, key)
		}
		grp.rows++
		for i, ag := range a.Aggregates {
			if ag.Func == plan.AggCountStar {
				continue
			}
			v, err := Eval(ag.Arg, row, a.Sub)
			if err != nil {
				return err
			}
			grp.states[i].add(v)
		}
	}
	if err := a.Input.Close(); err != nil {
		return err
	}

	if len(a.GroupBy) == 0 && !sawInput {
		// No GROUP BY and zero input rows still yields one group of
		// all-NULL/zero aggregates (spec.md §8).
		a.groups[""] = &group{states: make([]aggState, len(a.Aggregates))}
		a.order = append(a.order, "")
	}

	for _, key := range a.order {
		grp := a.groups[key]
		aggVals := make([]types.Value, len(a.Aggregates))
		for i, ag := range a.Aggregates {
			aggVals[i] = grp.states[i].result(ag.Func, grp.rows)
		}
		values := append(append([]types.Value{}, grp.keyRow.Values...), aggVals...)
		row := Row{Cols: a.cols, Values: values}
		if a.Having != nil {
			v, err := Eval(a.Having, row, a.Sub)
			if err != nil {
				return err
			}
			if !truthy(v) {
				continue
			}
		}
		a.results = append(a.results, row)
	}
	return nil
}

func (a *HashAggregate) Next() (Row, bool, error) {
	if a.pos >= len(a.results) {
		return Row{}, false, nil
	}
	row := a.results[a.pos]
	a.pos++
	return row, true, nil
}

func (a *HashAggregate) Close() error { return nil }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
