// ABOUTME: Join physical operators — nested-loop (any predicate) and
// ABOUTME: hash join (equi-join fast path), spec.md §4.7 rule 4

package exec

import (
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// NestedLoopJoin evaluates On against every (outer, inner) pair. It's the
// fallback physical operator for any join predicate the planner can't
// lower to an equi-join hash join (spec.md §4.7 rule 4).
//
// Outer is always the logical plan's left input and Inner its right input,
// regardless of Type, so output rows keep a stable left-then-right column
// order for all four join variants spec.md §6 lists; Type only decides
// which side's unmatched rows get NULL-padded rather than dropped. LEFT
// and FULL pad an unmatched outer row as soon as its inner scan is
// exhausted; RIGHT and FULL additionally need every inner row's match
// status, tracked in matchedInner, so the unmatched ones can be flushed
// once the outer side itself is exhausted.
type NestedLoopJoin struct {
	Outer, Inner Iterator
	Type         plan.JoinType
	On           plan.Expr
	Sub          SubqueryRunner

	innerRows    []Row
	matchedInner []bool
	outerRow     Row
	outerCols    []ColumnInfo
	innerCols    []ColumnInfo
	innerIdx     int
	outerMatched bool
	first        bool
	outerDone    bool
	flushIdx     int
}

func (j *NestedLoopJoin) Open() error {
	if err := j.Outer.Open(); err != nil {
		return err
	}
	if err := j.Inner.Open(); err != nil {
		return err
	}
	// Materialize the inner side: it's re-scanned once per outer row, and
	// these operators don't support rewinding a live iterator.
	for {
		row, ok, err := j.Inner.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		j.innerRows = append(j.innerRows, row.Clone())
	}
	if err := j.Inner.Close(); err != nil {
		return err
	}
	if len(j.innerRows) > 0 {
		j.innerCols = j.innerRows[0].Cols
	}
	if needsInnerPad(j.Type) {
		j.matchedInner = make([]bool, len(j.innerRows))
	}
	j.first = true
	return nil
}

func (j *NestedLoopJoin) advanceOuter() (bool, error) {
	row, ok, err := j.Outer.Next()
	if err != nil || !ok {
		return false, err
	}
	if j.outerCols == nil {
		j.outerCols = row.Cols
	}
	j.outerRow = row
	j.innerIdx = 0
	j.outerMatched = false
	return true, nil
}

func (j *NestedLoopJoin) Next() (Row, bool, error) {
	if j.first {
		j.first = false
		ok, err := j.advanceOuter()
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			j.outerDone = true
		}
	}

	for !j.outerDone {
		for j.innerIdx < len(j.innerRows) {
			idx := j.innerIdx
			inner := j.innerRows[idx]
			j.innerIdx++
			combined := Concat(j.outerRow, inner)
			v, err := Eval(j.On, combined, j.Sub)
			if err != nil {
				return Row{}, false, err
			}
			if truthy(v) {
				j.outerMatched = true
				if j.matchedInner != nil {
					j.matchedInner[idx] = true
				}
				return combined, true, nil
			}
		}
		if !j.outerMatched && needsOuterPad(j.Type) {
			out := Concat(j.outerRow, nullRow(j.innerCols))
			ok, err := j.advanceOuter()
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				j.outerDone = true
			}
			return out, true, nil
		}
		ok, err := j.advanceOuter()
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			j.outerDone = true
			break
		}
	}

	for j.flushIdx < len(j.innerRows) {
		idx := j.flushIdx
		j.flushIdx++
		if j.matchedInner != nil && !j.matchedInner[idx] {
			return Concat(nullRow(j.outerCols), j.innerRows[idx]), true, nil
		}
	}
	return Row{}, false, nil
}

// needsOuterPad reports whether an outer (left) row with no inner match
// should still be emitted, padded with NULLs on the inner side.
func needsOuterPad(t plan.JoinType) bool {
	return t == plan.LeftJoin || t == plan.FullJoin
}

// needsInnerPad reports whether an inner (right) row that never matched
// any outer row should be flushed, padded with NULLs on the outer side,
// once the outer stream is exhausted.
func needsInnerPad(t plan.JoinType) bool {
	return t == plan.RightJoin || t == plan.FullJoin
}

func (j *NestedLoopJoin) Close() error {
	return j.Outer.Close()
}

// HashJoin evaluates an equi-join by building a hash table over Inner keyed
// on InnerKey, then probing it once per Outer row with OuterKey (spec.md
// §4.7 rule 4: chosen over NestedLoopJoin whenever On reduces to an
// equality between the two sides).
//
// Like NestedLoopJoin, Outer/Inner track the join's logical left/right
// inputs regardless of Type, and the same needsOuterPad/needsInnerPad
// split decides which side's unmatched rows get NULL-padded. Every inner
// row is kept in innerRows (not just the ones with a non-NULL key, which
// is all the probe side needs) so a RIGHT or FULL join can still flush an
// inner row that could never match — including one with a NULL key,
// which never matches any bucket by definition.
type HashJoin struct {
	Outer, Inner       Iterator
	Type               plan.JoinType
	OuterKey, InnerKey plan.Expr
	Sub                SubqueryRunner

	innerRows    []Row
	matchedInner []bool
	buckets      map[string][]int
	innerCols    []ColumnInfo
	outerCols    []ColumnInfo

	outerRow  Row
	matchIdx  []int
	idx       int
	matched   bool
	first     bool
	outerDone bool
	flushIdx  int
}

func (j *HashJoin) Open() error {
	if err := j.Outer.Open(); err != nil {
		return err
	}
	if err := j.Inner.Open(); err != nil {
		return err
	}
	j.buckets = make(map[string][]int)
	for {
		row, ok, err := j.Inner.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		idx := len(j.innerRows)
		j.innerRows = append(j.innerRows, row.Clone())
		j.innerCols = row.Cols
		v, err := Eval(j.InnerKey, row, j.Sub)
		if err != nil {
			return err
		}
		if v.IsNull() {
			continue // SQL equality never matches NULL, including in a join key
		}
		key := string(types.EncodeValues([]types.Value{v}))
		j.buckets[key] = append(j.buckets[key], idx)
	}
	if err := j.Inner.Close(); err != nil {
		return err
	}
	if needsInnerPad(j.Type) {
		j.matchedInner = make([]bool, len(j.innerRows))
	}
	j.first = true
	return nil
}

func (j *HashJoin) advanceOuter() (bool, error) {
	row, ok, err := j.Outer.Next()
	if err != nil || !ok {
		return false, err
	}
	if j.outerCols == nil {
		j.outerCols = row.Cols
	}
	j.outerRow = row
	j.matched = false
	v, err := Eval(j.OuterKey, row, j.Sub)
	if err != nil {
		return false, err
	}
	if !v.IsNull() {
		key := string(types.EncodeValues([]types.Value{v}))
		j.matchIdx = j.buckets[key]
	} else {
		j.matchIdx = nil
	}
	j.idx = 0
	return true, nil
}

func (j *HashJoin) Next() (Row, bool, error) {
	if j.first {
		j.first = false
		ok, err := j.advanceOuter()
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			j.outerDone = true
		}
	}

	for !j.outerDone {
		if j.idx < len(j.matchIdx) {
			idx := j.matchIdx[j.idx]
			j.idx++
			j.matched = true
			if j.matchedInner != nil {
				j.matchedInner[idx] = true
			}
			return Concat(j.outerRow, j.innerRows[idx]), true, nil
		}
		if !j.matched && needsOuterPad(j.Type) {
			out := Concat(j.outerRow, nullRow(j.innerCols))
			ok, err := j.advanceOuter()
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				j.outerDone = true
			}
			return out, true, nil
		}
		ok, err := j.advanceOuter()
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			j.outerDone = true
			break
		}
	}

	for j.flushIdx < len(j.innerRows) {
		idx := j.flushIdx
		j.flushIdx++
		if j.matchedInner != nil && !j.matchedInner[idx] {
			return Concat(nullRow(j.outerCols), j.innerRows[idx]), true, nil
		}
	}
	return Row{}, false, nil
}

func (j *HashJoin) Close() error {
	return j.Outer.Close()
}
