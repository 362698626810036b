// ABOUTME: Blocking sort and row-count limiting operators

package exec

import (
	"sort"

	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// Sort materializes its input and orders it by Keys, ties broken by each
// following key in turn (spec.md §6). compareNullable ranks NULL below every
// non-NULL value, so NULLs sort first for an ascending key and last for a
// descending one.
type Sort struct {
	Input Iterator
	Keys  []plan.SortKey
	Sub   SubqueryRunner

	rows []Row
	pos  int
	err  error
}

func (s *Sort) Open() error {
	if err := s.Input.Open(); err != nil {
		return err
	}
	for {
		row, ok, err := s.Input.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		s.rows = append(s.rows, row.Clone())
	}
	if err := s.Input.Close(); err != nil {
		return err
	}

	sort.SliceStable(s.rows, func(i, j int) bool {
		less, ok := s.less(s.rows[i], s.rows[j])
		if s.err != nil {
			return false
		}
		return ok && less
	})
	return s.err
}

// less reports whether a sorts strictly before b, and whether the keys
// were decisive (false for ok means every key compared equal).
func (s *Sort) less(a, b Row) (less bool, ok bool) {
	for _, k := range s.Keys {
		av, err := Eval(k.Expr, a, s.Sub)
		if err != nil {
			s.err = err
			return false, false
		}
		bv, err := Eval(k.Expr, b, s.Sub)
		if err != nil {
			s.err = err
			return false, false
		}
		cmp := compareNullable(av, bv)
		if cmp == 0 {
			continue
		}
		if k.Desc {
			return cmp > 0, true
		}
		return cmp < 0, true
	}
	return false, false
}

func compareNullable(a, b types.Value) int {
	an, bn := a.IsNull(), b.IsNull()
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	default:
		return compareValues(a, b)
	}
}

func (s *Sort) Next() (Row, bool, error) {
	if s.pos >= len(s.rows) {
		return Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *Sort) Close() error { return nil }

// Limit yields at most N rows from Input, then stops pulling (spec.md §8:
// N == 0 is valid and yields an empty result).
type Limit struct {
	Input Iterator
	N     int64

	yielded int64
}

func (l *Limit) Open() error { return l.Input.Open() }

func (l *Limit) Next() (Row, bool, error) {
	if l.yielded >= l.N {
		return Row{}, false, nil
	}
	row, ok, err := l.Input.Next()
	if err != nil || !ok {
		return Row{}, false, err
	}
	l.yielded++
	return row, true, nil
}

func (l *Limit) Close() error { return l.Input.Close() }
