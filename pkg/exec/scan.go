// ABOUTME: Leaf access-path operators: full heap scan and index-bounded scan
// ABOUTME: Both yield Rows tagged with the source table's column provenance

package exec

import (
	"errors"

	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/heap"
	"github.com/quilldb/quill/pkg/types"
)

func columnsOf(table string, schema *types.Schema) []ColumnInfo {
	cols := make([]ColumnInfo, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = ColumnInfo{Table: table, Name: c.Name, Kind: c.Kind}
	}
	return cols
}

// SeqScan reads every live tuple of a table in heap storage order
// (spec.md §4.6's seq_scan).
type SeqScan struct {
	Table  string
	Heap   *heap.Heap
	Schema *types.Schema

	it   *heap.Iterator
	cols []ColumnInfo
}

func (s *SeqScan) Open() error {
	it, err := s.Heap.Scan()
	if err != nil {
		return err
	}
	s.it = it
	s.cols = columnsOf(s.Table, s.Schema)
	return nil
}

func (s *SeqScan) Next() (Row, bool, error) {
	if !s.it.Valid() {
		return Row{}, false, nil
	}
	t, err := s.it.Tuple()
	if err != nil {
		return Row{}, false, err
	}
	row := Row{Cols: s.cols, Values: t.Values}
	s.it.Next()
	return row, true, nil
}

func (s *SeqScan) Close() error {
	if s.it != nil {
		s.it.Close()
	}
	return nil
}

// IndexScan reads the tuples whose indexed key falls within [Low, High]
// (bounds may be nil for an open end) by walking the B+tree range and
// fetching each matching RID from the heap. Replaces a TableScan+Filter
// whose predicate matched the leading index column (spec.md §4.7 rule 1).
type IndexScan struct {
	Table     string
	Index     catalog.IndexDef
	Tree      *btree.Manager
	Heap      *heap.Heap
	Schema    *types.Schema
	Low, High []byte
	Inclusive bool

	it   *btree.Iterator
	cols []ColumnInfo
}

func (s *IndexScan) Open() error {
	it, err := s.Tree.Range(s.Low, s.High, s.Inclusive)
	if err != nil {
		return err
	}
	s.it = it
	s.cols = columnsOf(s.Table, s.Schema)
	return nil
}

func (s *IndexScan) Next() (Row, bool, error) {
	for s.it.Valid() {
		rid := s.it.RID()
		s.it.Next()
		t, err := s.Heap.Get(rid)
		if err != nil {
			if errors.Is(err, dberr.NotFound) {
				// A stale index entry whose heap row was already removed by a
				// later statement in a scan that started before it; skip it
				// rather than fail the whole scan.
				continue
			}
			return Row{}, false, err
		}
		return Row{Cols: s.cols, Values: t.Values}, true, nil
	}
	return Row{}, false, nil
}

func (s *IndexScan) Close() error {
	if s.it != nil {
		s.it.Close()
	}
	return nil
}
