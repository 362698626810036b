// ABOUTME: Backing-file lifecycle: one disk.Manager+buffer.Pool pair per
// ABOUTME: table heap and per B+tree index, per spec.md §6

package engine

import (
	"path/filepath"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/disk"
	"github.com/quilldb/quill/pkg/txn"
	"github.com/quilldb/quill/pkg/wal"
)

// openFile is one opened backing file: its disk manager, the buffer pool
// fronting it, and the FileID the transaction manager assigned it (used to
// disambiguate its PageIDs in the shared WAL).
type openFile struct {
	disk   *disk.Manager
	pool   *buffer.Pool
	fileID uint8
}

// openBackingFile opens (or creates) path, wraps it in a buffer pool of the
// configured capacity, and registers the pool with txns so its mutations
// are captured by whichever transaction is active.
func openBackingFile(path string, capacity int, log *logger.Logger, met *metrics.Metrics, txns *txn.Manager) (openFile, error) {
	d, err := disk.Open(path)
	if err != nil {
		return openFile{}, err
	}
	d.WithObservability(log, met)
	pool := buffer.NewPool(d, buffer.Config{Capacity: capacity}, log, met)
	fileID := txns.RegisterPool(pool)
	return openFile{disk: d, pool: pool, fileID: fileID}, nil
}

func (f openFile) recoveryStore() *wal.BufferPoolStore {
	return &wal.BufferPoolStore{Pool: f.pool}
}

func (f openFile) close() error {
	return f.disk.Close()
}

func heapFilePath(dataDir, table string) string {
	return filepath.Join(dataDir, "tables", table+".heap")
}

func indexFilePath(dataDir, table, index string) string {
	return filepath.Join(dataDir, "indexes", table+"."+index+".idx")
}
