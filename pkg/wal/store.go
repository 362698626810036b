// ABOUTME: Adapts *buffer.Pool to the narrow PageStore interface recovery.go needs
package wal

import (
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/page"
)

// BufferPoolStore adapts *buffer.Pool to the PageStore interface recovery
// needs, without making the wal package depend on buffer's full API.
type BufferPoolStore struct {
	Pool *buffer.Pool
}

func (s *BufferPoolStore) Fetch(id page.PageID) (PageHandle, error) {
	h, err := s.Pool.Fetch(id)
	if err != nil {
		return nil, err
	}
	return bufferHandle{h}, nil
}

func (s *BufferPoolStore) Unpin(h PageHandle, dirty bool) {
	s.Pool.Unpin(h.(bufferHandle).h, dirty)
}

type bufferHandle struct{ h *buffer.Handle }

func (b bufferHandle) Bytes() page.Page { return b.h.Data }
