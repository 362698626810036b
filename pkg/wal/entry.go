// ABOUTME: Entry is one physical WAL record and its CRC32-checked wire format
// ABOUTME: Encode/DecodeEntry are the only places that format is defined
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType tags what kind of change a WAL entry records.
type OpType byte

const (
	OpBegin      OpType = 1
	OpInsert     OpType = 2
	OpUpdate     OpType = 3
	OpDelete     OpType = 4
	OpCommit     OpType = 5
	OpAbort      OpType = 6
	OpCheckpoint OpType = 7
)

const (
	// EntryHeaderSize: LSN(8) + TxnID(8) + OpType(1) + FileID(1) + PageID(4)
	// + Slot(2) + BeforeLen(4) + AfterLen(4) + Timestamp(8) = 40.
	EntryHeaderSize = 40
)

// Entry is one physiological WAL record: a page/slot location plus the
// before- and after-images of whatever changed there (spec.md §4.8).
// BEGIN/COMMIT/ABORT/CHECKPOINT carry no page images; Before is empty for
// an INSERT and After is empty for a DELETE. FileID disambiguates which of
// the database's several backing files (spec.md §6: one heap file per
// table, one index file per B+tree) PageID is scoped to — one WAL is shared
// across all of them, so the log alone can't tell a heap page 3 from an
// index page 3 without it.
type Entry struct {
	LSN       uint64
	TxnID     uint64
	OpType    OpType
	FileID    uint8
	PageID    uint32
	Slot      uint16
	Before    []byte
	After     []byte
	Timestamp time.Time
}

// Encode serializes the entry to bytes with a trailing CRC32 checksum.
// Format: [Header(40)] [Before] [After] [CRC32(4)]
func (e *Entry) Encode() []byte {
	beforeLen := len(e.Before)
	afterLen := len(e.After)
	totalSize := EntryHeaderSize + beforeLen + afterLen + 4

	buf := make([]byte, totalSize)
	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	buf[17] = e.FileID
	binary.LittleEndian.PutUint32(buf[18:22], e.PageID)
	binary.LittleEndian.PutUint16(buf[22:24], e.Slot)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(beforeLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(afterLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.Unix()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Before)
	offset += beforeLen
	copy(buf[offset:], e.After)
	offset += afterLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)
	return buf
}

// DecodeEntry is the inverse of Encode, verifying the CRC32 trailer.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	dataLen := len(data)
	storedCRC := binary.LittleEndian.Uint32(data[dataLen-4:])
	computedCRC := crc32.ChecksumIEEE(data[:dataLen-4])
	if storedCRC != computedCRC {
		return nil, ErrCorrupted
	}

	e := &Entry{
		LSN:    binary.LittleEndian.Uint64(data[0:8]),
		TxnID:  binary.LittleEndian.Uint64(data[8:16]),
		OpType: OpType(data[16]),
		FileID: data[17],
		PageID: binary.LittleEndian.Uint32(data[18:22]),
		Slot:   binary.LittleEndian.Uint16(data[22:24]),
	}

	beforeLen := binary.LittleEndian.Uint32(data[24:28])
	afterLen := binary.LittleEndian.Uint32(data[28:32])
	ts := binary.LittleEndian.Uint64(data[32:40])
	e.Timestamp = time.Unix(int64(ts), 0)

	expected := EntryHeaderSize + int(beforeLen) + int(afterLen) + 4
	if len(data) < expected {
		return nil, ErrTruncated
	}

	offset := EntryHeaderSize
	if beforeLen > 0 {
		e.Before = make([]byte, beforeLen)
		copy(e.Before, data[offset:offset+int(beforeLen)])
		offset += int(beforeLen)
	}
	if afterLen > 0 {
		e.After = make([]byte, afterLen)
		copy(e.After, data[offset:offset+int(afterLen)])
	}
	return e, nil
}

// Size returns the encoded size of the entry.
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Before) + len(e.After) + 4
}

func (e *Entry) String() string {
	opName := "UNKNOWN"
	switch e.OpType {
	case OpBegin:
		opName = "BEGIN"
	case OpInsert:
		opName = "INSERT"
	case OpUpdate:
		opName = "UPDATE"
	case OpDelete:
		opName = "DELETE"
	case OpCommit:
		opName = "COMMIT"
	case OpAbort:
		opName = "ABORT"
	case OpCheckpoint:
		opName = "CHECKPOINT"
	}
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Op=%s File=%d Page=%d Slot=%d BeforeLen=%d AfterLen=%d]",
		e.LSN, e.TxnID, opName, e.FileID, e.PageID, e.Slot, len(e.Before), len(e.After))
}
