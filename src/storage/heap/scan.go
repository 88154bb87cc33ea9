package heap

import (
	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/pkg/optional"
)

// FileScan is a handle specialized for predicate-filtered sequential
// scans. It visits live records in page-chain order and, within a page,
// in slot order. The order is deterministic for a quiescent file but not
// stable under concurrent modification.
type FileScan struct {
	HeapFile

	filter *filter

	markedPageID common.PageID
	markedCursor cursor
}

// OpenScan opens a scan handle on the file. Without a StartScan call the
// scan is unfiltered. The mark starts out at the opening position, so a
// Reset without a prior Mark rewinds to the first record.
func OpenScan(name string, pool BufferPool, fm FileManager, log common.Logger) (*FileScan, error) {
	f, err := openHeapFile(name, pool, fm, log)
	if err != nil {
		return nil, err
	}

	return &FileScan{
		HeapFile:     f,
		markedPageID: f.curPageID,
		markedCursor: f.cursor,
	}, nil
}

// StartScan installs the scan predicate. A nil value means no filtering.
// Parameter violations fail with ErrBadScanParam and leave no partial
// predicate state behind.
func (s *FileScan) StartScan(offset, length int, typ FieldType, value []byte, op CompareOp) error {
	if value == nil {
		s.filter = nil
		return nil
	}

	f, err := newFilter(offset, length, typ, value, op)
	if err != nil {
		return err
	}

	s.filter = f

	return nil
}

// Next advances to the next matching record and returns its RID. At the
// end of the chain it reports ErrEndOfFile; further calls keep reporting
// it. The page holding the returned record stays pinned as the current
// page.
func (s *FileScan) Next() (common.RecordID, error) {
	if s.curPage == nil {
		return common.NilRecordID, ErrEndOfFile
	}

	for {
		var slot optional.Optional[common.SlotNum]

		switch s.cursor.state {
		case cursorBeforeFirst:
			slot = s.curPage.FirstRecord()
		case cursorOnRecord:
			assert.Assert(s.cursor.rid.PageID == s.curPageID,
				"cursor on page %d, current page is %d", s.cursor.rid.PageID, s.curPageID)
			slot = s.curPage.NextRecord(s.cursor.rid.SlotNum)
		case cursorPageDone:
			slot = optional.None[common.SlotNum]()
		}

		for slot.IsSome() {
			slotNum := slot.Unwrap()
			rid := common.RecordID{PageID: s.curPageID, SlotNum: slotNum}

			rec, err := s.curPage.GetRecord(slotNum)
			if err != nil {
				return common.NilRecordID, err
			}

			s.cursor = cursor{state: cursorOnRecord, rid: rid}

			if s.filter.matches(rec) {
				return rid, nil
			}

			slot = s.curPage.NextRecord(slotNum)
		}

		s.cursor = cursor{state: cursorPageDone}

		nextPageID := s.curPage.NextPage()
		if nextPageID == common.InvalidPageID {
			return common.NilRecordID, ErrEndOfFile
		}

		if err := s.pinPage(nextPageID); err != nil {
			return common.NilRecordID, err
		}
		s.cursor = cursor{state: cursorBeforeFirst}
	}
}

// Mark snapshots the scan position for a later Reset.
func (s *FileScan) Mark() {
	s.markedPageID = s.curPageID
	s.markedCursor = s.cursor
}

// Reset restores the scan to the last Mark. The next call to Next
// resumes immediately after the marked record.
func (s *FileScan) Reset() error {
	if s.curPage == nil || s.markedPageID != s.curPageID {
		if err := s.pinPage(s.markedPageID); err != nil {
			return err
		}
	}

	s.cursor = s.markedCursor

	return nil
}

// EndScan unpins the current page and clears the current-page state.
// Safe to call multiple times; the header stays pinned until Close.
func (s *FileScan) EndScan() error {
	if s.curPage == nil {
		return nil
	}

	err := s.pool.Unpin(s.curIdent(), s.curDirty)
	s.curPage = nil
	s.curDirty = false

	return err
}

// GetRecord re-fetches the record at the cursor. The slice aliases the
// pinned page.
func (s *FileScan) GetRecord() ([]byte, error) {
	if s.curPage == nil || s.cursor.state != cursorOnRecord {
		return nil, ErrNoCurrentRecord
	}

	return s.curPage.GetRecord(s.cursor.rid.SlotNum)
}

// MarkDirty flags the current page dirty after the caller mutated record
// bytes in place.
func (s *FileScan) MarkDirty() {
	s.curDirty = true
}

// DeleteRecord removes the record at the cursor and updates the header's
// record count. The cursor is not moved: the next call to Next continues
// traversal from this slot.
func (s *FileScan) DeleteRecord() error {
	if s.curPage == nil || s.cursor.state != cursorOnRecord {
		return ErrNoCurrentRecord
	}

	if err := s.curPage.DeleteRecord(s.cursor.rid.SlotNum); err != nil {
		return err
	}
	s.curDirty = true

	s.header().recordCount--
	s.hdrDirty = true

	return nil
}
