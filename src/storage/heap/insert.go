package heap

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
)

// InsertScan is a handle specialized for appending records. It performs
// no cursor-based traversal and installs no predicate.
type InsertScan struct {
	HeapFile
}

func OpenInsertScan(name string, pool BufferPool, fm FileManager, log common.Logger) (*InsertScan, error) {
	f, err := openHeapFile(name, pool, fm, log)
	if err != nil {
		return nil, err
	}

	return &InsertScan{HeapFile: f}, nil
}

// InsertRecord appends rec to the file and returns its RID. When the
// last page is full, a new page is allocated, linked into the chain and
// the insert is retried there; at most one allocation happens per call,
// since a fresh page fits any record that passed the size check.
func (s *InsertScan) InsertRecord(rec []byte) (common.RecordID, error) {
	if len(rec) > page.MaxRecordSize {
		return common.NilRecordID, fmt.Errorf("%w: %d bytes, max %d",
			ErrRecordTooLarge, len(rec), page.MaxRecordSize)
	}

	// inserts always target the last page of the chain; anything else
	// would corrupt the next-page links on overflow
	lastPageID := s.header().lastPage
	assert.Assert(lastPageID != common.InvalidPageID, "heap file %s has no last page", s.name)
	if s.curPage == nil || s.curPageID != lastPageID {
		if err := s.pinPage(lastPageID); err != nil {
			return common.NilRecordID, err
		}
	}

	for {
		slot, err := s.curPage.InsertRecord(rec)
		if err == nil {
			rid := common.RecordID{PageID: s.curPageID, SlotNum: slot}
			s.cursor = cursor{state: cursorOnRecord, rid: rid}
			s.curDirty = true

			hdr := s.header()
			hdr.recordCount++
			s.hdrDirty = true

			return rid, nil
		}

		if !errors.Is(err, page.ErrNoSpace) {
			return common.NilRecordID, err
		}

		newPageID, newPage, err := s.pool.AllocPage(s.fileID)
		if err != nil {
			return common.NilRecordID, fmt.Errorf("unable to grow heap file %s: %w", s.name, err)
		}

		newPage.Init(newPageID)
		s.curPage.SetNextPage(newPageID)
		s.curDirty = true

		if err := s.pool.Unpin(s.curIdent(), s.curDirty); err != nil {
			newIdent := common.PageIdentity{FileID: s.fileID, PageID: newPageID}
			if unpinErr := s.pool.Unpin(newIdent, true); unpinErr != nil {
				s.log.Errorw("failed to unpin freshly allocated page",
					"file", s.name, "page", newPageID, "error", unpinErr)
			}
			s.curPage = nil
			s.curDirty = false
			return common.NilRecordID, fmt.Errorf("unable to unpin page %d: %w", s.curPageID, err)
		}

		hdr := s.header()
		hdr.lastPage = newPageID
		hdr.pageCount++
		s.hdrDirty = true

		s.curPage = newPage
		s.curPageID = newPageID
		s.curDirty = true
	}
}

// Close unpins the current page as dirty unconditionally: an insert scan
// is assumed to have mutated the last page it touched.
func (s *InsertScan) Close() error {
	if s.curPage != nil {
		s.curDirty = true
	}

	return s.HeapFile.Close()
}
