package heap

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/disk"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
)

var (
	ErrEndOfFile       = errors.New("end of file")
	ErrBadScanParam    = errors.New("bad scan parameter")
	ErrRecordTooLarge  = errors.New("record exceeds page capacity")
	ErrNoCurrentRecord = errors.New("no current record")
)

// BufferPool is the pool instantiation every heap file runs against.
type BufferPool = bufferpool.BufferPool[*page.HeapPage]

// FileManager is the slice of the storage/file layer the heap core
// consumes.
type FileManager interface {
	CreateFile(name string) error
	DestroyFile(name string) error
	OpenFile(name string) (common.FileID, error)
	CloseFile(fileID common.FileID) error
	FirstPageID(fileID common.FileID) (common.PageID, error)
}

var _ FileManager = &disk.Manager[*page.HeapPage]{}

const maxFileNameLen = 56

// fileHeader overlays the payload of the header page. The header page is
// never used as a slotted page; its raw bytes belong to this struct.
type fileHeader struct {
	fileName    [maxFileNameLen]byte
	pageCount   uint64
	recordCount uint64
	firstPage   common.PageID
	lastPage    common.PageID
}

func headerOf(p *page.HeapPage) *fileHeader {
	return (*fileHeader)(unsafe.Pointer(&p.GetData()[0]))
}

func (h *fileHeader) setFileName(name string) {
	clear(h.fileName[:])
	copy(h.fileName[:], name)
}

func (h *fileHeader) FileName() string {
	if i := bytes.IndexByte(h.fileName[:], 0); i >= 0 {
		return string(h.fileName[:i])
	}

	return string(h.fileName[:])
}

// cursor is the scan position. The tagged state separates "freshly
// positioned on a page" from "exhausted all records on this page", which
// a bare nil RID cannot express.
type cursorState uint8

const (
	cursorBeforeFirst cursorState = iota
	cursorOnRecord
	cursorPageDone
)

type cursor struct {
	state cursorState
	rid   common.RecordID
}

// HeapFile is an open handle on a heap file. It keeps the header page
// pinned for its whole lifetime and at most one data page pinned at a
// time. Handles are not safe for concurrent use; open one handle per
// goroutine.
type HeapFile struct {
	pool BufferPool
	fm   FileManager
	log  common.Logger

	name   string
	fileID common.FileID

	headerPageID common.PageID
	headerPage   *page.HeapPage
	hdrDirty     bool

	curPage   *page.HeapPage
	curPageID common.PageID
	curDirty  bool

	cursor cursor
}

// CreateFile bootstraps a new heap file: a header page plus a single
// empty data page. Failures propagate as-is and may leave a partially
// constructed file behind; only the pins are cleaned up.
func CreateFile(name string, pool BufferPool, fm FileManager, log common.Logger) error {
	if err := fm.CreateFile(name); err != nil {
		return fmt.Errorf("unable to create file %s: %w", name, err)
	}

	fileID, err := fm.OpenFile(name)
	if err != nil {
		return fmt.Errorf("unable to open file %s: %w", name, err)
	}
	defer func() {
		if err := fm.CloseFile(fileID); err != nil {
			log.Errorw("failed to close file after create", "file", name, "error", err)
		}
	}()

	hdrPageID, hdrPage, err := pool.AllocPage(fileID)
	if err != nil {
		return fmt.Errorf("unable to allocate header page: %w", err)
	}
	hdrIdent := common.PageIdentity{FileID: fileID, PageID: hdrPageID}

	dataPageID, dataPage, err := pool.AllocPage(fileID)
	if err != nil {
		if unpinErr := pool.Unpin(hdrIdent, true); unpinErr != nil {
			log.Errorw("failed to unpin header page", "file", name, "error", unpinErr)
		}
		return fmt.Errorf("unable to allocate first data page: %w", err)
	}
	dataIdent := common.PageIdentity{FileID: fileID, PageID: dataPageID}

	dataPage.Init(dataPageID)

	hdr := headerOf(hdrPage)
	hdr.setFileName(name)
	hdr.pageCount = 1
	hdr.recordCount = 0
	hdr.firstPage = dataPageID
	hdr.lastPage = dataPageID

	if err := pool.Unpin(hdrIdent, true); err != nil {
		if unpinErr := pool.Unpin(dataIdent, true); unpinErr != nil {
			log.Errorw("failed to unpin data page", "file", name, "error", unpinErr)
		}
		return fmt.Errorf("unable to unpin header page: %w", err)
	}
	if err := pool.Unpin(dataIdent, true); err != nil {
		return fmt.Errorf("unable to unpin data page: %w", err)
	}

	return nil
}

// DestroyFile delegates to the storage layer's file removal.
func DestroyFile(name string, fm FileManager) error {
	return fm.DestroyFile(name)
}

// Open opens an existing heap file: pins the header page, pins the first
// data page as the current page and positions the cursor before the
// first record. On failure no pins are retained and the handle is not
// usable.
func Open(name string, pool BufferPool, fm FileManager, log common.Logger) (*HeapFile, error) {
	f, err := openHeapFile(name, pool, fm, log)
	if err != nil {
		return nil, err
	}

	return &f, nil
}

func openHeapFile(name string, pool BufferPool, fm FileManager, log common.Logger) (HeapFile, error) {
	fileID, err := fm.OpenFile(name)
	if err != nil {
		return HeapFile{}, fmt.Errorf("unable to open file %s: %w", name, err)
	}

	closeFile := func() {
		if err := fm.CloseFile(fileID); err != nil {
			log.Errorw("failed to close file", "file", name, "error", err)
		}
	}

	hdrPageID, err := fm.FirstPageID(fileID)
	if err != nil {
		closeFile()
		return HeapFile{}, fmt.Errorf("unable to locate header page of %s: %w", name, err)
	}

	hdrIdent := common.PageIdentity{FileID: fileID, PageID: hdrPageID}
	hdrPage, err := pool.GetPage(hdrIdent)
	if err != nil {
		closeFile()
		return HeapFile{}, fmt.Errorf("unable to pin header page of %s: %w", name, err)
	}

	firstPageID := headerOf(hdrPage).firstPage

	curPage, err := pool.GetPage(common.PageIdentity{FileID: fileID, PageID: firstPageID})
	if err != nil {
		if unpinErr := pool.Unpin(hdrIdent, false); unpinErr != nil {
			log.Errorw("failed to unpin header page", "file", name, "error", unpinErr)
		}
		closeFile()
		return HeapFile{}, fmt.Errorf("unable to pin first data page of %s: %w", name, err)
	}

	return HeapFile{
		pool:         pool,
		fm:           fm,
		log:          log,
		name:         name,
		fileID:       fileID,
		headerPageID: hdrPageID,
		headerPage:   hdrPage,
		curPage:      curPage,
		curPageID:    firstPageID,
		cursor:       cursor{state: cursorBeforeFirst},
	}, nil
}

// Close releases the pinned pages and the file handle. Teardown is
// best-effort: every release is attempted even if an earlier one failed,
// failures are logged and the first one is returned.
func (f *HeapFile) Close() error {
	var firstErr error

	if f.curPage != nil {
		err := f.pool.Unpin(f.curIdent(), f.curDirty)
		f.curPage = nil
		f.curDirty = false
		if err != nil {
			f.log.Errorw("failed to unpin data page", "file", f.name, "error", err)
			firstErr = err
		}
	}

	if f.headerPage != nil {
		err := f.pool.Unpin(
			common.PageIdentity{FileID: f.fileID, PageID: f.headerPageID},
			f.hdrDirty,
		)
		f.headerPage = nil
		f.hdrDirty = false
		if err != nil {
			f.log.Errorw("failed to unpin header page", "file", f.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}

		if err := f.fm.CloseFile(f.fileID); err != nil {
			f.log.Errorw("failed to close file", "file", f.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (f *HeapFile) Name() string {
	return f.name
}

// RecordCount returns the number of live records in the file. No I/O.
func (f *HeapFile) RecordCount() uint64 {
	return headerOf(f.headerPage).recordCount
}

// PageCount returns the number of data pages in the file. No I/O.
func (f *HeapFile) PageCount() uint64 {
	return headerOf(f.headerPage).pageCount
}

// CurrentRecord returns the cursor position, common.NilRecordID when no
// record is current.
func (f *HeapFile) CurrentRecord() common.RecordID {
	if f.cursor.state != cursorOnRecord {
		return common.NilRecordID
	}

	return f.cursor.rid
}

// GetRecord fetches the record addressed by rid, switching the current
// page if needed, and moves the cursor onto it. The returned slice
// aliases the pinned page: it stays valid until the handle pins a
// different page.
func (f *HeapFile) GetRecord(rid common.RecordID) ([]byte, error) {
	if err := f.pinPage(rid.PageID); err != nil {
		return nil, err
	}

	rec, err := f.curPage.GetRecord(rid.SlotNum)
	if err != nil {
		return nil, err
	}

	f.cursor = cursor{state: cursorOnRecord, rid: rid}

	return rec, nil
}

// pinPage makes pageID the current page, unpinning the previous one
// first. At most one data page is pinned at any instant.
func (f *HeapFile) pinPage(pageID common.PageID) error {
	if f.curPage != nil && f.curPageID == pageID {
		return nil
	}

	if f.curPage != nil {
		if err := f.pool.Unpin(f.curIdent(), f.curDirty); err != nil {
			return fmt.Errorf("unable to unpin page %d: %w", f.curPageID, err)
		}
		f.curPage = nil
		f.curDirty = false
	}

	pg, err := f.pool.GetPage(common.PageIdentity{FileID: f.fileID, PageID: pageID})
	if err != nil {
		return fmt.Errorf("unable to pin page %d: %w", pageID, err)
	}

	f.curPage = pg
	f.curPageID = pageID
	f.curDirty = false

	return nil
}

func (f *HeapFile) curIdent() common.PageIdentity {
	assert.Assert(f.curPage != nil, "no current page")
	return common.PageIdentity{FileID: f.fileID, PageID: f.curPageID}
}

func (f *HeapFile) header() *fileHeader {
	return headerOf(f.headerPage)
}
