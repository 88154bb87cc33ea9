package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
)

const noFrame = ^uint64(0)

var (
	ErrNoSuchPage  = errors.New("no such page")
	ErrNoFreeFrame = errors.New("no free frame available")
)

type Page interface {
	GetData() []byte
	SetData(d []byte)
}

var (
	_ Page = &page.HeapPage{}
)

// Replacer manages which unpinned frame is evicted next.
type Replacer interface {
	Pin(frameID uint64)
	Unpin(frameID uint64)
	ChooseVictim() (uint64, error)
	GetSize() uint64
}

type DiskManager[T Page] interface {
	ReadPage(pageIdent common.PageIdentity) (T, error)
	WritePage(page T, pageIdent common.PageIdentity) error
	AllocatePage(fileID common.FileID) (common.PageID, error)
}

type frame[T Page] struct {
	page      T
	pinCount  int
	dirty     bool
	pageIdent common.PageIdentity
}

type BufferPool[T Page] interface {
	// GetPage pins the page and returns it. Every successful call must be
	// matched by exactly one Unpin.
	GetPage(pageIdent common.PageIdentity) (T, error)
	// AllocPage grows the file by one zeroed page and returns it pinned.
	AllocPage(fileID common.FileID) (common.PageID, T, error)
	// Unpin releases one pin. dirty is additive: once a frame is marked
	// dirty it stays dirty until written back.
	Unpin(pageIdent common.PageIdentity, dirty bool) error
	FlushPage(pageIdent common.PageIdentity) error
	FlushAllPages() error
}

type Manager[T Page] struct {
	poolSize    uint64
	pageToFrame map[common.PageIdentity]uint64
	frames      []frame[T]
	emptyFrames []uint64

	replacer Replacer

	diskManager DiskManager[T]

	fastPath sync.Mutex
	slowPath sync.Mutex
}

var (
	_ BufferPool[Page] = &Manager[Page]{}
)

func New[T Page](
	poolSize uint64,
	replacer Replacer,
	diskManager DiskManager[T],
) (*Manager[T], error) {
	if poolSize == 0 {
		return nil, errors.New("pool size must be greater than zero")
	}

	emptyFrames := make([]uint64, poolSize)
	for i := range poolSize {
		emptyFrames[i] = i
	}

	return &Manager[T]{
		poolSize:    poolSize,
		pageToFrame: make(map[common.PageIdentity]uint64),
		frames:      make([]frame[T], poolSize),
		emptyFrames: emptyFrames,
		replacer:    replacer,
		diskManager: diskManager,
	}, nil
}

func (m *Manager[T]) Unpin(pageIdent common.PageIdentity, dirty bool) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pageIdent]
	if !ok {
		return ErrNoSuchPage
	}

	frame := &m.frames[frameID]
	assert.Assert(frame.pinCount > 0, "unpin of page %+v with zero pin count", pageIdent)

	if dirty {
		frame.dirty = true
	}

	frame.pinCount--
	if frame.pinCount == 0 {
		m.replacer.Unpin(frameID)
	}

	return nil
}

func (m *Manager[T]) pin(pageIdent common.PageIdentity) {
	frameID, ok := m.pageToFrame[pageIdent]
	assert.Assert(ok, "no frame for page: %+v", pageIdent)

	m.frames[frameID].pinCount++
	m.replacer.Pin(frameID)
}

// GetPage returns the page pinned. A cached page is pinned in place;
// otherwise a free frame is claimed or a victim is evicted (written back
// first when dirty) and the page is read from disk.
func (m *Manager[T]) GetPage(pageIdent common.PageIdentity) (T, error) {
	var zero T

	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pageIdent]; ok {
		m.pin(pageIdent)
		m.fastPath.Unlock()

		return m.frames[frameID].page, nil
	}
	m.fastPath.Unlock()

	m.slowPath.Lock()
	defer m.slowPath.Unlock()

	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pageIdent]; ok {
		m.pin(pageIdent)
		m.fastPath.Unlock()

		return m.frames[frameID].page, nil
	}
	m.fastPath.Unlock()

	frameID := m.reserveFrame()
	if frameID == noFrame {
		var err error
		frameID, err = m.evictVictim()
		if err != nil {
			return zero, err
		}
	}

	pg, err := m.diskManager.ReadPage(pageIdent)
	if err != nil {
		m.releaseFrame(frameID)
		return zero, err
	}

	m.fastPath.Lock()
	m.frames[frameID] = frame[T]{
		page:      pg,
		pinCount:  1,
		pageIdent: pageIdent,
	}
	m.pageToFrame[pageIdent] = frameID
	m.replacer.Pin(frameID)
	m.fastPath.Unlock()

	return pg, nil
}

// AllocPage extends the file by one zeroed page and returns it pinned.
func (m *Manager[T]) AllocPage(fileID common.FileID) (common.PageID, T, error) {
	var zero T

	pageID, err := m.diskManager.AllocatePage(fileID)
	if err != nil {
		return 0, zero, fmt.Errorf("failed to allocate page: %w", err)
	}

	pg, err := m.GetPage(common.PageIdentity{FileID: fileID, PageID: pageID})
	if err != nil {
		return 0, zero, err
	}

	return pageID, pg, nil
}

// reserveFrame claims an empty frame, or noFrame when the pool is full.
func (m *Manager[T]) reserveFrame() uint64 {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	if len(m.emptyFrames) > 0 {
		id := m.emptyFrames[0]
		m.emptyFrames = m.emptyFrames[1:]

		return id
	}

	return noFrame
}

// releaseFrame returns a claimed frame to the free list after a failed load.
func (m *Manager[T]) releaseFrame(frameID uint64) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	m.emptyFrames = append(m.emptyFrames, frameID)
}

// evictVictim flushes and unmaps a replacer-chosen frame. Runs under
// slowPath, so no concurrent GetPage can claim the same victim.
func (m *Manager[T]) evictVictim() (uint64, error) {
	victimFrameID, err := m.replacer.ChooseVictim()
	if err != nil {
		return noFrame, fmt.Errorf("%w: %w", ErrNoFreeFrame, err)
	}

	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	victim := &m.frames[victimFrameID]
	assert.Assert(victim.pinCount == 0, "evicting pinned page %+v", victim.pageIdent)

	if victim.dirty {
		if err := m.diskManager.WritePage(victim.page, victim.pageIdent); err != nil {
			// the frame stays mapped, the replacer may pick it again
			m.replacer.Unpin(victimFrameID)
			return noFrame, fmt.Errorf("failed to write victim page: %w", err)
		}
		victim.dirty = false
	}

	delete(m.pageToFrame, victim.pageIdent)

	return victimFrameID, nil
}

// FlushPage writes the page to disk if and only if it is dirty.
func (m *Manager[T]) FlushPage(pageIdent common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pageIdent]
	if !ok {
		return ErrNoSuchPage
	}

	frame := &m.frames[frameID]
	if !frame.dirty {
		return nil
	}

	if err := m.diskManager.WritePage(frame.page, frame.pageIdent); err != nil {
		return fmt.Errorf("failed to write page to disk: %w", err)
	}

	frame.dirty = false

	return nil
}

// FlushAllPages writes back every dirty frame. The first write error is
// returned after all frames have been attempted.
func (m *Manager[T]) FlushAllPages() error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	var firstErr error
	for i := range m.frames {
		frame := &m.frames[i]
		if !frame.dirty {
			continue
		}

		if err := m.diskManager.WritePage(frame.page, frame.pageIdent); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		frame.dirty = false
	}

	return firstErr
}
