package page

import (
	"errors"
	"unsafe"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/pkg/optional"
)

const (
	slotOffsetBits        = 12
	PageSize              = 1 << slotOffsetBits
	slotOffsetMask uint16 = PageSize - 1
)

const (
	slotPtrSize   = uint16(unsafe.Sizeof(slotPointer(0)))
	recordLenSize = uint16(unsafe.Sizeof(uint16(0)))
	slotsOffset   = uint16(unsafe.Offsetof(header{}.slots))

	// MaxRecordSize is the largest record payload a freshly initialized
	// page accepts: page size minus the header, one slot pointer and the
	// record length prefix.
	MaxRecordSize = int(PageSize - slotsOffset - slotPtrSize - recordLenSize)
)

var (
	ErrNoSpace     = errors.New("not enough space on page")
	ErrInvalidSlot = errors.New("invalid slot")
)

// HeapPage is a slotted data page of a heap file. The header and the slot
// directory grow from the head of the page, record payloads grow from the
// tail. Deleting a record frees its slot but never compacts the page.
type HeapPage struct {
	data [PageSize]byte
}

// slotPointer packs a slot status into the upper bits and the record
// offset into the lower slotOffsetBits bits.
type slotPointer uint16

type slotStatus byte

const (
	slotStatusFree slotStatus = iota
	slotStatusInserted
	slotStatusDeleted
)

func newSlotPtr(status slotStatus, recordOffset uint16) slotPointer {
	assert.Assert(recordOffset <= slotOffsetMask, "the offset is too big")
	return slotPointer((uint16(status) << slotOffsetBits) | recordOffset)
}

func (s slotPointer) recordOffset() uint16 {
	return uint16(s) & slotOffsetMask
}

func (s slotPointer) status() slotStatus {
	return slotStatus((uint16(s) & (^slotOffsetMask)) >> slotOffsetBits)
}

// header overlays the head of the page data. slots is the first element
// of the inline slot directory.
type header struct {
	pageID   common.PageID
	nextPage common.PageID

	freeStart uint16
	freeEnd   uint16

	slotsCount uint16
	slots      slotPointer
}

func (p *HeapPage) getHeader() *header {
	return (*header)(unsafe.Pointer(&p.data[0]))
}

func (h *header) getSlots() []slotPointer {
	return unsafe.Slice(&h.slots, h.slotsCount)
}

func NewHeapPage() *HeapPage {
	p := &HeapPage{}
	p.Init(common.InvalidPageID)
	return p
}

// Init formats the page as an empty data page with no forward link.
func (p *HeapPage) Init(pageID common.PageID) {
	clear(p.data[:])

	h := p.getHeader()
	h.pageID = pageID
	h.nextPage = common.InvalidPageID
	h.freeStart = slotsOffset
	h.freeEnd = PageSize
}

func (p *HeapPage) PageID() common.PageID {
	return p.getHeader().pageID
}

// NextPage returns the forward link of the page chain,
// common.InvalidPageID for the last page.
func (p *HeapPage) NextPage() common.PageID {
	return p.getHeader().nextPage
}

func (p *HeapPage) SetNextPage(next common.PageID) {
	p.getHeader().nextPage = next
}

func (p *HeapPage) NumSlots() uint16 {
	return p.getHeader().slotsCount
}

// NumRecords counts live records, excluding deleted slots.
func (p *HeapPage) NumRecords() uint16 {
	h := p.getHeader()

	n := uint16(0)
	for _, ptr := range h.getSlots() {
		if ptr.status() == slotStatusInserted {
			n++
		}
	}

	return n
}

// FreeSpace reports how many payload bytes the next insert may carry.
func (p *HeapPage) FreeSpace() int {
	h := p.getHeader()

	free := int(h.freeEnd) - int(h.freeStart) - int(slotPtrSize) - int(recordLenSize)
	if free < 0 {
		return 0
	}

	return free
}

// InsertRecord places data into a fresh slot. Deleted slots are not
// reused, so slot numbers stay stable for the lifetime of the page.
func (p *HeapPage) InsertRecord(data []byte) (common.SlotNum, error) {
	h := p.getHeader()

	// payload plus its length prefix
	requiredLength := int(recordLenSize) + len(data)
	if int(h.freeEnd) < requiredLength {
		return 0, ErrNoSpace
	}

	pos := h.freeEnd - uint16(requiredLength)
	if pos < h.freeStart+slotPtrSize {
		return 0, ErrNoSpace
	}

	*(*uint16)(unsafe.Pointer(&p.data[pos])) = uint16(len(data))
	ptr := newSlotPtr(slotStatusInserted, pos)

	n := copy(p.getBytesUnsafe(ptr), data)
	assert.Assert(n == len(data), "couldn't copy data. copied only %d bytes", n)

	curSlot := h.slotsCount
	h.slotsCount++
	h.getSlots()[curSlot] = ptr
	h.freeStart += slotPtrSize
	h.freeEnd = pos

	return common.SlotNum(curSlot), nil
}

// GetRecord returns the record payload stored in slot. The slice aliases
// the page buffer and stays valid only while the page remains pinned.
func (p *HeapPage) GetRecord(slot common.SlotNum) ([]byte, error) {
	ptr, err := p.insertedSlot(slot)
	if err != nil {
		return nil, err
	}

	return p.getBytesUnsafe(ptr), nil
}

// DeleteRecord frees the slot. The payload bytes are not reclaimed until
// the page is rebuilt; the slot is never handed out again.
func (p *HeapPage) DeleteRecord(slot common.SlotNum) error {
	ptr, err := p.insertedSlot(slot)
	if err != nil {
		return err
	}

	p.getHeader().getSlots()[slot] = newSlotPtr(slotStatusDeleted, ptr.recordOffset())

	return nil
}

// FirstRecord returns the first live slot of the page in slot order.
func (p *HeapPage) FirstRecord() optional.Optional[common.SlotNum] {
	return p.nextInserted(0)
}

// NextRecord returns the first live slot strictly after slot.
func (p *HeapPage) NextRecord(slot common.SlotNum) optional.Optional[common.SlotNum] {
	return p.nextInserted(uint16(slot) + 1)
}

func (p *HeapPage) nextInserted(from uint16) optional.Optional[common.SlotNum] {
	h := p.getHeader()

	slots := h.getSlots()
	for i := from; i < h.slotsCount; i++ {
		if slots[i].status() == slotStatusInserted {
			return optional.Some(common.SlotNum(i))
		}
	}

	return optional.None[common.SlotNum]()
}

func (p *HeapPage) insertedSlot(slot common.SlotNum) (slotPointer, error) {
	h := p.getHeader()
	if uint16(slot) >= h.slotsCount {
		return 0, ErrInvalidSlot
	}

	ptr := h.getSlots()[slot]
	if ptr.status() != slotStatusInserted {
		return 0, ErrInvalidSlot
	}

	return ptr, nil
}

func (p *HeapPage) getBytesUnsafe(ptr slotPointer) []byte {
	offset := int(ptr.recordOffset())
	sliceLen := int(*(*uint16)(unsafe.Pointer(&p.data[offset])))

	// a zero-length payload may start one past the last page byte
	start := offset + int(recordLenSize)

	return p.data[start : start+sliceLen]
}

func (p *HeapPage) GetData() []byte {
	return p.data[:]
}

func (p *HeapPage) SetData(data []byte) {
	copy(p.data[:], data)
}
