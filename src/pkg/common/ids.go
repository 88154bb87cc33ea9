package common

type (
	FileID  uint64
	PageID  uint64
	SlotNum uint16
)

// InvalidPageID marks the absence of a page: the forward link of the last
// page in a file chain and the page component of NilRecordID.
const InvalidPageID = ^PageID(0)

// PageIdentity globally identifies a page across all files managed by one
// disk manager. It is the key of the buffer pool's frame table.
type PageIdentity struct {
	FileID FileID
	PageID PageID
}

// RecordID addresses a record inside a file. It stays valid for as long as
// the record exists and is never reused while the record is live.
type RecordID struct {
	PageID  PageID
	SlotNum SlotNum
}

// NilRecordID is the "no current record" sentinel.
var NilRecordID = RecordID{PageID: InvalidPageID, SlotNum: 0}

func (r RecordID) IsNil() bool {
	return r.PageID == InvalidPageID
}

func (r RecordID) PageIdentity(fileID FileID) PageIdentity {
	return PageIdentity{
		FileID: fileID,
		PageID: r.PageID,
	}
}
