package heap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// scanRecord lays out a fixed-width row: a 4-byte int key followed by
// a short tag.
func scanRecord(key uint32, tag string) []byte {
	rec := make([]byte, 4+len(tag))
	binary.NativeEndian.PutUint32(rec, key)
	copy(rec[4:], tag)
	return rec
}

func newScannedFile(t *testing.T, n int) (*FileScan, []common.RecordID) {
	t.Helper()

	pool, dm := newTestDeps(t)
	require.NoError(t, CreateFile("events", pool, dm, testLog))

	ins, err := OpenInsertScan("events", pool, dm, testLog)
	require.NoError(t, err)

	rids := make([]common.RecordID, 0, n)
	for i := range n {
		rid, err := ins.InsertRecord(scanRecord(uint32(i), "evt"))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, ins.Close())

	scan, err := OpenScan("events", pool, dm, testLog)
	require.NoError(t, err)
	t.Cleanup(func() { scan.Close() })

	return scan, rids
}

func TestScanVisitsEveryRecordOnce(t *testing.T) {
	const n = 300
	scan, rids := newScannedFile(t, n)

	seen := make(map[common.RecordID]struct{}, n)
	for {
		rid, err := scan.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfFile)
			break
		}

		_, dup := seen[rid]
		require.False(t, dup, "RID %+v visited twice", rid)
		seen[rid] = struct{}{}
	}

	assert.Len(t, seen, n)
	for _, rid := range rids {
		assert.Contains(t, seen, rid)
	}

	// exhausted scans keep reporting end of file
	_, err := scan.Next()
	assert.ErrorIs(t, err, ErrEndOfFile)
	_, err = scan.Next()
	assert.ErrorIs(t, err, ErrEndOfFile)
}

func TestScanOrderFollowsInsertion(t *testing.T) {
	const n = 300
	scan, rids := newScannedFile(t, n)

	for i, want := range rids {
		rid, err := scan.Next()
		require.NoError(t, err)
		assert.Equal(t, want, rid, "record %d out of order", i)
	}

	_, err := scan.Next()
	assert.ErrorIs(t, err, ErrEndOfFile)
}

func TestFilteredScan(t *testing.T) {
	const n = 300
	scan, rids := newScannedFile(t, n)

	key := make([]byte, 4)
	binary.NativeEndian.PutUint32(key, 42)
	require.NoError(t, scan.StartScan(0, 4, IntField, key, EQ))

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[42], rid)

	rec, err := scan.GetRecord()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), binary.NativeEndian.Uint32(rec))

	_, err = scan.Next()
	assert.ErrorIs(t, err, ErrEndOfFile)
}

func TestFilteredScanRange(t *testing.T) {
	const n = 100
	scan, _ := newScannedFile(t, n)

	key := make([]byte, 4)
	binary.NativeEndian.PutUint32(key, 90)
	require.NoError(t, scan.StartScan(0, 4, IntField, key, GTE))

	matches := 0
	for {
		_, err := scan.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfFile)
			break
		}

		rec, err := scan.GetRecord()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, binary.NativeEndian.Uint32(rec), uint32(90))
		matches++
	}

	assert.Equal(t, 10, matches)
}

func TestStartScanValidation(t *testing.T) {
	scan, _ := newScannedFile(t, 3)

	key := make([]byte, 4)

	assert.ErrorIs(t, scan.StartScan(-1, 4, IntField, key, EQ), ErrBadScanParam)
	assert.ErrorIs(t, scan.StartScan(0, 0, IntField, key, EQ), ErrBadScanParam)
	assert.ErrorIs(t, scan.StartScan(0, 8, IntField, make([]byte, 8), EQ), ErrBadScanParam)
	assert.ErrorIs(t, scan.StartScan(0, 4, IntField, make([]byte, 2), EQ), ErrBadScanParam)
	assert.ErrorIs(t, scan.StartScan(0, 4, FieldType(99), key, EQ), ErrBadScanParam)
	assert.ErrorIs(t, scan.StartScan(0, 4, IntField, key, CompareOp(99)), ErrBadScanParam)

	// nil value switches the scan back to unfiltered
	require.NoError(t, scan.StartScan(0, 0, IntField, nil, EQ))

	count := 0
	for {
		if _, err := scan.Next(); err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}

func TestMarkReset(t *testing.T) {
	const n = 300
	scan, rids := newScannedFile(t, n)

	for range 5 {
		_, err := scan.Next()
		require.NoError(t, err)
	}
	scan.Mark()

	for range 10 {
		_, err := scan.Next()
		require.NoError(t, err)
	}

	require.NoError(t, scan.Reset())

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[5], rid)

	// repeated Reset replays the same position
	require.NoError(t, scan.Reset())
	rid, err = scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[5], rid)
}

func TestResetWithoutMarkRewindsToStart(t *testing.T) {
	const n = 10
	scan, rids := newScannedFile(t, n)

	for range 4 {
		_, err := scan.Next()
		require.NoError(t, err)
	}

	require.NoError(t, scan.Reset())

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[0], rid)

	visited := 1
	for {
		if _, err := scan.Next(); err != nil {
			require.ErrorIs(t, err, ErrEndOfFile)
			break
		}
		visited++
	}
	assert.Equal(t, n, visited)
}

func TestMarkBeforeFirstNext(t *testing.T) {
	const n = 10
	scan, rids := newScannedFile(t, n)

	scan.Mark()

	for range n {
		_, err := scan.Next()
		require.NoError(t, err)
	}
	_, err := scan.Next()
	require.ErrorIs(t, err, ErrEndOfFile)

	require.NoError(t, scan.Reset())

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[0], rid)
}

func TestResetAcrossPages(t *testing.T) {
	k := recordsPerPage(t, len(scanRecord(0, "evt")))
	n := 2*k + 5

	scan, rids := newScannedFile(t, n)

	_, err := scan.Next()
	require.NoError(t, err)
	scan.Mark()

	// walk onto a later page
	for range k + 3 {
		_, err := scan.Next()
		require.NoError(t, err)
	}

	require.NoError(t, scan.Reset())

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[1], rid)
}

func TestResetAfterEndScan(t *testing.T) {
	scan, rids := newScannedFile(t, 10)

	for range 3 {
		_, err := scan.Next()
		require.NoError(t, err)
	}
	scan.Mark()

	require.NoError(t, scan.EndScan())
	require.NoError(t, scan.Reset())

	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[3], rid)
}

func TestEndScanIsIdempotent(t *testing.T) {
	scan, _ := newScannedFile(t, 10)

	_, err := scan.Next()
	require.NoError(t, err)

	require.NoError(t, scan.EndScan())
	require.NoError(t, scan.EndScan())

	_, err = scan.Next()
	assert.ErrorIs(t, err, ErrEndOfFile)
}

func TestGetRecordBeforeNext(t *testing.T) {
	scan, _ := newScannedFile(t, 10)

	_, err := scan.GetRecord()
	assert.ErrorIs(t, err, ErrNoCurrentRecord)
}

func TestDeleteAtCursor(t *testing.T) {
	const n = 20
	scan, rids := newScannedFile(t, n)

	for range 5 {
		_, err := scan.Next()
		require.NoError(t, err)
	}
	require.NoError(t, scan.DeleteRecord())

	assert.Equal(t, uint64(n-1), scan.RecordCount())

	_, err := scan.GetRecord()
	assert.Error(t, err)

	// traversal continues past the deleted slot
	rid, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, rids[5], rid)

	// a rescan does not revisit the deleted record
	rescan, err := OpenScan("events", scan.pool, scan.fm, testLog)
	require.NoError(t, err)
	defer rescan.Close()

	for {
		rid, err := rescan.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfFile)
			break
		}
		assert.NotEqual(t, rids[4], rid)
	}
}

func TestDeleteWithoutCursor(t *testing.T) {
	scan, _ := newScannedFile(t, 3)

	assert.ErrorIs(t, scan.DeleteRecord(), ErrNoCurrentRecord)
}

func TestMarkDirtyPersistsInPlaceUpdate(t *testing.T) {
	pool, dm := newTestDeps(t)
	require.NoError(t, CreateFile("events", pool, dm, testLog))

	ins, err := OpenInsertScan("events", pool, dm, testLog)
	require.NoError(t, err)
	rid, err := ins.InsertRecord(scanRecord(7, "old"))
	require.NoError(t, err)
	require.NoError(t, ins.Close())

	scan, err := OpenScan("events", pool, dm, testLog)
	require.NoError(t, err)

	got, err := scan.Next()
	require.NoError(t, err)
	require.Equal(t, rid, got)

	rec, err := scan.GetRecord()
	require.NoError(t, err)
	copy(rec[4:], "new")
	scan.MarkDirty()

	require.NoError(t, scan.Close())
	require.NoError(t, pool.FlushAllPages())

	freshPool, err := bufferpool.New(4, bufferpool.NewLRUReplacer(), dm)
	require.NoError(t, err)

	hf, err := Open("events", freshPool, dm, testLog)
	require.NoError(t, err)
	defer hf.Close()

	rec, err = hf.GetRecord(rid)
	require.NoError(t, err)
	assert.Equal(t, "new", string(rec[4:]))
}
