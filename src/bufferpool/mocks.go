package bufferpool

import (
	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
)

type MockDiskManager struct {
	mock.Mock
}

var _ DiskManager[*page.HeapPage] = &MockDiskManager{}

func (m *MockDiskManager) ReadPage(pageIdent common.PageIdentity) (*page.HeapPage, error) {
	args := m.Called(pageIdent)
	if p := args.Get(0); p != nil {
		return p.(*page.HeapPage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDiskManager) WritePage(p *page.HeapPage, pageIdent common.PageIdentity) error {
	args := m.Called(p, pageIdent)
	return args.Error(0)
}

func (m *MockDiskManager) AllocatePage(fileID common.FileID) (common.PageID, error) {
	args := m.Called(fileID)
	return args.Get(0).(common.PageID), args.Error(1)
}

type MockReplacer struct {
	mock.Mock
}

var _ Replacer = &MockReplacer{}

func (m *MockReplacer) Pin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) Unpin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) ChooseVictim() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockReplacer) GetSize() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}
