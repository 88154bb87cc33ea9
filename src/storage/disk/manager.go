package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

const PageSize = 4096

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
	ErrFileOpen     = errors.New("file has open handles")
	ErrEmptyFile    = errors.New("file has no pages")
)

type Page interface {
	GetData() []byte
	SetData(d []byte)
}

type fileInfo struct {
	path     string
	refCount int
}

// Manager is the storage/file layer: it owns the mapping between file
// names and FileIDs and performs page-granular I/O at offsets of
// PageID * PageSize. FileIDs are stable for the lifetime of the manager,
// so handles opening the same file share buffer-pool frames.
type Manager[T Page] struct {
	basePath    string
	fs          afero.Fs
	newPageFunc func() T

	mu         sync.RWMutex
	nextFileID common.FileID
	byName     map[string]common.FileID
	files      map[common.FileID]*fileInfo
}

func New[T Page](basePath string, newPageFunc func() T, fs afero.Fs) *Manager[T] {
	return &Manager[T]{
		basePath:    basePath,
		fs:          fs,
		newPageFunc: newPageFunc,
		byName:      make(map[string]common.FileID),
		files:       make(map[common.FileID]*fileInfo),
	}
}

func (m *Manager[T]) filePath(name string) string {
	return filepath.Join(m.basePath, filepath.Clean(name))
}

// CreateFile creates an empty backing file. It performs no page
// allocation; the heap layer bootstraps the header afterwards.
func (m *Manager[T]) CreateFile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.filePath(name)

	if err := m.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("unable to create directory for %s: %w", name, err)
	}

	file, err := m.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s: %w", name, ErrFileExists)
		}
		return fmt.Errorf("unable to create file %s: %w", name, err)
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("unable to sync file %s: %w", name, err)
	}

	return file.Close()
}

// DestroyFile removes the backing file. It refuses to remove a file that
// still has open handles.
func (m *Manager[T]) DestroyFile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byName[name]; ok {
		if m.files[id].refCount > 0 {
			return fmt.Errorf("%s: %w", name, ErrFileOpen)
		}
		delete(m.byName, name)
		delete(m.files, id)
	}

	path := m.filePath(name)
	if _, err := m.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
		return fmt.Errorf("unable to stat file %s: %w", name, err)
	}

	if err := m.fs.Remove(path); err != nil {
		return fmt.Errorf("unable to remove file %s: %w", name, err)
	}

	return nil
}

// OpenFile registers an open handle on the file and returns its FileID.
// Opening the same name twice returns the same FileID.
func (m *Manager[T]) OpenFile(name string) (common.FileID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.filePath(name)
	if _, err := m.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
		return 0, fmt.Errorf("unable to stat file %s: %w", name, err)
	}

	if id, ok := m.byName[name]; ok {
		m.files[id].refCount++
		return id, nil
	}

	id := m.nextFileID
	m.nextFileID++

	m.byName[name] = id
	m.files[id] = &fileInfo{path: path, refCount: 1}

	return id, nil
}

// CloseFile releases one handle on the file. The name to FileID mapping
// survives so that a reopen sees the same FileID.
func (m *Manager[T]) CloseFile(fileID common.FileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("fileID %d is not registered", fileID)
	}
	if info.refCount == 0 {
		return fmt.Errorf("fileID %d is not open", fileID)
	}

	info.refCount--

	return nil
}

// FirstPageID returns the page number of the file's header page.
func (m *Manager[T]) FirstPageID(fileID common.FileID) (common.PageID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.files[fileID]
	if !ok {
		return 0, fmt.Errorf("fileID %d is not registered", fileID)
	}

	stat, err := m.fs.Stat(info.path)
	if err != nil {
		return 0, fmt.Errorf("unable to stat file %s: %w", info.path, err)
	}
	if stat.Size() < PageSize {
		return 0, fmt.Errorf("%s: %w", info.path, ErrEmptyFile)
	}

	return 0, nil
}

func (m *Manager[T]) ReadPage(pageIdent common.PageIdentity) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zeroVal T

	info, ok := m.files[pageIdent.FileID]
	if !ok {
		return zeroVal, fmt.Errorf("fileID %d is not registered", pageIdent.FileID)
	}

	file, err := m.fs.Open(info.path)
	if err != nil {
		return zeroVal, fmt.Errorf("unable to open file %s: %w", info.path, err)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * PageSize
	data := make([]byte, PageSize)

	if _, err = file.ReadAt(data, offset); err != nil {
		return zeroVal, fmt.Errorf("unable to read page %d of %s: %w",
			pageIdent.PageID, info.path, err)
	}

	page := m.newPageFunc()
	page.SetData(data)

	return page, nil
}

func (m *Manager[T]) WritePage(page T, pageIdent common.PageIdentity) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.files[pageIdent.FileID]
	if !ok {
		return fmt.Errorf("fileID %d is not registered", pageIdent.FileID)
	}

	file, err := m.fs.OpenFile(info.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("unable to open file %s: %w", info.path, err)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * PageSize

	if _, err = file.WriteAt(page.GetData(), offset); err != nil {
		return fmt.Errorf("unable to write page %d of %s: %w",
			pageIdent.PageID, info.path, err)
	}

	return nil
}

// AllocatePage appends a zeroed page to the file and returns its number.
func (m *Manager[T]) AllocatePage(fileID common.FileID) (common.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[fileID]
	if !ok {
		return 0, fmt.Errorf("fileID %d is not registered", fileID)
	}

	file, err := m.fs.OpenFile(info.path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("unable to open file %s: %w", info.path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("unable to stat file %s: %w", info.path, err)
	}

	pageID := common.PageID(stat.Size() / PageSize)

	zeroed := make([]byte, PageSize)
	if _, err = file.WriteAt(zeroed, stat.Size()); err != nil {
		return 0, fmt.Errorf("unable to grow file %s: %w", info.path, err)
	}

	return pageID, nil
}
