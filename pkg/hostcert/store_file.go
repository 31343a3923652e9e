package hostcert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"howett.net/plist"
)

// FileStore is a file-based Store. Each pair record is written as a single
// binary-plist file, one per device, mirroring the file the mux daemon
// itself keeps under its own pairing-record directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a file-based store rooted at baseDir. The directory
// is created on first write.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) path(udid string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.plist", udid))
}

// GetPairRecord returns the stored record for udid.
func (s *FileStore) GetPairRecord(udid string) (*PairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(udid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var record PairRecord
	if _, err := plist.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode pair record: %w", err)
	}
	return &record, nil
}

// SetPairRecord stores (or replaces) the record for udid.
func (s *FileStore) SetPairRecord(udid string, record *PairRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}

	data, err := plist.MarshalIndent(record, plist.BinaryFormat, "\t")
	if err != nil {
		return fmt.Errorf("encode pair record: %w", err)
	}

	return os.WriteFile(s.path(udid), data, 0o600)
}

// DeletePairRecord removes the record for udid, if any.
func (s *FileStore) DeletePairRecord(udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(udid))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListUDIDs returns every UDID with a stored record.
func (s *FileStore) ListUDIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil
	}

	udids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".plist") {
			udids = append(udids, strings.TrimSuffix(name, ".plist"))
		}
	}
	return udids
}

var _ Store = (*FileStore)(nil)
