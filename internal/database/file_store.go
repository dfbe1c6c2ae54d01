package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"channel-gate/internal/models"
	"channel-gate/pkg/logging"
)

// FileStore persists the whole subscriber mapping as one JSON document.
// Writes go to a temp file that is renamed over the canonical path.
type FileStore struct {
	path string

	// OnCorrupt is called after unreadable data was moved aside
	OnCorrupt func(path, movedTo string, cause error)

	rename  func(oldpath, newpath string) error
	syncDir func(dir string) error
	now     func() time.Time
}

// NewFileStore creates a file store rooted at path, creating its directory
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %q: %w", filepath.Dir(path), err)
	}
	return &FileStore{
		path:    path,
		rename:  os.Rename,
		syncDir: syncDir,
		now:     time.Now,
	}, nil
}

// Path returns the canonical file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the mapping. Missing or corrupt data yields an empty mapping;
// other read failures are returned and leave the file in place.
func (s *FileStore) Load(ctx context.Context) (models.Subscribers, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Subscribers{}, nil
		}
		return nil, fmt.Errorf("read %q: %w", s.path, err)
	}

	subs := models.Subscribers{}
	if len(data) == 0 {
		s.quarantine(fmt.Errorf("%q is empty", s.path))
		return subs, nil
	}
	if err := json.Unmarshal(data, &subs); err != nil {
		s.quarantine(fmt.Errorf("decode %q: %w", s.path, err))
		return models.Subscribers{}, nil
	}
	if subs == nil {
		subs = models.Subscribers{}
	}
	return subs, nil
}

// Save replaces the canonical file with the full mapping
func (s *FileStore) Save(ctx context.Context, subs models.Subscribers) error {
	if subs == nil {
		subs = models.Subscribers{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscribers: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := writeFileSync(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}

	if err := s.rename(tmpPath, s.path); err != nil {
		renameErr := fmt.Errorf("rename %q to %q: %w", tmpPath, s.path, err)
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return errors.Join(renameErr, fmt.Errorf("remove temp file %q: %w", tmpPath, removeErr))
		}
		return renameErr
	}
	if err := s.syncDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("sync data directory: %w", err)
	}

	logging.Debugf("Saved subscribers - count: %d, file: %s", len(subs), s.path)
	return nil
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error {
	return nil
}

// quarantine moves unreadable data aside so the next save cannot destroy it
func (s *FileStore) quarantine(cause error) {
	movedTo := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, movedTo); err != nil {
		logging.Errorf("Subscriber store unreadable and could not be moved aside - file: %s, error: %v, cause: %v", s.path, err, cause)
		movedTo = ""
	} else {
		logging.Errorf("Subscriber store unreadable, starting empty - file: %s, moved_to: %s, cause: %v", s.path, movedTo, cause)
	}
	if s.OnCorrupt != nil {
		s.OnCorrupt(s.path, movedTo, cause)
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes a directory entry so a completed rename survives power loss
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
