package connection

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"orderbot_backend/platform/logger"
)

// expectedArtifacts are the directories a healthy session always contains.
// A session missing the quorum of them cannot be resumed and is purged.
var expectedArtifacts = []string{
	"Default",
	filepath.Join("Default", "Local Storage"),
	filepath.Join("Default", "IndexedDB"),
}

// artifactQuorum is the minimum number of expected artifacts present for a
// session to be considered resumable.
const artifactQuorum = 2

// tempPatterns match files safe to delete during housekeeping.
var tempPatterns = []string{"*.tmp", "*.old", "SingletonLock", "SingletonCookie", "SingletonSocket"}

// SessionStore manages the on-disk session directory of the chat client.
type SessionStore struct {
	dir      string
	maxBytes int64
	log      *logger.Logger
}

// NewSessionStore creates a store for the given session directory.
func NewSessionStore(dir string, maxBytes int64, log *logger.Logger) *SessionStore {
	return &SessionStore{dir: dir, maxBytes: maxBytes, log: log}
}

// Dir returns the session directory path.
func (s *SessionStore) Dir() string {
	return s.dir
}

// Exists reports whether a session directory is present on disk.
func (s *SessionStore) Exists() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// CheckIntegrity returns nil for a missing session (fresh pairing is fine)
// or a resumable one, and an error describing the corruption otherwise.
func (s *SessionStore) CheckIntegrity() error {
	if !s.Exists() {
		return nil
	}

	size, err := s.totalSize()
	if err != nil {
		return fmt.Errorf("session size check: %w", err)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("session size %d exceeds ceiling %d", size, s.maxBytes)
	}

	present := 0
	for _, artifact := range expectedArtifacts {
		if _, err := os.Stat(filepath.Join(s.dir, artifact)); err == nil {
			present++
		}
	}
	if present < artifactQuorum {
		return fmt.Errorf("session has %d of %d expected artifacts (quorum %d)",
			present, len(expectedArtifacts), artifactQuorum)
	}

	return nil
}

// Purge removes the session directory entirely. Corruption is always
// resolved by purge-and-restart, never by partial repair.
func (s *SessionStore) Purge() error {
	if !s.Exists() {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	s.log.Info("session purged", "dir", s.dir)
	return nil
}

// CleanupTemp deletes temporary artifacts. Only ever called while
// disconnected so a live session is never disturbed.
func (s *SessionStore) CleanupTemp() (int, error) {
	if !s.Exists() {
		return 0, nil
	}

	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.EqualFold(d.Name(), "Crashpad") {
				if rmErr := os.RemoveAll(path); rmErr == nil {
					removed++
				}
				return fs.SkipDir
			}
			return nil
		}
		for _, pattern := range tempPatterns {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				if rmErr := os.Remove(path); rmErr == nil {
					removed++
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("session cleanup: %w", err)
	}
	if removed > 0 {
		s.log.Debug("session housekeeping removed temp artifacts", "count", removed)
	}
	return removed, nil
}

func (s *SessionStore) totalSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
