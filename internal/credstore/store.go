package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var sanitizeFileName = regexp.MustCompile(`[^A-Za-z0-9@.]`)

// excludedName reports files that live alongside credentials but are
// never treated as credential records: package*.json and tsconfig.json.
func excludedName(name string) bool {
	return strings.HasPrefix(name, "package") || name == "tsconfig.json"
}

// Entry pairs a loaded Record with the file it came from.
type Entry struct {
	FileName string
	Record   Record
}

// Store owns the on-disk credential directory.
type Store struct {
	dir string
	log *logrus.Logger

	mu      sync.RWMutex
	entries []Entry
}

// New builds a Store rooted at dir, creating the directory if absent.
func New(dir string, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create auths dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the credential directory path.
func (s *Store) Dir() string { return s.dir }

// Load re-scans the directory, discarding malformed or incomplete files
// silently, and replaces the in-memory pool.
func (s *Store) Load() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read auths dir: %w", err)
	}

	var loaded []Entry
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if excludedName(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.WithError(err).WithField("file", name).Warn("credstore: skipping unreadable file")
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.WithError(err).WithField("file", name).Warn("credstore: skipping malformed file")
			continue
		}
		if !rec.Valid() {
			s.log.WithField("file", name).Debug("credstore: skipping incomplete record")
			continue
		}
		loaded = append(loaded, Entry{FileName: name, Record: rec})
	}

	s.mu.Lock()
	s.entries = loaded
	s.mu.Unlock()

	return append([]Entry(nil), loaded...), nil
}

// Snapshot returns the currently loaded entries without touching disk.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// FileNameFor derives the credential file name for an e-mail, or a
// timestamped placeholder if email is empty.
func FileNameFor(email string) string {
	if email == "" {
		return fmt.Sprintf("account-%d.json", time.Now().UnixNano())
	}
	return sanitizeFileName.ReplaceAllString(email, "_") + ".json"
}

// Persist writes rec through to disk, deriving the file name from its
// e-mail (or reusing fileNameHint if rec.Email is empty).
func (s *Store) Persist(fileNameHint string, rec Record) (string, error) {
	name := fileNameHint
	if rec.Email != "" {
		name = FileNameFor(rec.Email)
	}
	if name == "" {
		name = FileNameFor("")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal credential record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return "", fmt.Errorf("write credential file: %w", err)
	}

	s.upsertEntry(Entry{FileName: name, Record: rec})
	if name != fileNameHint && fileNameHint != "" {
		s.removeStaleFile(fileNameHint, name)
	}
	return name, nil
}

func (s *Store) upsertEntry(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].FileName == e.FileName {
			s.entries[i] = e
			return
		}
	}
	s.entries = append(s.entries, e)
}

// removeStaleFile deletes oldName from disk after a rename-on-persist,
// e.g. when a placeholder file gains a discovered e-mail.
func (s *Store) removeStaleFile(oldName, newName string) {
	if oldName == newName {
		return
	}
	_ = os.Remove(filepath.Join(s.dir, oldName))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].FileName == oldName {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
}

// ErrInvalidFileName is returned by Delete when fileName fails validation.
var ErrInvalidFileName = errors.New("credstore: invalid file name")

// Delete removes fileName from disk after validating it. fileName must not
// contain a path separator or "..", and must end in ".json".
func (s *Store) Delete(fileName string) error {
	if err := validateFileName(fileName); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, fileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete credential file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].FileName == fileName {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, `\`) || strings.Contains(name, "..") {
		return ErrInvalidFileName
	}
	if !strings.HasSuffix(name, ".json") {
		return ErrInvalidFileName
	}
	return nil
}
