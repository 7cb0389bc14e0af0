package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"stem-tutor/internal/models"
)

// Kind selects one of the two persisted collections.
type Kind string

const (
	History   Kind = "history"
	Bookmarks Kind = "bookmarks"
)

// ErrCorrupt marks a backing file that exists but does not hold a JSON array of records.
var ErrCorrupt = errors.New("collection file is not valid json")

// Store keeps the history log and bookmark set in memory and mirrors each
// collection to its JSON file after every mutation.
type Store struct {
	mu        sync.Mutex
	paths     map[Kind]string
	history   []models.QARecord
	bookmarks []models.QARecord
	log       logrus.FieldLogger
}

// Open loads both collections. Missing files start empty; corrupt files start
// empty with a warning and are overwritten on the next mutation.
func Open(historyPath, bookmarkPath string, log logrus.FieldLogger) *Store {
	s := &Store{
		paths: map[Kind]string{
			History:   historyPath,
			Bookmarks: bookmarkPath,
		},
		log: log,
	}
	s.history = s.load(History)
	s.bookmarks = s.load(Bookmarks)
	return s
}

func (s *Store) load(kind Kind) []models.QARecord {
	path := s.paths[kind]
	records, err := Load(path)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"kind": kind,
			"path": path,
		}).Warn("could not load collection, starting empty")
		return []models.QARecord{}
	}
	s.log.WithFields(logrus.Fields{"kind": kind, "records": len(records)}).Debug("collection loaded")
	return records
}

// Load reads a collection file. A missing file yields an empty collection.
func Load(path string) ([]models.QARecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.QARecord{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	records := []models.QARecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if records == nil {
		// a literal null decodes to nil
		records = []models.QARecord{}
	}
	return records, nil
}

// Save replaces the collection file with the full collection. The write goes
// to a temporary file in the same directory which is then renamed over the target.
func Save(path string, records []models.QARecord) error {
	if records == nil {
		records = []models.QARecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	// CreateTemp uses 0600; keep the target's mode, or 0644 for a new file.
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// AppendHistory adds one record to the end of the history log and persists it.
func (s *Store) AppendHistory(rec models.QARecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(clone(s.history), rec)
	if err := Save(s.paths[History], next); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	s.history = next
	return nil
}

// History returns a copy of the log in insertion order.
func (s *Store) History() []models.QARecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.history)
}

// Bookmarks returns a copy of the bookmark set in insertion order.
func (s *Store) Bookmarks() []models.QARecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.bookmarks)
}

// Bookmark adds the pair unless an equal pair is already stored. It reports
// whether the set changed.
func (s *Store) Bookmark(rec models.QARecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bookmarks {
		if b.Question == rec.Question && b.Answer == rec.Answer {
			return false, nil
		}
	}

	next := append(clone(s.bookmarks), rec)
	if err := Save(s.paths[Bookmarks], next); err != nil {
		return false, fmt.Errorf("save bookmarks: %w", err)
	}
	s.bookmarks = next
	return true, nil
}

// Unbookmark drops every bookmark whose question matches, whatever its answer,
// and returns the removed records.
func (s *Store) Unbookmark(question string) ([]models.QARecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]models.QARecord, 0, len(s.bookmarks))
	var removed []models.QARecord
	for _, b := range s.bookmarks {
		if b.Question == question {
			removed = append(removed, b)
			continue
		}
		kept = append(kept, b)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	if err := Save(s.paths[Bookmarks], kept); err != nil {
		return nil, fmt.Errorf("save bookmarks: %w", err)
	}
	s.bookmarks = kept
	return removed, nil
}

// FindBookmark resolves a client-facing bookmark id.
func (s *Store) FindBookmark(id string) (models.QARecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookmarks {
		if b.ID() == id {
			return b, true
		}
	}
	return models.QARecord{}, false
}

func clone(records []models.QARecord) []models.QARecord {
	out := make([]models.QARecord, len(records))
	copy(out, records)
	return out
}
