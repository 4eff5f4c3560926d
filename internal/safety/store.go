package safety

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// FileStore serves the rule document from a JSON file, re-parsing it
// only when the file's modification time changes. The mtime is the
// cache invalidation key; ForceReload drops the cache so tests and the
// admin surface can push a change through without touching the clock.
//
// Once a document has loaded successfully, a later broken edit keeps
// the last good document in service and logs the failure. The bad file
// is not retried until its mtime changes again.
type FileStore struct {
	path string

	mu      sync.Mutex
	doc     *Document
	modTime time.Time
	forced  bool
}

// NewFileStore creates a store over the given rules file. The file is
// not read until the first Document call.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, forced: true}
}

// Path returns the rules file path.
func (s *FileStore) Path() string { return s.path }

// Document returns the current rule document, reloading the file if
// its modification time moved. An error is returned only while no
// document has ever loaded.
func (s *FileStore) Document() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if s.doc != nil {
			log.Printf("safety rules: stat %s failed, keeping loaded rules: %v", s.path, err)
			return s.doc, nil
		}
		return nil, fmt.Errorf("failed to stat safety rules file: %w", err)
	}

	if !s.forced && s.doc != nil && info.ModTime().Equal(s.modTime) {
		return s.doc, nil
	}

	doc, err := LoadDocument(s.path)
	if err != nil {
		if s.doc != nil {
			log.Printf("safety rules: reload failed, keeping previous rules: %v", err)
			s.modTime = info.ModTime()
			s.forced = false
			return s.doc, nil
		}
		return nil, err
	}

	s.doc = doc
	s.modTime = info.ModTime()
	s.forced = false
	return doc, nil
}

// ForceReload makes the next Document call re-read the file regardless
// of its modification time.
func (s *FileStore) ForceReload() {
	s.mu.Lock()
	s.forced = true
	s.mu.Unlock()
}
