package program

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LoadProgram loads a program from a JSON file.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}

	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse program JSON: %w", err)
	}

	return &p, nil
}

// Library is an in-memory index of a directory of program files, keyed
// by program number. Reload rescans the directory; the Watcher calls
// it when files change.
type Library struct {
	dir string

	mu       sync.RWMutex
	programs map[int]*Program
}

// NewLibrary creates an empty library over dir. Call Reload to
// populate it.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, programs: map[int]*Program{}}
}

// Dir returns the directory the library indexes.
func (l *Library) Dir() string { return l.dir }

// Reload rescans the directory and replaces the index. Files that fail
// to parse are skipped with a log line so one broken file cannot take
// the whole library down. Duplicate program numbers keep the first
// file in directory order.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read program directory: %w", err)
	}

	programs := make(map[int]*Program)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		p, err := LoadProgram(path)
		if err != nil {
			log.Printf("program library: skipping %s: %v", entry.Name(), err)
			continue
		}
		if _, exists := programs[p.ProgramNumber]; exists {
			log.Printf("program library: skipping %s: duplicate program number %d", entry.Name(), p.ProgramNumber)
			continue
		}
		programs[p.ProgramNumber] = p
	}

	l.mu.Lock()
	l.programs = programs
	l.mu.Unlock()
	return nil
}

// Get returns the program with the given number.
func (l *Library) Get(number int) (*Program, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.programs[number]
	return p, ok
}

// List returns all programs sorted by program number.
func (l *Library) List() []*Program {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Program, 0, len(l.programs))
	for _, p := range l.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProgramNumber < out[j].ProgramNumber
	})
	return out
}

// Len returns the number of indexed programs.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.programs)
}
