/**
 * Directory Source
 *
 * Replays screenshots saved on disk when no live capture process is attached.
 */

package frame

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirSource replays image files from a directory in name order for local runs
type DirSource struct {
	dir   string
	loop  bool
	files []string

	mu   sync.Mutex
	next int
}

// NewDirSource scans dir for png and jpeg files
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if formatFromName(e.Name()) != "" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	return &DirSource{dir: dir, loop: loop, files: files}, nil
}

// Len returns the number of replayable files
func (s *DirSource) Len() int {
	return len(s.files)
}

// TryAcquire reads the next file; an unreadable file counts as a miss
func (s *DirSource) TryAcquire() (Frame, bool) {
	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		return Frame{}, false
	}
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return Frame{}, false
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, false
	}
	return New(filepath.Base(path), formatFromName(path), data), true
}

func formatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	default:
		return ""
	}
}
