package media

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TempFiles tracks local files created while a job runs so they can all be
// removed when it finishes. Safe for concurrent use.
type TempFiles struct {
	dir string

	mu    sync.Mutex
	paths []string
}

func NewTempFiles(dir string) *TempFiles {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempFiles{dir: dir}
}

// Track registers an existing path for removal.
func (t *TempFiles) Track(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, path)
}

// Create returns a fresh tracked path in the temp directory with the given extension.
func (t *TempFiles) Create(ext string) string {
	path := filepath.Join(t.dir, uuid.New().String()+ext)
	t.Track(path)
	return path
}

// tracked returns a copy of the tracked paths.
func (t *TempFiles) tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup removes every tracked file. Missing files are ignored.
func (t *TempFiles) Cleanup() {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("[Cleanup] Failed to remove temp file")
		}
	}
}
