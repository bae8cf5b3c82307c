package workerd

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
)

// ToolStore holds the tool files a worker has already synced from a
// distribution client, keyed by (toolID, relative path). A worker missing
// a file drives the manifest/RequestFile exchange of spec §4.7 step 3 to
// fill it in before a Job that needs it can run.
type ToolStore struct {
	root string
	mu   sync.Mutex
}

// NewToolStore creates a ToolStore rooted at dir, one subdirectory per
// toolID.
func NewToolStore(dir string) *ToolStore {
	return &ToolStore{root: dir}
}

func (t *ToolStore) dir(toolID uint64) string {
	return filepath.Join(t.root, strconv.FormatUint(toolID, 10))
}

// Have reports whether relPath is already present under toolID with
// matching content hash.
func (t *ToolStore) Have(toolID uint64, relPath string, hash []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := ioutil.ReadFile(filepath.Join(t.dir(toolID), relPath))
	if err != nil {
		return false
	}
	sum := fingerprint.HashBytes(data)
	return bytes.Equal(sum[:], hash)
}

// Store writes data for toolID/relPath, creating parent directories as
// needed.
func (t *ToolStore) Store(toolID uint64, relPath string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	full := filepath.Join(t.dir(toolID), relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return forgeerr.New(forgeerr.IOError, relPath, xerrors.Errorf("creating tool dir: %w", err))
	}
	if err := ioutil.WriteFile(full, data, 0755); err != nil {
		return forgeerr.New(forgeerr.IOError, relPath, xerrors.Errorf("writing tool file: %w", err))
	}
	return nil
}

// Dir returns the directory a toolID's files live under, for prefixing a
// rewritten command line.
func (t *ToolStore) Dir(toolID uint64) string {
	return t.dir(toolID)
}
