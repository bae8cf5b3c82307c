package graph

import (
	"os"
	"path/filepath"

	"github.com/forgebuild/forge/internal/fingerprint"
)

// OSFileStater is the production FileStater: it backs Stat with a real
// os.Stat existence check plus fingerprint.HashFile for content, exactly
// as FileStater's doc comment describes. It also implements DirLister, so
// Directory Nodes fingerprint against the real filesystem too.
type OSFileStater struct{}

func (OSFileStater) Stat(path string) (fingerprint.Stamp, bool) {
	if _, err := os.Stat(path); err != nil {
		return fingerprint.Stamp{}, false
	}
	stamp, err := fingerprint.HashFile(path)
	if err != nil {
		return fingerprint.Stamp{}, false
	}
	return stamp, true
}

// ListDir walks path recursively and returns every regular file beneath
// it, the contained-file set a Directory Node's fingerprint hashes
// (spec §3). It reports !exists if path is missing or not a directory.
func (OSFileStater) ListDir(path string) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, false
	}
	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, false
	}
	return files, true
}
