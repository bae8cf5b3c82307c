package distclient

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
)

// NetDialer is the real Dialer used outside of tests: it opens a TCP
// connection to remote.Addr, honoring ctx cancellation during the dial
// itself (spec §4.7 Dialer is "separated from Client so tests can
// substitute net.Pipe-backed pairs for a real net.Dial").
func NetDialer() Dialer {
	var d net.Dialer
	return func(ctx context.Context, remote *Remote) (io.ReadWriteCloser, error) {
		conn, err := d.DialContext(ctx, "tcp", remote.Addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// DirToolFiles answers ToolFiles queries from a local directory tree laid
// out one subdirectory per toolID, the dispatcher-side mirror of
// internal/workerd.ToolStore's worker-side layout: the same tool synced to
// two machines lives at the same relative paths on both.
type DirToolFiles struct {
	Root string
}

// Files walks Root/<toolID> and returns every regular file beneath it as
// an InputFile, relative to that directory.
func (d DirToolFiles) Files(toolID uint64) ([]InputFile, error) {
	dir := filepath.Join(d.Root, strconv.FormatUint(toolID, 10))
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, forgeerr.New(forgeerr.ToolSyncError, dir, err)
	}
	if !info.IsDir() {
		return nil, forgeerr.New(forgeerr.ToolSyncError, dir, xerrors.Errorf("%s is not a directory", dir))
	}

	var files []InputFile
	err = filepath.Walk(dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := ioutil.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, InputFile{Name: rel, Mode: uint32(fi.Mode().Perm()), Data: data})
		return nil
	})
	if err != nil {
		return nil, forgeerr.New(forgeerr.ToolSyncError, dir, err)
	}
	return files, nil
}
