package distclient

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
)

// InputFile is one content-embedded input shipped alongside a Job
// (spec §4.7 step 2: "the input files needed (content-embedded)").
type InputFile struct {
	Name string
	Mode uint32 // permission bits, per cpio.FileMode
	Data []byte
}

// PackInputs archives files into a cpio stream (grounded on
// cmd/distri/initrd.go's initrdWriter.mirror, which writes one
// cpio.Header plus body per file through a *cpio.Writer) and compresses
// the archive with pgzip before it travels as a Job payload, so transfer
// cost scales with compressed size rather than raw input size.
func PackInputs(files []InputFile) ([]byte, error) {
	var ws writerseeker.WriterSeeker
	cw := cpio.NewWriter(&ws)
	for _, f := range files {
		if err := cw.WriteHeader(&cpio.Header{
			Name: f.Name,
			Mode: cpio.FileMode(f.Mode),
			Size: int64(len(f.Data)),
		}); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, f.Name, xerrors.Errorf("writing cpio header: %w", err))
		}
		if _, err := cw.Write(f.Data); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, f.Name, xerrors.Errorf("writing cpio body: %w", err))
		}
	}
	if err := cw.Close(); err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("closing cpio archive: %w", err))
	}

	archive, err := ioutil.ReadAll(ws.Reader())
	if err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading packed archive: %w", err))
	}

	var gzw writerseeker.WriterSeeker
	zw := pgzip.NewWriter(&gzw)
	if _, err := zw.Write(archive); err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("compressing archive: %w", err))
	}
	if err := zw.Close(); err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("closing compressor: %w", err))
	}
	compressed, err := ioutil.ReadAll(gzw.Reader())
	if err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading compressed archive: %w", err))
	}
	return compressed, nil
}

// UnpackInputs reverses PackInputs: decompress then read cpio entries
// back out, the worker-side counterpart of packing (spec §4.7: the
// client-embedded inputs travel to the remote inside the Job payload).
func UnpackInputs(compressed []byte) ([]InputFile, error) {
	zr, err := pgzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("opening compressed archive: %w", err))
	}
	defer zr.Close()

	cr := cpio.NewReader(zr)
	var out []InputFile
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading cpio entry: %w", err))
		}
		data, err := ioutil.ReadAll(cr)
		if err != nil {
			return nil, forgeerr.New(forgeerr.IOError, hdr.Name, xerrors.Errorf("reading cpio body: %w", err))
		}
		out = append(out, InputFile{Name: hdr.Name, Mode: uint32(hdr.Mode.Perm()), Data: data})
	}
	return out, nil
}
