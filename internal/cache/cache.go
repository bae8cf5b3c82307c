// Package cache implements the artifact cache (spec §4.6): a
// content-addressed store keyed by cacheKey = hash(toolId, command,
// sourceContentStamp), holding the output files a Job produced. Entries
// are written with renameio's write-temp-then-rename discipline, the
// exact pattern the teacher uses throughout internal/build and
// cmd/distri for every on-disk write that must never leave behind a
// half-written file.
package cache

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
)

// Key is a cache entry's address, cacheKey = hash(toolId, command,
// sourceContentStamp) per spec §3 "Cache entry".
type Key = fingerprint.Stamp

// File is one output file's name and content, as stored in and retrieved
// from a cache entry.
type File struct {
	Name string
	Data []byte
}

// ComputeKey derives a Key the way spec §3 defines it: an order-sensitive
// combine of the tool identifier, each command-line argument (hashed one
// by one and combined in order), and the Node's source content stamp.
func ComputeKey(toolID uint64, command []string, sourceContentStamp fingerprint.Stamp) Key {
	h := fingerprint.HashBytes(toolIDBytes(toolID))
	for _, arg := range command {
		h = fingerprint.Combine(h, fingerprint.HashString(arg))
	}
	return fingerprint.Combine(h, sourceContentStamp)
}

func toolIDBytes(id uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return b[:]
}

// Store is the on-disk backing store for the artifact cache. Entries are
// sharded by the first two hex characters of their key to avoid a single
// huge directory, matching the teacher's own habit of sharding distri's
// package store by architecture/name rather than dumping everything flat.
type Store struct {
	root string

	mu      sync.Mutex
	inFlight map[Key]bool // enforces spec Property 4: at most one Put(K) in flight per key
}

// NewStore returns a Store rooted at dir. dir is created if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("creating cache root %s: %w", dir, err))
	}
	return &Store{root: dir, inFlight: make(map[Key]bool)}, nil
}

func (s *Store) pathFor(key Key) string {
	hex := key.String()
	return filepath.Join(s.root, hex[:2], hex)
}

// Contains reports whether an entry for key exists without reading it.
func (s *Store) Contains(key Key) bool {
	_, err := os.Stat(s.pathFor(key))
	return err == nil
}

// Put writes files as a single cache entry under key. It enforces spec
// Property 4 (at most one Put per key in flight at a time within this
// process): a concurrent Put for the same key returns ErrPutInFlight
// immediately rather than blocking, since a second identical build
// producing the same key is redundant work the caller should simply skip.
var ErrPutInFlight = xerrors.New("cache: put already in flight for this key")

func (s *Store) Put(key Key, files []File) (err error) {
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return ErrPutInFlight
	}
	s.inFlight[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	body, err := encodeEntry(files)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.pathFor(key))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return forgeerr.New(forgeerr.CacheError, "", xerrors.Errorf("creating shard dir %s: %w", dir, err))
	}
	if err := renameio.WriteFile(s.pathFor(key), body, 0644); err != nil {
		return forgeerr.New(forgeerr.CacheError, "", xerrors.Errorf("writing cache entry: %w", err))
	}
	return nil
}

// Get reads back the files stored under key. ok is false if no entry
// exists; a read/decode failure is reported as a CacheError, which per
// spec §7 is non-fatal and downgrades the caller to a cache miss.
func (s *Store) Get(key Key) (files []File, ok bool, err error) {
	b, err := ioutil.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, forgeerr.New(forgeerr.CacheError, "", xerrors.Errorf("reading cache entry: %w", err))
	}
	files, err = decodeEntry(b)
	if err != nil {
		return nil, false, forgeerr.New(forgeerr.CacheError, "", xerrors.Errorf("decoding cache entry: %w", err))
	}
	return files, true, nil
}

// encodeEntry serializes files into spec §6's literal persisted format:
// count:u32, (size:u64){count}, bytes… — here extended with a name per
// file (not specified by spec's wire-format note, but required to restore
// "original file names" per spec §3's Cache entry metadata) stored in the
// header table as (nameLen:u32, name, size:u64) per file, ahead of all the
// file bodies, and each file's bytes individually zlib-compressed.
func encodeEntry(files []File) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(files))); err != nil {
		return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("encoding cache entry count: %w", err))
	}

	compressed := make([][]byte, len(files))
	for i, f := range files {
		var cb bytes.Buffer
		zw := zlib.NewWriter(&cb)
		if _, err := zw.Write(f.Data); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("compressing cache entry file %s: %w", f.Name, err))
		}
		if err := zw.Close(); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("closing compressor for %s: %w", f.Name, err))
		}
		compressed[i] = cb.Bytes()
	}

	for i, f := range files {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(f.Name))); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("encoding name length: %w", err))
		}
		buf.WriteString(f.Name)
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(compressed[i]))); err != nil {
			return nil, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("encoding size for %s: %w", f.Name, err))
		}
	}
	for _, c := range compressed {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) ([]File, error) {
	r := bytes.NewReader(b)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, xerrors.Errorf("reading count: %w", err)
	}

	type header struct {
		name string
		size uint64
	}
	headers := make([]header, count)
	for i := range headers {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, xerrors.Errorf("reading name length: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, xerrors.Errorf("reading name: %w", err)
		}
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, xerrors.Errorf("reading size: %w", err)
		}
		headers[i] = header{name: string(name), size: size}
	}

	files := make([]File, count)
	for i, h := range headers {
		compressed := make([]byte, h.size)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, xerrors.Errorf("reading file bytes for %s: %w", h.name, err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, xerrors.Errorf("decompressing %s: %w", h.name, err)
		}
		data, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, xerrors.Errorf("reading decompressed %s: %w", h.name, err)
		}
		zr.Close()
		files[i] = File{Name: h.name, Data: data}
	}
	return files, nil
}
