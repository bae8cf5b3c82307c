// Package depdb persists the dependency graph's node set, configurations,
// last successful stamps, and discovered dynamic dependency edges between
// runs (spec §3 "Dependency DB", §6 "Persisted files"). Grounded on the
// teacher's internal/build package, which likewise round-trips a content
// fingerprint alongside a node's resolved dependency list to a file on
// disk between invocations.
package depdb

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/graph"
)

// magic identifies a depdb snapshot file; version is bumped whenever the
// on-disk layout changes incompatibly (spec §6 "versioned header").
const (
	magic         = "FDDB"
	currentVersion = 1
)

// ErrIncompatibleVersion is returned by Load when the file's version byte
// does not match currentVersion. Callers must treat this as "no usable
// prior state" and force a full rebuild (spec §6).
var ErrIncompatibleVersion = xerrors.New("depdb: incompatible snapshot version")

// Save serializes g's current node set into a versioned snapshot written to w.
// Static edges are re-derived from configuration by the external loader and
// are not persisted here; only per-node stamps and discovered dynamic
// dependency edges are (spec §4.2's Load/Save split between configuration
// and discovered state).
func Save(w io.Writer, g *graph.Graph) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("writing depdb magic: %w", err))
	}
	if err := bw.WriteByte(currentVersion); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("writing depdb version: %w", err))
	}

	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	if err := writeUint32(bw, uint32(len(nodes))); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := writeNode(bw, g, n); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("flushing depdb: %w", err))
	}
	return nil
}

func writeNode(w *bufio.Writer, g *graph.Graph, n *graph.Node) error {
	if err := writeString(w, n.Name); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(n.Type)); err != nil {
		return err
	}
	if _, err := w.Write(n.SourceContentStamp[:]); err != nil {
		return forgeerr.New(forgeerr.IOError, n.Name, xerrors.Errorf("writing source stamp: %w", err))
	}

	if err := writeUint32(w, uint32(len(n.Outputs))); err != nil {
		return err
	}
	for _, o := range n.Outputs {
		if err := writeString(w, o); err != nil {
			return err
		}
		stamp := n.OutputStamps[o]
		if _, err := w.Write(stamp[:]); err != nil {
			return forgeerr.New(forgeerr.IOError, n.Name, xerrors.Errorf("writing output stamp: %w", err))
		}
	}

	dyn := g.Deps(n, graph.Dynamic)
	if err := writeUint32(w, uint32(len(dyn))); err != nil {
		return err
	}
	for _, d := range dyn {
		if err := writeString(w, d.Name); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a snapshot written by Save. The caller is responsible for
// constructing Nodes via graph.FindOrCreate with the correct configuration
// before or after calling Load; Load populates stamps and re-establishes
// dynamic dependency edges for nodes that already exist in g, and skips
// records whose name is not present in g (spec §4.2: "Load rehydrates
// nodes" assumes the configuration loader has already created them).
func Load(r io.Reader, g *graph.Graph) error {
	br := bufio.NewReader(r)

	gotMagic := make([]byte, len(magic))
	if _, err := io.ReadFull(br, gotMagic); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading depdb magic: %w", err))
	}
	if string(gotMagic) != magic {
		return forgeerr.New(forgeerr.ConfigError, "", xerrors.Errorf("%w: bad magic", ErrIncompatibleVersion))
	}
	version, err := br.ReadByte()
	if err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading depdb version: %w", err))
	}
	if version != currentVersion {
		return forgeerr.New(forgeerr.ConfigError, "", xerrors.Errorf("%w: got %d want %d", ErrIncompatibleVersion, version, currentVersion))
	}

	count, err := readUint32(br)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := readNode(br, g); err != nil {
			return err
		}
	}
	return nil
}

func readNode(r *bufio.Reader, g *graph.Graph) error {
	name, err := readString(r)
	if err != nil {
		return err
	}
	typ, err := readUint32(r)
	if err != nil {
		return err
	}
	var stamp fingerprint.Stamp
	if _, err := io.ReadFull(r, stamp[:]); err != nil {
		return forgeerr.New(forgeerr.IOError, name, xerrors.Errorf("reading source stamp: %w", err))
	}

	outCount, err := readUint32(r)
	if err != nil {
		return err
	}
	outputs := make([]string, 0, outCount)
	outputStamps := make(map[string]fingerprint.Stamp, outCount)
	for i := uint32(0); i < outCount; i++ {
		o, err := readString(r)
		if err != nil {
			return err
		}
		var os fingerprint.Stamp
		if _, err := io.ReadFull(r, os[:]); err != nil {
			return forgeerr.New(forgeerr.IOError, name, xerrors.Errorf("reading output stamp: %w", err))
		}
		outputs = append(outputs, o)
		outputStamps[o] = os
	}

	dynCount, err := readUint32(r)
	if err != nil {
		return err
	}
	dyn := make([]string, 0, dynCount)
	for i := uint32(0); i < dynCount; i++ {
		target, err := readString(r)
		if err != nil {
			return err
		}
		dyn = append(dyn, target)
	}

	n, ok := g.Lookup(name)
	if !ok {
		// Node not (yet) created by the configuration loader; this entry is
		// stale (the node was removed from the configuration) and is dropped.
		return nil
	}
	if n.Type != graph.Type(typ) {
		return forgeerr.New(forgeerr.ConfigError, name, xerrors.Errorf("node type changed since last run"))
	}
	n.SourceContentStamp = stamp
	n.Outputs = outputs
	n.OutputStamps = outputStamps

	for _, targetName := range dyn {
		target, ok := g.Lookup(targetName)
		if !ok {
			target, err = g.FindOrCreate(targetName, graph.File, nil)
			if err != nil {
				return err
			}
		}
		if err := g.AddDependency(n, target, graph.Dynamic); err != nil {
			return err
		}
	}
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("writing uint32: %w", err))
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading uint32: %w", err))
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("writing string: %w", err))
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("reading string: %w", err))
	}
	return string(buf), nil
}
