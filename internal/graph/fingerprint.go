package graph

import "github.com/forgebuild/forge/internal/fingerprint"

// FileStater abstracts the platform capability of computing a file's
// current content stamp (spec §9 design note: "Environment lookup belongs
// to a small platform capability passed in"). Tests substitute an
// in-memory implementation; production code backs it with
// fingerprint.HashFile plus os.Stat existence checks.
type FileStater interface {
	// Stat returns the current content stamp of path and whether it
	// exists at all.
	Stat(path string) (stamp fingerprint.Stamp, exists bool)
}

// DirLister abstracts listing the files contained (recursively) within a
// Directory Node, so that its fingerprint can be computed as the hash of
// the sorted list of contained-file stamps (spec §3 "Node types"). Not
// every FileStater needs to implement this: a test fake built for a
// File-only graph simply never has Fingerprint hit the Directory branch
// below. The production FileStater (OSFileStater) implements it.
type DirLister interface {
	ListDir(path string) (files []string, exists bool)
}

// Fingerprint computes the current fingerprint of n: the combination of
// n's own Config and the fingerprint of every element of its static and
// dynamic dependency set (spec §3 invariant). Pre-build deps do not
// contribute, since by the time a Node is considered for fingerprinting its
// pre-build deps have already run to completion and are not part of
// content identity. visited guards against revisiting shared subgraphs
// within one computation (the graph is a DAG, so this is purely an
// optimization, not a correctness requirement).
func (gr *Graph) Fingerprint(n *Node, fs FileStater, visited map[int64]fingerprint.Stamp) fingerprint.Stamp {
	if s, ok := visited[n.ID()]; ok {
		return s
	}
	configStamp := fingerprint.HashBytes(n.Config)

	named := make(map[string]fingerprint.Stamp)
	for _, d := range gr.Deps(n, Static) {
		named[d.Name] = gr.Fingerprint(d, fs, visited)
	}
	for _, d := range gr.Deps(n, Dynamic) {
		named[d.Name] = gr.Fingerprint(d, fs, visited)
	}
	if n.Type == File {
		if s, ok := fs.Stat(n.Name); ok {
			configStamp = fingerprint.Combine(configStamp, s)
		}
	}
	if n.Type == Directory {
		if dl, ok := fs.(DirLister); ok {
			if entries, ok := dl.ListDir(n.Name); ok {
				contained := make(map[string]fingerprint.Stamp, len(entries))
				for _, e := range entries {
					if s, ok := fs.Stat(e); ok {
						contained[e] = s
					}
				}
				configStamp = fingerprint.Combine(configStamp, fingerprint.CombineSorted(contained))
			}
		}
	}
	depsStamp := fingerprint.CombineSorted(named)
	result := fingerprint.Combine(configStamp, depsStamp)
	visited[n.ID()] = result
	return result
}

// IsUpToDate implements the up-to-date decision of spec §4.2: the stored
// fingerprint must equal the recomputed one, every output file must exist
// with its recorded stamp, and every static/dynamic dependency must itself
// be UpToDate.
func (gr *Graph) IsUpToDate(n *Node, fs FileStater) bool {
	if n.SourceContentStamp.IsZero() {
		return false // never built
	}
	current := gr.Fingerprint(n, fs, make(map[int64]fingerprint.Stamp))
	if current != n.SourceContentStamp {
		return false
	}
	for _, out := range n.Outputs {
		stamp, exists := fs.Stat(out)
		if !exists {
			return false
		}
		want, ok := n.OutputStamps[out]
		if !ok || stamp != want {
			return false
		}
	}
	for _, d := range gr.Deps(n, Static) {
		if d.State != UpToDate {
			return false
		}
	}
	for _, d := range gr.Deps(n, Dynamic) {
		if d.State != UpToDate {
			return false
		}
	}
	return true
}
