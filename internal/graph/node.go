// Package graph implements the dependency graph and incremental evaluator
// (spec §3, §4.2): the typed Node model, pre-build/static/dynamic edges,
// the up-to-date decision, and dynamic-dependency replacement after an
// Object build. Nodes live in an arena keyed by an int64 index; edges are
// gonum graph edges over those indices, not pointers (design note §9).
// Grounded on the teacher's internal/batch.go, which builds an analogous
// (flatter) package-dependency DAG with gonum.org/v1/gonum/graph/simple and
// topo.Sort for cycle detection.
package graph

import (
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/includescan"
	"github.com/forgebuild/forge/internal/tagmatch"
)

// Type is the closed set of Node types (spec §3).
type Type int

const (
	File Type = iota
	Directory
	Copy
	CopyDir
	RemoveDir
	Exec
	Compiler
	ObjectList
	Object
	Library
	Dll
	Exe
	CSharp
	Test
	Alias
	Unity
	VSProject
	VSProjectExternal
	Solution
	XCodeProject
	Settings
	TextFile
	Proxy
)

var typeNames = [...]string{
	"File", "Directory", "Copy", "CopyDir", "RemoveDir", "Exec", "Compiler",
	"ObjectList", "Object", "Library", "Dll", "Exe", "CSharp", "Test",
	"Alias", "Unity", "VSProject", "VSProjectExternal", "Solution",
	"XCodeProject", "Settings", "TextFile", "Proxy",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// State is a Node's build state (spec §3). Initial state is NotProcessed;
// terminal states are Failed and UpToDate.
type State int

const (
	NotProcessed State = iota
	Building
	Failed
	UpToDate
)

func (s State) String() string {
	switch s {
	case NotProcessed:
		return "NotProcessed"
	case Building:
		return "Building"
	case Failed:
		return "Failed"
	case UpToDate:
		return "UpToDate"
	default:
		return "Unknown"
	}
}

// StatFlags records the outcome of a Node's most recent evaluation
// (spec §3). It is a bitset so more than one flag can be set at once
// (e.g. Built|CacheStore).
type StatFlags uint16

const (
	StatBuilt StatFlags = 1 << iota
	StatBuiltRemote
	StatCacheHit
	StatCacheMiss
	StatCacheStore
	StatFailed
	StatStatsProcessed
	StatReportProcessed
)

func (f StatFlags) Has(bit StatFlags) bool { return f&bit != 0 }

// EdgeKind classifies a dependency edge (spec §3 "Dependencies (edges)").
type EdgeKind int

const (
	PreBuild EdgeKind = iota
	Static
	Dynamic
)

func (k EdgeKind) String() string {
	switch k {
	case PreBuild:
		return "PreBuild"
	case Static:
		return "Static"
	case Dynamic:
		return "Dynamic"
	default:
		return "Unknown"
	}
}

// Node is a tagged build artifact (spec §3). Node identity is its
// canonicalized Name; the gonum arena index (id) is an implementation
// detail used only to address the node inside the owning Graph.
type Node struct {
	id int64

	Name   string
	Type   Type
	Config []byte // opaque per-type settings; serialized form is part of the fingerprint

	State State

	SourceContentStamp fingerprint.Stamp
	BuildStamp          uint64 // monotonic sequence assigned on successful build
	LastBuildTimeMs     int64

	Stat StatFlags

	// Outputs is the list of output files this Node is expected to produce.
	// A Node is only up-to-date if every one of these exists on disk with
	// its recorded on-disk stamp (spec §4.2).
	Outputs []string

	// OutputStamps records, for each entry in Outputs, the on-disk content
	// stamp observed the last time this Node built successfully.
	OutputStamps map[string]fingerprint.Stamp

	// ScanFormat selects which compiler output convention the coordinator
	// parses for dynamic dependency discovery after this Node builds
	// (spec §4.2 "Dynamic dependencies", §4.3). NoScan (the zero value)
	// opts a Node out of include scanning entirely; only Object Nodes
	// normally set this to anything else.
	ScanFormat includescan.Format

	// Distributable reports whether this Node's build command is
	// position-independent and safe to ship to a remote worker
	// (Glossary: "Distributable Job"). False (the default) keeps a Node
	// local-only.
	Distributable bool

	// ToolID identifies, for a Distributable Node, which synced tool
	// executable its command invokes (spec §4.7 step 3). Meaningless when
	// Distributable is false.
	ToolID uint64

	// Tags constrains which remote worker may accept this Node's Job when
	// Distributable (spec §3, §4.9). Empty matches any worker.
	Tags tagmatch.Set

	// payload holds type-specific data that doesn't belong in the
	// serialized fingerprinted Config (e.g. a Settings node's resolved
	// SettingsPayload, attached after load).
	payload interface{}
}

// ID implements gonum's graph.Node.
func (n *Node) ID() int64 { return n.id }

// DepEdge is a (kind, target, stamp) triple (spec §3 "Dependencies").
// Stamp is captured at the time the dependency was satisfied.
type DepEdge struct {
	Kind   EdgeKind
	Target *Node
	Stamp  fingerprint.Stamp
}
