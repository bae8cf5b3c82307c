// Package forgeerr defines the error kinds the core recognizes (spec §7)
// and how they propagate: IOError/BuildError fail a single Node and
// propagate as Failed state through the graph; network-category errors
// never fail a Node directly, they degrade to retry or local execution;
// ConfigError/GraphError abort the run before any Node is enqueued.
package forgeerr

import "golang.org/x/xerrors"

// Kind classifies an error for propagation purposes.
type Kind int

const (
	_ Kind = iota
	ConfigError
	GraphError
	IOError
	BuildError
	CacheError
	ProtocolError
	TimeoutError
	ToolSyncError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case GraphError:
		return "GraphError"
	case IOError:
		return "IOError"
	case BuildError:
		return "BuildError"
	case CacheError:
		return "CacheError"
	case ProtocolError:
		return "ProtocolError"
	case TimeoutError:
		return "TimeoutError"
	case ToolSyncError:
		return "ToolSyncError"
	case Cancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying error with a Kind, so callers can type-switch
// on propagation behavior without string-matching messages.
type Error struct {
	Kind Kind
	Node string // Node name this error pertains to, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Node != "" {
		return xerrors.Errorf("%s(%s): %w", e.Kind, e.Node, e.Err).Error()
	}
	return xerrors.Errorf("%s: %w", e.Kind, e.Err).Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind, optionally naming the Node
// it pertains to.
func New(kind Kind, node string, err error) *Error {
	return &Error{Kind: kind, Node: node, Err: err}
}

// Fatal reports whether an error of this kind must abort the run before
// any Node is enqueued (ConfigError, GraphError), as opposed to being
// local to a Node or a degrade-and-continue network condition.
func (k Kind) Fatal() bool {
	return k == ConfigError || k == GraphError
}

// FailsNode reports whether an error of this kind marks its Node Failed
// and propagates that status to dependents (IOError, BuildError).
func (k Kind) FailsNode() bool {
	return k == IOError || k == BuildError
}

// Degrades reports whether an error of this kind never fails a Node
// directly and instead causes a retry or fallback to local execution
// (ProtocolError, TimeoutError, ToolSyncError, CacheError).
func (k Kind) Degrades() bool {
	switch k {
	case ProtocolError, TimeoutError, ToolSyncError, CacheError:
		return true
	default:
		return false
	}
}
