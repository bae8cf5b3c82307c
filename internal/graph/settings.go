package graph

import "github.com/forgebuild/forge/internal/forgeerr"
import "golang.org/x/xerrors"

// SettingsPayload is the shared configuration a Settings node carries:
// environment variables and compiler/linker flags that other nodes may
// reference by name instead of repeating them. Supplemented from
// original_source/ (FASTBuild's SLNNode/VCXProjectNode imply per-node
// settings shared by reference); spec.md's Non-goals do not exclude this,
// only project-file generation itself.
type SettingsPayload struct {
	Environment map[string]string
	Flags       []string
}

// ResolveSettings looks up the Settings node named ref and returns its
// payload. It is an error
// for a non-Settings node to be referenced, or for the name to be absent.
func (gr *Graph) ResolveSettings(ref string) (*SettingsPayload, error) {
	n, ok := gr.Lookup(ref)
	if !ok {
		return nil, forgeerr.New(forgeerr.GraphError, ref, xerrors.Errorf("settings node %q not found", ref))
	}
	if n.Type != Settings {
		return nil, forgeerr.New(forgeerr.GraphError, ref, xerrors.Errorf("node %q is not a Settings node (got %v)", ref, n.Type))
	}
	p, ok := n.payload.(*SettingsPayload)
	if !ok || p == nil {
		return nil, forgeerr.New(forgeerr.ConfigError, ref, xerrors.Errorf("settings node %q has no payload", ref))
	}
	return p, nil
}

// SetSettingsPayload attaches a SettingsPayload to a Settings-typed Node.
func (gr *Graph) SetSettingsPayload(n *Node, p *SettingsPayload) error {
	if n.Type != Settings {
		return forgeerr.New(forgeerr.ConfigError, n.Name, xerrors.Errorf("SetSettingsPayload on non-Settings node %q", n.Name))
	}
	n.payload = p
	return nil
}
