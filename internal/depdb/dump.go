package depdb

import (
	"bytes"
	"sort"
	"text/template"

	"github.com/protocolbuffers/txtpbfmt/parser"
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/graph"
)

// dumpTmpl renders a Graph's nodes as a textproto-shaped debug document.
// It is not a persisted format (Save/Load own that); Dump's output exists
// purely for a human reader (no forge command prints it), matching the
// teacher's own scaffold.go habit of building a small textproto document
// with a template and then re-emitting it canonically via txtpbfmt.
var dumpTmpl = template.Must(template.New("dump").Parse(`{{range .}}node {
  name: "{{.Name}}"
  type: "{{.Type}}"
  state: "{{.State}}"
{{range .Outputs}}  output: "{{.}}"
{{end}}{{range .Deps}}  dep: "{{.}}"
{{end}}}
{{end}}`))

type dumpNode struct {
	Name    string
	Type    string
	State   string
	Outputs []string
	Deps    []string
}

// Dump renders g as a pretty-printed textproto-shaped debug document,
// canonicalized through txtpbfmt's formatter.
func Dump(g *graph.Graph) (string, error) {
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	docs := make([]dumpNode, 0, len(nodes))
	for _, n := range nodes {
		deps := g.AllDeps(n)
		depNames := make([]string, 0, len(deps))
		for _, d := range deps {
			depNames = append(depNames, d.Name)
		}
		sort.Strings(depNames)
		outputs := append([]string(nil), n.Outputs...)
		sort.Strings(outputs)
		docs = append(docs, dumpNode{
			Name:    n.Name,
			Type:    n.Type.String(),
			State:   n.State.String(),
			Outputs: outputs,
			Deps:    depNames,
		})
	}

	var buf bytes.Buffer
	if err := dumpTmpl.Execute(&buf, docs); err != nil {
		return "", forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("rendering debug dump template: %w", err))
	}

	formatted, err := parser.Format(buf.Bytes())
	if err != nil {
		return "", forgeerr.New(forgeerr.IOError, "", xerrors.Errorf("formatting debug dump: %w", err))
	}
	return string(formatted), nil
}
