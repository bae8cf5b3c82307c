package coordinator

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/includescan"
)

type fakeFS map[string]fingerprint.Stamp

func (f fakeFS) Stat(path string) (fingerprint.Stamp, bool) {
	s, ok := f[path]
	return s, ok
}

func testLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBuildSkipsUpToDateNode(t *testing.T) {
	g := graph.New()
	n, err := g.FindOrCreate("alias", graph.Alias, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := fakeFS{}
	n.SourceContentStamp = g.Fingerprint(n, fs, map[int64]fingerprint.Stamp{})
	n.State = graph.UpToDate

	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 2}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 1 || counts.Built != 0 {
		t.Fatalf("expected the node to be skipped as already up-to-date, got %+v", counts)
	}
}

func TestBuildExecutesAndMarksUpToDate(t *testing.T) {
	g := graph.New()
	n, err := g.FindOrCreate("task", graph.Exec, []byte("/bin/true"))
	if err != nil {
		t.Fatal(err)
	}
	fs := fakeFS{}

	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 2}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Built != 1 {
		t.Fatalf("expected the node to be built, got %+v", counts)
	}
	if n.State != graph.UpToDate {
		t.Fatalf("expected node to end UpToDate, got %v", n.State)
	}
	if n.SourceContentStamp.IsZero() {
		t.Fatal("expected a non-zero stamp to be recorded after a successful build")
	}
}

func TestBuildPropagatesFailure(t *testing.T) {
	g := graph.New()
	child, err := g.FindOrCreate("child", graph.Exec, []byte("/bin/false"))
	if err != nil {
		t.Fatal(err)
	}
	parent, err := g.FindOrCreate("parent", graph.Exec, []byte("/bin/true"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(parent, child, graph.Static); err != nil {
		t.Fatal(err)
	}

	fs := fakeFS{}
	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 2}
	counts, err := c.Build(context.Background(), []*graph.Node{parent})
	if err != nil {
		t.Fatal(err)
	}
	if child.State != graph.Failed {
		t.Fatalf("expected child to fail, got %v", child.State)
	}
	if parent.State != graph.Failed {
		t.Fatalf("expected parent to be marked Failed via propagation, got %v", parent.State)
	}
	if counts.Built != 0 {
		t.Fatalf("expected the parent to never actually build, got %+v", counts)
	}
	if counts.Failed != 2 {
		t.Fatalf("expected both nodes counted as failed, got %+v", counts)
	}
}

func TestBuildRespectsCancellation(t *testing.T) {
	g := graph.New()
	n, err := g.FindOrCreate("task", graph.Exec, []byte("/bin/true"))
	if err != nil {
		t.Fatal(err)
	}
	fs := fakeFS{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 1}
	counts, err := c.Build(ctx, []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if n.State != graph.Failed {
		t.Fatalf("expected a pre-cancelled build to mark nodes Failed without running them, got %v", n.State)
	}
	if counts.Built != 0 {
		t.Fatalf("expected nothing to build once cancelled, got %+v", counts)
	}
}

func TestBuildRescansIncludesForObjectNode(t *testing.T) {
	g := graph.New()
	n, err := g.FindOrCreate("a.o", graph.Object, []byte(`echo '# 1 "header.h"'`))
	if err != nil {
		t.Fatal(err)
	}
	n.ScanFormat = includescan.GCCPreprocessed

	fs := fakeFS{}
	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 1}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Built != 1 {
		t.Fatalf("expected the object to build, got %+v", counts)
	}
	if n.State != graph.UpToDate {
		t.Fatalf("expected node to end UpToDate, got %v", n.State)
	}
	deps := g.Deps(n, graph.Dynamic)
	if len(deps) != 1 || deps[0].Name != "header.h" {
		t.Fatalf("expected a discovered dynamic dep on header.h, got %+v", deps)
	}
	if deps[0].Type != graph.File {
		t.Fatalf("expected the discovered dep to be a File node, got %v", deps[0].Type)
	}
}

func TestBuildResolvesDirectoryNodeAndDetectsChange(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	g := graph.New()
	n, err := g.FindOrCreate(dir, graph.Directory, nil)
	if err != nil {
		t.Fatal(err)
	}

	c := &Coordinator{Graph: g, FS: graph.OSFileStater{}, Log: testLogger(), Workers: 1}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 1 || counts.Failed != 0 {
		t.Fatalf("expected the directory node to resolve as up to date, got %+v", counts)
	}
	if n.State != graph.UpToDate || n.SourceContentStamp.IsZero() {
		t.Fatalf("expected a non-zero stamp and UpToDate state, got %v %v", n.State, n.SourceContentStamp)
	}
	first := n.SourceContentStamp

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	n.State = graph.NotProcessed
	if _, err := c.Build(context.Background(), []*graph.Node{n}); err != nil {
		t.Fatal(err)
	}
	if n.SourceContentStamp == first {
		t.Fatal("expected adding a file to the directory to change its fingerprint")
	}
}

func TestBuildFailsDirectoryNodeWhenMissing(t *testing.T) {
	g := graph.New()
	n, err := g.FindOrCreate("/nonexistent/forge-directory-test", graph.Directory, nil)
	if err != nil {
		t.Fatal(err)
	}

	c := &Coordinator{Graph: g, FS: graph.OSFileStater{}, Log: testLogger(), Workers: 1}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if n.State != graph.Failed {
		t.Fatalf("expected a missing directory to fail the node, got %v", n.State)
	}
	if counts.Failed != 1 {
		t.Fatalf("expected one failed node, got %+v", counts)
	}
}

func TestBuildFailsObjectNodeOnUnscannableOutput(t *testing.T) {
	g := graph.New()
	// The command exits 0, but the unknown scan format makes ScanOutput
	// return an error, so the Object node is marked Failed and counted as
	// a failure rather than a build.
	n, err := g.FindOrCreate("b.o", graph.Object, []byte("/bin/true"))
	if err != nil {
		t.Fatal(err)
	}
	n.ScanFormat = includescan.Format(99)

	fs := fakeFS{}
	c := &Coordinator{Graph: g, FS: fs, Log: testLogger(), Workers: 1}
	counts, err := c.Build(context.Background(), []*graph.Node{n})
	if err != nil {
		t.Fatal(err)
	}
	if n.State != graph.Failed {
		t.Fatalf("expected an unparseable scan format to fail the node, got %v", n.State)
	}
	if counts.Built != 0 || counts.Failed != 1 {
		t.Fatalf("expected the failed scan to be counted as a build failure, got %+v", counts)
	}
}
