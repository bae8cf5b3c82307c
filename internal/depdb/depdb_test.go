package depdb

import (
	"bytes"
	"strings"
	"testing"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/graph"
)

func buildSample(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	src, err := g.FindOrCreate("src/a.c", graph.File, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := g.FindOrCreate("out/a.o", graph.Object, []byte("cc -c src/a.c"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(obj, src, graph.Static); err != nil {
		t.Fatal(err)
	}
	hdr, err := g.FindOrCreate("src/a.h", graph.File, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(obj, hdr, graph.Dynamic); err != nil {
		t.Fatal(err)
	}

	obj.SourceContentStamp = fingerprint.HashString("stamp-1")
	obj.Outputs = []string{"out/a.o"}
	obj.OutputStamps = map[string]fingerprint.Stamp{"out/a.o": fingerprint.HashString("built-1")}
	obj.State = graph.UpToDate
	return g
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := buildSample(t)

	var buf bytes.Buffer
	if err := Save(&buf, g); err != nil {
		t.Fatal(err)
	}

	g2 := graph.New()
	if _, err := g2.FindOrCreate("src/a.c", graph.File, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := g2.FindOrCreate("out/a.o", graph.Object, []byte("cc -c src/a.c")); err != nil {
		t.Fatal(err)
	}

	if err := Load(&buf, g2); err != nil {
		t.Fatal(err)
	}

	obj, ok := g2.Lookup("out/a.o")
	if !ok {
		t.Fatal("expected out/a.o to exist after load")
	}
	if obj.SourceContentStamp != fingerprint.HashString("stamp-1") {
		t.Fatal("source content stamp did not round-trip")
	}
	if len(obj.Outputs) != 1 || obj.Outputs[0] != "out/a.o" {
		t.Fatalf("outputs did not round-trip: %v", obj.Outputs)
	}

	dyn := g2.Deps(obj, graph.Dynamic)
	if len(dyn) != 1 || dyn[0].Name != "src/a.h" {
		t.Fatalf("expected dynamic dep src/a.h to round-trip, got %v", dyn)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	g := graph.New()
	if err := Load(strings.NewReader("NOPE\x01"), g); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadRejectsIncompatibleVersion(t *testing.T) {
	g := graph.New()
	bad := append([]byte(magic), 0xFF)
	if err := Load(bytes.NewReader(bad), g); err == nil {
		t.Fatal("expected error for incompatible version")
	}
}

func TestLoadSkipsStaleNode(t *testing.T) {
	g := buildSample(t)
	var buf bytes.Buffer
	if err := Save(&buf, g); err != nil {
		t.Fatal(err)
	}

	// A fresh graph with none of the nodes created: Load must not error,
	// it simply has nothing to rehydrate into.
	g2 := graph.New()
	if err := Load(&buf, g2); err != nil {
		t.Fatal(err)
	}
}

func TestDump(t *testing.T) {
	g := buildSample(t)
	out, err := Dump(g)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "out/a.o") {
		t.Fatalf("expected dump to mention out/a.o, got:\n%s", out)
	}
}
