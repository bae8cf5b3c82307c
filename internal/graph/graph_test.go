package graph

import (
	"testing"

	"github.com/forgebuild/forge/internal/fingerprint"
)

type fakeFS map[string]fingerprint.Stamp

func (f fakeFS) Stat(path string) (fingerprint.Stamp, bool) {
	s, ok := f[path]
	return s, ok
}

func TestFindOrCreateIdempotent(t *testing.T) {
	g := New()
	n1, err := g.FindOrCreate("out/a.o", Object, []byte("cc -c a.c"))
	if err != nil {
		t.Fatal(err)
	}
	n2, err := g.FindOrCreate("out/a.o", Object, []byte("cc -c a.c"))
	if err != nil {
		t.Fatal(err)
	}
	if n1 != n2 {
		t.Fatal("FindOrCreate should return the same Node for the same name")
	}
}

func TestFindOrCreateTypeMismatch(t *testing.T) {
	g := New()
	if _, err := g.FindOrCreate("x", File, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := g.FindOrCreate("x", Object, nil); err == nil {
		t.Fatal("expected ConfigError on type mismatch")
	}
}

func TestCanonicalizeTrimsAndNormalizes(t *testing.T) {
	g := New()
	n1, _ := g.FindOrCreate("  out/a.o  ", Object, nil)
	n2, _ := g.FindOrCreate("out/a.o", Object, nil)
	if n1 != n2 {
		t.Fatal("expected canonicalization to unify whitespace-padded names")
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := New()
	a, _ := g.FindOrCreate("a", Alias, nil)
	b, _ := g.FindOrCreate("b", Alias, nil)
	if err := g.AddDependency(a, b, Static); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(b, a, Static); err == nil {
		t.Fatal("expected cycle rejection")
	}
}

func TestMarkDirtyPropagatesUpward(t *testing.T) {
	g := New()
	a, _ := g.FindOrCreate("a", Alias, nil)
	b, _ := g.FindOrCreate("b", Alias, nil)
	c, _ := g.FindOrCreate("c", Alias, nil)
	// a depends on b, b depends on c
	g.AddDependency(a, b, Static)
	g.AddDependency(b, c, Static)
	a.State, b.State, c.State = UpToDate, UpToDate, UpToDate

	g.MarkDirty(c)

	if a.State != NotProcessed || b.State != NotProcessed || c.State != NotProcessed {
		t.Fatalf("expected all nodes dirty, got a=%v b=%v c=%v", a.State, b.State, c.State)
	}
}

func TestIsUpToDateDetectsSourceChange(t *testing.T) {
	g := New()
	src, _ := g.FindOrCreate("src/a.c", File, nil)
	obj, _ := g.FindOrCreate("out/a.o", Object, []byte("cc -c src/a.c -o out/a.o"))
	g.AddDependency(obj, src, Static)

	fs := fakeFS{
		"src/a.c":  fingerprint.HashString("v1"),
		"out/a.o":  fingerprint.HashString("built-v1"),
	}
	src.State = UpToDate
	obj.SourceContentStamp = g.Fingerprint(obj, fs, map[int64]fingerprint.Stamp{})
	obj.Outputs = []string{"out/a.o"}
	obj.OutputStamps = map[string]fingerprint.Stamp{"out/a.o": fingerprint.HashString("built-v1")}
	obj.State = UpToDate

	if !g.IsUpToDate(obj, fs) {
		t.Fatal("expected up-to-date before any change")
	}

	fs["src/a.c"] = fingerprint.HashString("v2") // edit source
	if g.IsUpToDate(obj, fs) {
		t.Fatal("expected rebuild required after source edit")
	}
}

func TestIsUpToDateMissingOutput(t *testing.T) {
	g := New()
	obj, _ := g.FindOrCreate("out/a.o", Object, []byte("cc"))
	fs := fakeFS{}
	obj.SourceContentStamp = g.Fingerprint(obj, fs, map[int64]fingerprint.Stamp{})
	obj.Outputs = []string{"out/a.o"}
	if g.IsUpToDate(obj, fs) {
		t.Fatal("expected not up-to-date when output file is missing")
	}
}
