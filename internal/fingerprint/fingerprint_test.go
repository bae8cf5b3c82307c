package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.c")
	if err := os.WriteFile(fn, []byte("int a(void){return 1;}"), 0644); err != nil {
		t.Fatal(err)
	}
	s1, err := HashFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := HashFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("HashFile not deterministic: %v != %v", s1, s2)
	}
	if s1.IsZero() {
		t.Fatal("HashFile returned zero stamp")
	}
}

func TestHashFileChanges(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.c")
	os.WriteFile(fn, []byte("int a(void){return 1;}"), 0644)
	s1, _ := HashFile(fn)
	os.WriteFile(fn, []byte("int a(void){return 2;}"), 0644)
	s2, _ := HashFile(fn)
	if s1 == s2 {
		t.Fatal("expected different stamps for different content")
	}
}

func TestCombineOrderMatters(t *testing.T) {
	a := HashString("a")
	b := HashString("b")
	if Combine(a, b) == Combine(b, a) {
		t.Fatal("Combine must be order-sensitive")
	}
}

func TestCombineSortedOrderIndependent(t *testing.T) {
	m1 := map[string]Stamp{"a": HashString("1"), "b": HashString("2")}
	m2 := map[string]Stamp{"b": HashString("2"), "a": HashString("1")}
	if CombineSorted(m1) != CombineSorted(m2) {
		t.Fatal("CombineSorted must not depend on map iteration order")
	}
}

func TestHashStringFoldCaseInsensitive(t *testing.T) {
	if HashStringFold("Foo.C") != HashStringFold("foo.c") {
		t.Fatal("HashStringFold must be case-insensitive")
	}
	if HashString("Foo.C") == HashString("foo.c") {
		t.Fatal("HashString must be case-preserving")
	}
}
