package tagmatch

import "testing"

func mustParseSet(t *testing.T, expr string) Set {
	t.Helper()
	s, err := ParseSet(expr)
	if err != nil {
		t.Fatalf("ParseSet(%q): %v", expr, err)
	}
	return s
}

func TestPlainKey(t *testing.T) {
	w := mustParseSet(t, "os=linux cpu=avx2")
	j := mustParseSet(t, "cpu")
	ok, err := Matches(w, j)
	if !ok || err != nil {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
}

func TestKeyValue(t *testing.T) {
	w := mustParseSet(t, "os=linux")
	j := mustParseSet(t, "os=linux")
	if ok, _ := Matches(w, j); !ok {
		t.Fatal("expected match")
	}
	j2 := mustParseSet(t, "os=windows")
	if ok, err := Matches(w, j2); ok || err == nil {
		t.Fatal("expected mismatch")
	}
}

func TestInvertedKey(t *testing.T) {
	w := mustParseSet(t, "os=linux")
	j := mustParseSet(t, "!gpu")
	if ok, _ := Matches(w, j); !ok {
		t.Fatal("expected match: worker has no gpu tag")
	}
	j2 := mustParseSet(t, "!os")
	if ok, _ := Matches(w, j2); ok {
		t.Fatal("expected mismatch: worker has an os tag")
	}
}

func TestInvertedValue(t *testing.T) {
	w := mustParseSet(t, "os=linux")
	j := mustParseSet(t, "os=!windows")
	if ok, _ := Matches(w, j); !ok {
		t.Fatal("expected match: os is not windows")
	}
	j2 := mustParseSet(t, "os=!linux")
	if ok, _ := Matches(w, j2); ok {
		t.Fatal("expected mismatch: os is linux")
	}
}

func TestDoubleInversionCancels(t *testing.T) {
	w := mustParseSet(t, "os=linux")
	a := mustParseSet(t, "!os=!linux")
	b := mustParseSet(t, "os=linux")
	okA, _ := Matches(w, a)
	okB, _ := Matches(w, b)
	if okA != okB {
		t.Fatalf("double inversion should cancel: %v != %v", okA, okB)
	}
}

func TestGlob(t *testing.T) {
	w := mustParseSet(t, "cpu=avx2")
	j := mustParseSet(t, "cpu=avx*")
	if ok, _ := Matches(w, j); !ok {
		t.Fatal("expected glob match")
	}
}

func TestConjunction(t *testing.T) {
	w := mustParseSet(t, "os=linux")
	j := mustParseSet(t, "os=linux cpu=avx2")
	if ok, _ := Matches(w, j); ok {
		t.Fatal("expected mismatch: worker lacks cpu tag")
	}
}

func TestIdempotentCanonicalize(t *testing.T) {
	w := mustParseSet(t, "os=linux cpu=avx2")
	j := mustParseSet(t, "cpu=avx2 os=linux")
	a, _ := Matches(w, j)
	b, _ := Matches(w, j.Canonicalize())
	if a != b {
		t.Fatal("Matches(W, J) must equal Matches(W, canonicalize(J))")
	}
}
