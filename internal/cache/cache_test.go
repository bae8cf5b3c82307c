package cache

import (
	"sync"
	"testing"

	"github.com/forgebuild/forge/internal/fingerprint"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := ComputeKey(1, []string{"cc", "-c", "a.c"}, fingerprint.HashString("src"))

	files := []File{
		{Name: "a.o", Data: []byte("object bytes here")},
		{Name: "a.d", Data: []byte("dep file bytes")},
	}
	if err := s.Put(key, files); err != nil {
		t.Fatal(err)
	}

	if !s.Contains(key) {
		t.Fatal("expected Contains to report true after Put")
	}

	got, ok, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Get to find the entry")
	}
	if len(got) != 2 || got[0].Name != "a.o" || string(got[0].Data) != "object bytes here" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got[1].Name != "a.d" || string(got[1].Data) != "dep file bytes" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(fingerprint.HashString("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestComputeKeyDeterministic(t *testing.T) {
	k1 := ComputeKey(42, []string{"cc", "-c", "a.c"}, fingerprint.HashString("v1"))
	k2 := ComputeKey(42, []string{"cc", "-c", "a.c"}, fingerprint.HashString("v1"))
	if k1 != k2 {
		t.Fatal("expected identical inputs to produce identical keys")
	}
	k3 := ComputeKey(42, []string{"cc", "-c", "b.c"}, fingerprint.HashString("v1"))
	if k1 == k3 {
		t.Fatal("expected different commands to produce different keys")
	}
}

// TestAtMostOnePutInFlight exercises spec Property 4: for a given key, at
// most one Put is in flight at a time within this process.
func TestAtMostOnePutInFlight(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := fingerprint.HashString("k")

	s.mu.Lock()
	s.inFlight[key] = true
	s.mu.Unlock()

	if err := s.Put(key, []File{{Name: "x", Data: []byte("y")}}); err != ErrPutInFlight {
		t.Fatalf("expected ErrPutInFlight, got %v", err)
	}

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Put(key, []File{{Name: "x", Data: []byte("y")}})
		}()
	}
	wg.Wait()
	close(errs)
	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes == 0 {
		t.Fatal("expected at least one concurrent Put to succeed")
	}
}
