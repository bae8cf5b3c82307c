package workerd

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/tagmatch"
)

func TestSettingsSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.settings")

	tags, err := tagmatch.ParseSet("os=linux cpu=avx2")
	if err != nil {
		t.Fatal(err)
	}
	want := Settings{Mode: WhenIdle, CPUCount: 8, SandboxPath: "/usr/bin/sandboxfs", Tags: tags}

	if err := SaveSettings(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != want.Mode || got.CPUCount != want.CPUCount || got.SandboxPath != want.SandboxPath {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Tags) != len(want.Tags) {
		t.Fatalf("got %d tags, want %d", len(got.Tags), len(want.Tags))
	}
	for i := range want.Tags {
		if got.Tags[i] != want.Tags[i] {
			t.Fatalf("tag %d: got %+v, want %+v", i, got.Tags[i], want.Tags[i])
		}
	}
}

func TestLoadSettingsRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.settings")
	if err := ioutil.WriteFile(path, []byte("NOPE"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected an error for bad magic")
	}
}
