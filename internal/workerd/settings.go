// Package workerd implements the Worker Runtime server (spec §4.8): the
// per-machine daemon that accepts distributed Jobs, admits them under a
// configured CPU budget, optionally sandboxes them, and reports results
// back over internal/wire. Grounded on the teacher's internal/squashfs
// and internal/batch packages for its persistence and worker-loop idioms
// respectively (see per-file doc comments), since the teacher repo has no
// single worker-daemon analogue of its own.
package workerd

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/tagmatch"
)

// Mode selects how ConfiguredCPUs is computed (spec §4.8 "Two modes").
type Mode uint8

const (
	// Dedicated: all configured CPUs are always available.
	Dedicated Mode = iota
	// WhenIdle: CPUs are available only once local input has been absent
	// and load has been low for a threshold duration.
	WhenIdle
)

func (m Mode) String() string {
	if m == WhenIdle {
		return "WhenIdle"
	}
	return "Dedicated"
}

// Settings is the worker's persisted configuration (spec §4.8
// "State persistence. The worker's settings ... are persisted in a small
// versioned file and hot-reloaded on change").
type Settings struct {
	Mode        Mode
	CPUCount    int
	SandboxPath string // empty disables sandboxing
	Tags        tagmatch.Set
}

const (
	settingsMagic   = "FWS\x00"
	settingsVersion = 1
)

// ErrIncompatibleSettingsVersion is returned by LoadSettings when the on-disk
// settings file was written by an incompatible version of this format.
var ErrIncompatibleSettingsVersion = xerrors.New("workerd: incompatible settings file version")

// SaveSettings persists s to path using write-to-temp-then-rename, the
// same atomic-write discipline internal/cache and internal/depdb use,
// grounded on the teacher's renameio usage throughout its package store.
func SaveSettings(path string, s Settings) error {
	var buf []byte
	buf = append(buf, settingsMagic...)
	buf = appendUint8(buf, settingsVersion)
	buf = appendUint8(buf, uint8(s.Mode))
	buf = appendUint32(buf, uint32(s.CPUCount))
	buf = appendString(buf, s.SandboxPath)
	buf = appendUint32(buf, uint32(len(s.Tags)))
	for _, t := range s.Tags {
		buf = appendBool(buf, t.KeyInverted)
		buf = appendString(buf, t.Key)
		buf = appendBool(buf, t.ValueInverted)
		buf = appendString(buf, t.Value)
	}
	if err := renameio.WriteFile(path, buf, 0644); err != nil {
		return forgeerr.New(forgeerr.IOError, path, xerrors.Errorf("writing settings: %w", err))
	}
	return nil
}

// LoadSettings reads a settings file written by SaveSettings. cmd/forge-worker
// reads it once at startup; nothing reloads it when the file changes.
func LoadSettings(path string) (Settings, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Settings{}, forgeerr.New(forgeerr.IOError, path, err)
	}
	if len(b) < len(settingsMagic)+1 || string(b[:len(settingsMagic)]) != settingsMagic {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, xerrors.New("bad settings file magic"))
	}
	b = b[len(settingsMagic):]
	version, b := b[0], b[1:]
	if version != settingsVersion {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, ErrIncompatibleSettingsVersion)
	}

	var s Settings
	mode, b, err := readUint8(b)
	if err != nil {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
	}
	s.Mode = Mode(mode)

	cpu, b, err := readUint32(b)
	if err != nil {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
	}
	s.CPUCount = int(cpu)

	sandbox, b, err := readString(b)
	if err != nil {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
	}
	s.SandboxPath = sandbox

	count, b, err := readUint32(b)
	if err != nil {
		return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
	}
	for i := uint32(0); i < count; i++ {
		var t tagmatch.Tag
		var kInv, vInv uint8
		kInv, b, err = readUint8(b)
		if err != nil {
			return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
		}
		t.KeyInverted = kInv != 0
		t.Key, b, err = readString(b)
		if err != nil {
			return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
		}
		vInv, b, err = readUint8(b)
		if err != nil {
			return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
		}
		t.ValueInverted = vInv != 0
		t.Value, b, err = readString(b)
		if err != nil {
			return Settings{}, forgeerr.New(forgeerr.ConfigError, path, err)
		}
		s.Tags = append(s.Tags, t)
	}
	return s, nil
}

func appendUint8(b []byte, v uint8) []byte  { return append(b, v) }
func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}
func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendString(b []byte, s string) []byte {
	b = appendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func readUint8(b []byte) (uint8, []byte, error) {
	if len(b) < 1 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return b[0], b[1:], nil
}
func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}
func readString(b []byte) (string, []byte, error) {
	n, b, err := readUint32(b)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(b)) < n {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(b[:n]), b[n:], nil
}
