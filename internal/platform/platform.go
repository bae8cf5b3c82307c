// Package platform identifies the host platform a worker runs on, carried
// in the Connection handshake (spec §6) so the distribution client and a
// Job's tag expression can reason about which workers a tool or job is
// compatible with. Adapted from the teacher's closed-set architecture map
// in archs.go.
package platform

import "runtime"

// ID is a closed set of platform identifiers exchanged on the wire.
type ID uint8

const (
	Unknown ID = iota
	Linux
	Windows
	Darwin
)

var names = map[ID]string{
	Unknown: "unknown",
	Linux:   "linux",
	Windows: "windows",
	Darwin:  "darwin",
}

func (p ID) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return "unknown"
}

var byGOOS = map[string]ID{
	"linux":   Linux,
	"windows": Windows,
	"darwin":  Darwin,
}

// Current returns the ID for the platform the process is running on.
func Current() ID {
	if id, ok := byGOOS[runtime.GOOS]; ok {
		return id
	}
	return Unknown
}
