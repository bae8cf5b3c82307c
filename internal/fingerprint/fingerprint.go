// Package fingerprint implements the deterministic content hashing that
// underlies Node stamps and fingerprints (spec §4.1). Grounded on the
// teacher's internal/build.Ctx.Digest, which folds a textproto
// configuration and a list of resolved dependency names into a single
// hash.Hash using hash/fnv's 128-bit variant; this package generalizes that
// into a reusable Stamp type and a canonical Combine operation.
package fingerprint

import (
	"bufio"
	"hash"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"strings"
)

// Stamp is a 128-bit content/configuration fingerprint. Equality is strict
// byte-wise equality, per spec §4.1.
type Stamp [16]byte

// IsZero reports whether s is the zero stamp (never produced by Sum, used
// as a sentinel for "not yet computed").
func (s Stamp) IsZero() bool {
	return s == Stamp{}
}

func (s Stamp) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(s)*2)
	for i, b := range s {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// newHash returns a fresh 128-bit FNV-1a hasher, matching the teacher's
// choice in build.Ctx.Digest (hash/fnv, not a cryptographic hash — the
// core only needs collision resistance against accidental input changes,
// not an adversarial attacker).
func newHash() hash.Hash {
	return fnv.New128a()
}

func sumOf(h hash.Hash) Stamp {
	var s Stamp
	copy(s[:], h.Sum(nil))
	return s
}

const chunkSize = 1 << 20 // 1 MiB pages, per spec §4.1 "large files hashed in page-sized chunks"

// HashFile computes the content stamp of a file, reading it in
// page-sized chunks so memory use stays bounded regardless of file size.
// I/O errors surface as-is; per spec §4.1 it is the caller's
// responsibility to classify them as a distinct IOError that fails the
// containing Node without poisoning the stamp (the file is simply hashed
// again on the next run; nothing is cached here).
func HashFile(path string) (Stamp, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stamp{}, err
	}
	defer f.Close()
	h := newHash()
	br := bufio.NewReaderSize(f, chunkSize)
	if _, err := io.Copy(h, br); err != nil {
		return Stamp{}, err
	}
	return sumOf(h), nil
}

// HashBytes computes the stamp of an in-memory byte slice (e.g. a
// serialized per-type settings payload).
func HashBytes(b []byte) Stamp {
	h := newHash()
	h.Write(b)
	return sumOf(h)
}

// HashString computes the case-preserving stamp of s.
func HashString(s string) Stamp {
	return HashBytes([]byte(s))
}

// HashStringFold computes the case-folding stamp of s, required for paths
// on case-insensitive filesystems and for environment variable names on
// platforms where names are case-insensitive (spec §4.1).
func HashStringFold(s string) Stamp {
	return HashBytes([]byte(strings.ToLower(s)))
}

// Combine folds an ordered sequence of stamps into one. Order matters: it
// is the caller's job to pre-sort the inputs when order is not meant to be
// significant (e.g. an unordered dependency set), per spec §4.1 "order
// matters for command/argument lists and does not matter for unordered
// sets (which are sorted first)".
func Combine(stamps ...Stamp) Stamp {
	h := newHash()
	for _, s := range stamps {
		h.Write(s[:])
	}
	return sumOf(h)
}

// CombineSorted canonicalizes an unordered set of (name, stamp) pairs by
// sorting on name before combining, so that the result does not depend on
// the iteration order the caller happened to produce the set in. This is
// used for directory stamps (spec §3: "directories hash the sorted list of
// contained-file stamps") and for unordered dependency sets.
func CombineSorted(named map[string]Stamp) Stamp {
	names := make([]string, 0, len(named))
	for n := range named {
		names = append(names, n)
	}
	sort.Strings(names)
	h := newHash()
	for _, n := range names {
		h.Write([]byte(n))
		s := named[n]
		h.Write(s[:])
	}
	return sumOf(h)
}
