// Package tagmatch implements the key=value tag expression language used
// to decide which worker a Job may run on (spec §4.9). Tags are
// canonicalized by sorting, matching the teacher's distri build config
// canonicalization idiom of sorting unordered sets before hashing/comparing
// (internal/fingerprint.CombineSorted does the analogous thing for stamps).
package tagmatch

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Tag is a single (keyInverted, key, valueInverted, value) predicate, per
// spec §3 "Tags (scheduling predicates)". Value is only meaningful
// (non-empty) for key=value and key=!value forms.
type Tag struct {
	KeyInverted   bool
	Key           string
	ValueInverted bool
	Value         string
}

// Set is an unordered collection of Tags, canonicalized by Canonicalize.
type Set []Tag

// Canonicalize returns a copy of s sorted into a stable order, so that two
// semantically identical sets compare equal regardless of construction
// order (spec §3: "A Tag set is unordered (sorted for canonicalization)").
// Double inversion (both key and value inverted) is folded to a single
// non-inverted form up front, satisfying Property 6 (tag-expression
// idempotence): canonicalizing twice is a no-op.
func (s Set) Canonicalize() Set {
	out := make(Set, len(s))
	copy(out, s)
	for i := range out {
		if out[i].KeyInverted && out[i].ValueInverted {
			out[i].KeyInverted = false
			out[i].ValueInverted = false
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		if out[i].KeyInverted != out[j].KeyInverted {
			return !out[i].KeyInverted
		}
		return !out[i].ValueInverted
	})
	return out
}

// Parse parses a single tag expression token, e.g. "key", "key=value",
// "!key", "key=!value", "os=linux", "cpu=avx*".
func Parse(expr string) (Tag, error) {
	var t Tag
	rest := expr
	if strings.HasPrefix(rest, "!") {
		t.KeyInverted = true
		rest = rest[1:]
	}
	if rest == "" {
		return Tag{}, fmt.Errorf("empty tag key in %q", expr)
	}
	if idx := strings.IndexByte(rest, '='); idx >= 0 {
		t.Key = rest[:idx]
		val := rest[idx+1:]
		if strings.HasPrefix(val, "!") {
			t.ValueInverted = true
			val = val[1:]
		}
		t.Value = val
	} else {
		t.Key = rest
	}
	if t.Key == "" {
		return Tag{}, fmt.Errorf("empty tag key in %q", expr)
	}
	return t, nil
}

// ParseSet parses a whitespace-separated tag expression into a Set.
func ParseSet(expr string) (Set, error) {
	fields := strings.Fields(expr)
	out := make(Set, 0, len(fields))
	for _, f := range fields {
		t, err := Parse(f)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (t Tag) String() string {
	var sb strings.Builder
	if t.KeyInverted {
		sb.WriteByte('!')
	}
	sb.WriteString(t.Key)
	if t.Value != "" || t.ValueInverted {
		sb.WriteByte('=')
		if t.ValueInverted {
			sb.WriteByte('!')
		}
		sb.WriteString(t.Value)
	}
	return sb.String()
}

// MatchError explains which specific Job tag a worker failed to match, for
// use in "no worker found" error reporting (spec §4.9).
type MatchError struct {
	Tag    Tag
	Reason string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("tag %q did not match: %s", e.Tag, e.Reason)
}

// Matches reports whether worker tag set w satisfies job tag expression j,
// interpreted as a conjunction over j (every tag in j must be satisfied).
// On failure, the returned error names the first unsatisfied tag.
func Matches(w Set, j Set) (bool, error) {
	for _, t := range j.Canonicalize() {
		if !matchesOne(w, t) {
			return false, &MatchError{Tag: t, Reason: reason(w, t)}
		}
	}
	return true, nil
}

func matchesOne(w Set, t Tag) bool {
	has, hasMatchingValue := lookup(w, t)
	switch {
	case t.Key == "" :
		return false
	case !t.KeyInverted && t.Value == "" && !t.ValueInverted:
		// plain "key": worker has any tag with that key
		return has
	case t.KeyInverted:
		// "!key": worker has no tag with that key
		return !has
	case !t.ValueInverted:
		// "key=value": worker has key with equal (glob) value
		return hasMatchingValue
	default:
		// "key=!value": worker has key with a value other than the given one
		return has && !hasMatchingValue
	}
}

// lookup reports whether w has any tag matching t.Key (glob), and whether
// at least one such tag also has a value matching t.Value (glob).
func lookup(w Set, t Tag) (has bool, hasMatchingValue bool) {
	for _, wt := range w {
		if !globMatch(t.Key, wt.Key) {
			continue
		}
		has = true
		if t.Value != "" && globMatch(t.Value, wt.Value) {
			hasMatchingValue = true
		}
	}
	return has, hasMatchingValue
}

func globMatch(pattern, s string) bool {
	ok, err := filepath.Match(pattern, s)
	return err == nil && ok
}

func reason(w Set, t Tag) string {
	has, _ := lookup(w, t)
	if !has && !t.KeyInverted {
		return fmt.Sprintf("worker has no tag matching key %q", t.Key)
	}
	if has && t.KeyInverted {
		return fmt.Sprintf("worker has a tag matching key %q, but %q requires its absence", t.Key, t)
	}
	if t.ValueInverted {
		return fmt.Sprintf("worker has key %q with a value matching %q, which %q excludes", t.Key, t.Value, t)
	}
	return fmt.Sprintf("worker has key %q but no matching value for %q", t.Key, t.Value)
}
