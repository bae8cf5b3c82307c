// Package includescan parses compiler preprocessed or -showIncludes
// output into a canonical, de-duplicated file list (spec §4.3), feeding
// the graph's dynamic dependency discovery (spec §4.2 "Dynamic
// dependencies"). Grounded on the teacher's attention to MSVC/GCC output
// parsing conventions seen across internal/build's compiler-specific
// build*.go files (e.g. buildcmake.go, buildmeson.go inspect build-tool
// output line-by-line in the same defensive style used here).
package includescan

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
)

// Format identifies which of the three compiler output conventions a
// Node's include scan should parse (spec §4.3). NoScan is the zero value,
// for Node types that don't participate in dynamic dependency discovery.
type Format int

const (
	NoScan Format = iota
	GCCPreprocessed
	MSVCPreprocessed
	MSVCShowIncludes
)

func (f Format) String() string {
	switch f {
	case NoScan:
		return "NoScan"
	case GCCPreprocessed:
		return "GCCPreprocessed"
	case MSVCPreprocessed:
		return "MSVCPreprocessed"
	case MSVCShowIncludes:
		return "MSVCShowIncludes"
	default:
		return "Unknown"
	}
}

// ScanOutput dispatches r to the scanner matching format.
func ScanOutput(format Format, r io.Reader) ([]string, error) {
	switch format {
	case NoScan:
		return nil, nil
	case GCCPreprocessed:
		return ScanGCCPreprocessed(r)
	case MSVCPreprocessed:
		return ScanMSVCPreprocessed(r)
	case MSVCShowIncludes:
		return ScanMSVCShowIncludes(r, "")
	default:
		return nil, forgeerr.New(forgeerr.ConfigError, "", xerrors.Errorf("unknown include scan format %v", format))
	}
}

// MSVCShowIncludesPrefix is the default localized prefix MSVC emits on
// stderr for each included file when invoked with /showIncludes. Real
// builds may need a different localized string; callers building a
// non-English toolchain should pass their own prefix to ScanMSVCShowIncludes.
const MSVCShowIncludesPrefix = "Note: including file:"

// ScanMSVCShowIncludes extracts included file paths from MSVC's
// /showIncludes stderr output.
func ScanMSVCShowIncludes(r io.Reader, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = MSVCShowIncludesPrefix
	}
	var out []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		path := strings.TrimRight(strings.TrimLeft(rest, " \t"), " \t\r")
		if path == "" {
			continue
		}
		addCanonical(&out, seen, path)
	}
	if err := sc.Err(); err != nil {
		return nil, forgeerr.New(forgeerr.BuildError, "", xerrors.Errorf("scanning /showIncludes output: %w", err))
	}
	return out, nil
}

// ScanMSVCPreprocessed extracts included file paths from MSVC /E
// preprocessed output, where each file transition is marked with a
// `#line N "path"` directive.
func ScanMSVCPreprocessed(r io.Reader) ([]string, error) {
	return scanLineDirectives(r, "#line ", nil)
}

// gccSkip is the set of synthetic path markers GCC/Clang preprocessed
// output uses that do not name a real file.
var gccSkip = map[string]bool{
	"<stdin>":       true,
	"<built-in>":    true,
	"<command-line>": true,
}

// ScanGCCPreprocessed extracts included file paths from GCC/Clang
// preprocessed output, where each file transition is marked with a
// `# N "path"` directive (synthetic paths like <built-in> are skipped).
func ScanGCCPreprocessed(r io.Reader) ([]string, error) {
	return scanLineDirectives(r, "# ", gccSkip)
}

func scanLineDirectives(r io.Reader, prefix string, skip map[string]bool) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		path, ok := extractQuoted(line)
		if !ok {
			continue
		}
		if skip[path] {
			continue
		}
		addCanonical(&out, seen, path)
	}
	if err := sc.Err(); err != nil {
		return nil, forgeerr.New(forgeerr.BuildError, "", xerrors.Errorf("scanning preprocessed output: %w", err))
	}
	return out, nil
}

// extractQuoted finds the first double-quoted substring in line.
func extractQuoted(line string) (string, bool) {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(line[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return line[start+1 : start+1+end], true
}

func addCanonical(out *[]string, seen map[string]bool, path string) {
	path = canonicalPath(path)
	if seen[path] {
		return
	}
	seen[path] = true
	*out = append(*out, path)
}
