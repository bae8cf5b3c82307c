package includescan

import (
	"path"
	"strings"
)

// canonicalPath normalizes a scanned include path: backslashes become
// forward slashes on every platform and the result is cleaned. Graph node
// names are canonicalized separately by internal/graph when the path is
// added to the graph.
func canonicalPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}
