// Command forge is the Build Coordinator entry point (spec §4.4):
// it loads a dependency database, builds the requested targets, and
// persists the refreshed database for the next run. Modeled on
// cmd/distri's funcmain()-returns-error shape and flag set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/coordinator"
	"github.com/forgebuild/forge/internal/depdb"
	"github.com/forgebuild/forge/internal/distclient"
	"github.com/forgebuild/forge/internal/env"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/tagmatch"
	"github.com/forgebuild/forge/internal/trace"

	"github.com/forgebuild/forge"
)

var (
	depdbPath = flag.String("depdb", "", "path to the dependency database (default: $FORGEROOT/forge.depdb)")
	cacheRoot = flag.String("cache", "", "artifact cache root (default: $FORGE_CACHE, else $HOME/.cache/forge)")
	workers   = flag.Int("j", 0, "number of local worker threads (default: NumCPU)")
	demo      = flag.Bool("demo", false, "seed the graph with a tiny built-in Exec chain instead of requiring a loaded graph (smoke-test convenience; the real graph config language is out of scope for this core, see spec §1 Non-goals)")
	toolDir   = flag.String("tooldir", "", "directory of tool files this client can serve to remotes (default: $FORGEROOT/tools)")
	traceFile = flag.Bool("trace", false, "emit a Chrome trace-event file to $TMPDIR/forge.traces/forge.<pid> (spec §4.9)")
	remotes   remoteFlags
)

func init() {
	flag.Var(&remotes, "remote", "address of a distributable-job worker, optionally tag-constrained as addr=tag1,tag2 (repeatable; omit entirely to disable remote dispatch)")
}

// remoteFlags collects repeated -remote flags into *distclient.Remote
// values, parsing the optional "=tag1,tag2" suffix with tagmatch.
type remoteFlags []*distclient.Remote

func (r *remoteFlags) String() string {
	addrs := make([]string, len(*r))
	for i, rem := range *r {
		addrs[i] = rem.Addr
	}
	return strings.Join(addrs, ",")
}

func (r *remoteFlags) Set(value string) error {
	addr := value
	var tags tagmatch.Set
	if i := strings.IndexByte(value, '='); i >= 0 {
		addr = value[:i]
		var err error
		tags, err = tagmatch.ParseSet(strings.ReplaceAll(value[i+1:], ",", " "))
		if err != nil {
			return fmt.Errorf("parsing tags for -remote %s: %w", value, err)
		}
	}
	rem := distclient.NewRemote(addr, tags)
	rem.UpdateStatus(1, 0) // assume one slot free; no MsgStatus heartbeat updates it later
	*r = append(*r, rem)
	return nil
}

func defaultDepdbPath() string {
	if *depdbPath != "" {
		return *depdbPath
	}
	return env.ForgeRoot + "/forge.depdb"
}

func funcmain() error {
	flag.Parse()

	g := graph.New()

	path := defaultDepdbPath()
	if f, err := os.Open(path); err == nil {
		err := depdb.Load(f, g)
		f.Close()
		if errors.Is(err, depdb.ErrIncompatibleVersion) {
			log.Printf("ignoring dependency database %s, doing a full rebuild: %v", path, err)
		} else if err != nil {
			return fmt.Errorf("loading dependency database %s: %w", path, err)
		}
	}

	targets, err := resolveTargets(g, flag.Args())
	if err != nil {
		return err
	}

	var store *cache.Store
	root := *cacheRoot
	if root == "" {
		root = env.CacheRoot
	}
	if root != "" {
		store, err = cache.NewStore(root)
		if err != nil {
			return fmt.Errorf("opening cache store %s: %w", root, err)
		}
	}

	n := *workers
	if n <= 0 {
		n = env.NumCPU()
	}

	if *traceFile {
		if err := trace.Enable("forge"); err != nil {
			return fmt.Errorf("enabling trace: %w", err)
		}
	}

	var dist *distclient.Client
	if len(remotes) > 0 {
		tools := *toolDir
		if tools == "" {
			tools = env.ForgeRoot + "/tools"
		}
		dist = &distclient.Client{
			Remotes: remotes,
			Tools:   distclient.DirToolFiles{Root: tools},
			Dial:    distclient.NetDialer(),
		}
	}

	c := &coordinator.Coordinator{
		Graph:   g,
		FS:      graph.OSFileStater{},
		Cache:   store,
		Log:     log.New(os.Stderr, "forge: ", log.LstdFlags),
		Workers: n,
		Dist:    dist,
	}

	ctx, cancel := forge.InterruptibleContext()
	defer cancel()

	counts, err := c.Build(ctx, targets)
	if err != nil {
		return err
	}
	log.Printf("build complete: %+v", counts)

	if err := os.MkdirAll(env.ForgeRoot, 0755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("saving dependency database: %w", err)
	}
	defer out.Close()
	if err := depdb.Save(out, g); err != nil {
		return fmt.Errorf("saving dependency database: %w", err)
	}

	if counts.Failed > 0 {
		return fmt.Errorf("%d node(s) failed", counts.Failed)
	}
	return nil
}

// resolveTargets looks up each requested target by name. With -demo it
// instead seeds a minimal two-node Exec chain, since constructing a real
// graph from a build configuration file is this core's external
// collaborator, not something this binary implements (spec §1 Non-goals).
func resolveTargets(g *graph.Graph, names []string) ([]*graph.Node, error) {
	if *demo {
		dep, err := g.FindOrCreate("demo-dep", graph.Exec, []byte("/bin/true"))
		if err != nil {
			return nil, err
		}
		top, err := g.FindOrCreate("demo-top", graph.Exec, []byte("/bin/true"))
		if err != nil {
			return nil, err
		}
		if err := g.AddDependency(top, dep, graph.Static); err != nil {
			return nil, err
		}
		return []*graph.Node{top}, nil
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no targets given (pass target names loaded via -depdb, or -demo for a smoke test)")
	}
	var out []*graph.Node
	for _, name := range names {
		n, ok := g.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("target %q not found in the loaded graph", name)
		}
		out = append(out, n)
	}
	return out, nil
}

func main() {
	if err := funcmain(); err != nil {
		log.Fatal(err)
	}
}
