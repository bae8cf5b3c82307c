// Package coordinator implements the Build Coordinator (spec §4.4, §5):
// frontier-based graph traversal, longest-pole-first priority dispatch to
// a local worker pool, Failed-state propagation, and a multi-line status
// display. Grounded on the teacher's internal/batch.go scheduler, which
// drives an analogous fixed-worker build loop over a gonum graph with a
// terminal status display refreshed in place; this package generalizes
// that loop into an event-driven frontier scheduler (a node's dependents
// become ready the moment its own build resolves, rather than batch.go's
// simpler "everything with in-degree zero up front" shape) so that
// Failed propagation and per-node cache lookups can be interposed per
// spec §4.2/§4.6.
package coordinator

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/distclient"
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/includescan"
	"github.com/forgebuild/forge/internal/queue"
	"github.com/forgebuild/forge/internal/trace"
)

// Coordinator owns a Graph exclusively for the duration of a Build
// (spec §5 "The graph is owned exclusively by the coordinator thread").
type Coordinator struct {
	Graph   *graph.Graph
	FS      graph.FileStater
	Cache   *cache.Store      // optional; nil disables cache lookups entirely
	Dist    *distclient.Client // optional; nil disables remote dispatch entirely
	Log     *log.Logger
	Workers int

	status *statusBoard
}

type jobResult struct {
	node   *graph.Node
	err    error
	stdout []byte
	stderr []byte
}

// Build builds every Node in targets and everything they transitively
// depend on. It stops enqueueing new work once ctx is cancelled, but lets
// already-dispatched local jobs run to completion (spec §5 "user cancel").
func (c *Coordinator) Build(ctx context.Context, targets []*graph.Node) (graph.Counts, error) {
	stats := &graph.Stats{}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	c.status = newStatusBoard(c.Workers)

	closure := c.closure(targets)
	if len(closure) == 0 {
		return stats.Snapshot(), nil
	}

	pending := make(map[int64]int, len(closure))
	dependents := make(map[int64][]*graph.Node, len(closure))
	inClosure := make(map[int64]bool, len(closure))
	for _, n := range closure {
		inClosure[n.ID()] = true
	}
	for _, n := range closure {
		count := 0
		for _, d := range c.Graph.AllDeps(n) {
			if inClosure[d.ID()] {
				count++
				dependents[d.ID()] = append(dependents[d.ID()], n)
			}
		}
		pending[n.ID()] = count
	}

	q := queue.New(len(closure))
	results := make(chan jobResult, c.Workers)

	var wg sync.WaitGroup
	for i := 0; i < c.Workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, i, q, results)
		}()
	}

	resolved := 0

	var resolve, onResolved func(n *graph.Node)

	resolve = func(n *graph.Node) {
		switch {
		case ctx.Err() != nil:
			n.State = graph.Failed
			stats.RecordFailed()
			onResolved(n)
		case anyDepFailed(c.Graph, n, inClosure):
			n.State = graph.Failed
			stats.RecordFailed()
			onResolved(n)
		case n.Type == graph.File:
			c.resolveFileNode(n, stats)
			onResolved(n)
		case n.Type == graph.Directory:
			c.resolveDirectoryNode(n, stats)
			onResolved(n)
		case c.Graph.IsUpToDate(n, c.FS):
			n.State = graph.UpToDate
			stats.RecordUpToDate()
			onResolved(n)
		case c.tryCacheHit(n):
			n.State = graph.UpToDate
			n.Stat |= graph.StatCacheHit
			stats.RecordCacheHit()
			onResolved(n)
		default:
			c.status.setQueued(n.Name)
			q.Push(graph.NewJob(n))
		}
	}

	onResolved = func(n *graph.Node) {
		resolved++
		for _, dep := range dependents[n.ID()] {
			pending[dep.ID()]--
			if pending[dep.ID()] == 0 {
				resolve(dep)
			}
		}
	}

	for _, n := range closure {
		if pending[n.ID()] == 0 {
			resolve(n)
		}
	}

	for resolved < len(closure) {
		res := <-results
		n := res.node
		if res.err != nil {
			n.State = graph.Failed
			n.Stat |= graph.StatFailed
			stats.RecordFailed()
			c.Log.Printf("build failed: %s: %v\n%s", n.Name, res.err, res.stderr)
		} else {
			n.SourceContentStamp = c.Graph.Fingerprint(n, c.FS, map[int64]fingerprint.Stamp{})
			c.refreshOutputStamps(n)
			if n.Type == graph.Object && !c.rescanIncludes(n, res.stdout, res.stderr) {
				n.State = graph.Failed
				n.Stat |= graph.StatFailed
				stats.RecordFailed()
			} else {
				n.State = graph.UpToDate
				n.Stat |= graph.StatBuilt
				c.tryCacheStore(n, stats)
				stats.RecordBuilt()
			}
		}
		onResolved(n)
	}

	q.Close()
	wg.Wait()
	close(results)

	return stats.Snapshot(), nil
}

// resolveFileNode resolves a leaf File Node directly from disk: it never
// runs a command, it either exists (UpToDate) or doesn't (Failed).
func (c *Coordinator) resolveFileNode(n *graph.Node, stats *graph.Stats) {
	stamp, exists := c.FS.Stat(n.Name)
	if !exists {
		n.State = graph.Failed
		stats.RecordFailed()
		return
	}
	n.SourceContentStamp = stamp
	n.State = graph.UpToDate
	stats.RecordUpToDate()
}

// resolveDirectoryNode resolves a leaf Directory Node directly from disk,
// the same "never runs a command" treatment resolveFileNode gives a File
// Node: its fingerprint is the hash of the sorted list of contained-file
// stamps (spec §3), computed via a FS that implements graph.DirLister. A
// FS with no DirLister support, or a missing/non-directory path, fails
// the Node rather than silently treating it as up to date.
func (c *Coordinator) resolveDirectoryNode(n *graph.Node, stats *graph.Stats) {
	dl, ok := c.FS.(graph.DirLister)
	if !ok {
		n.State = graph.Failed
		stats.RecordFailed()
		return
	}
	if _, exists := dl.ListDir(n.Name); !exists {
		n.State = graph.Failed
		stats.RecordFailed()
		return
	}
	n.SourceContentStamp = c.Graph.Fingerprint(n, c.FS, make(map[int64]fingerprint.Stamp))
	n.State = graph.UpToDate
	stats.RecordUpToDate()
}

// rescanIncludes runs n's configured include scanner over its freshly
// captured build output and atomically replaces its dynamic dependency
// set with the discovered files (spec §4.2 "Dynamic dependencies"). It
// reports false on a scan error, per spec §4.3 "Unparseable or truncated
// compiler output is a fatal scan error on that Node; the Node builds are
// not cached".
func (c *Coordinator) rescanIncludes(n *graph.Node, stdout, stderr []byte) bool {
	if n.ScanFormat == includescan.NoScan {
		return true
	}
	src := stdout
	if n.ScanFormat == includescan.MSVCShowIncludes {
		src = stderr
	}
	paths, err := includescan.ScanOutput(n.ScanFormat, bytes.NewReader(src))
	if err != nil {
		c.Log.Printf("include scan failed for %s: %v", n.Name, err)
		return false
	}
	c.Graph.RemoveDynamicDeps(n)
	for _, p := range paths {
		dep, err := c.Graph.FindOrCreate(p, graph.File, nil)
		if err != nil {
			c.Log.Printf("include scan: %s: %v", p, err)
			continue
		}
		if err := c.Graph.AddDependency(n, dep, graph.Dynamic); err != nil {
			c.Log.Printf("include scan: %s: %v", p, err)
		}
	}
	return true
}

func anyDepFailed(g *graph.Graph, n *graph.Node, inClosure map[int64]bool) bool {
	for _, d := range g.AllDeps(n) {
		if inClosure[d.ID()] && d.State == graph.Failed {
			return true
		}
	}
	return false
}

// closure returns targets plus every Node they transitively depend on.
func (c *Coordinator) closure(targets []*graph.Node) []*graph.Node {
	seen := make(map[int64]bool)
	var out []*graph.Node
	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if seen[n.ID()] {
			return
		}
		seen[n.ID()] = true
		out = append(out, n)
		for _, d := range c.Graph.AllDeps(n) {
			visit(d)
		}
	}
	for _, t := range targets {
		visit(t)
	}
	return out
}

// worker pulls Jobs from q and runs them, reporting the outcome on
// results. Dispatch (remote vs. local) is decided per Job by executeJob;
// a local command is run without wiring it to a cancellable context: an
// in-flight local build is allowed to run to completion after a user
// cancel (spec §5); only resolve's decision to enqueue further work is
// gated on ctx.
func (c *Coordinator) worker(ctx context.Context, slot int, q *queue.Queue, results chan<- jobResult) {
	for {
		job, ok := q.Pop()
		if !ok {
			return
		}
		c.status.update(slot, "building "+job.Node.Name)
		ev := trace.Event(job.Node.Name, slot)
		stdout, stderr, err := c.executeJob(ctx, job)
		ev.Done()
		c.status.update(slot, "idle")
		results <- jobResult{node: job.Node, err: err, stdout: stdout, stderr: stderr}
	}
}

// executeJob runs job on a remote worker when it is Distributable and a
// distclient.Client is configured, falling back to a local child process
// once the client reports distclient.ErrRunLocally (spec §4.7 "after
// exhaustion, the Job is executed locally") or no Client is configured at
// all. A remote run that completes but exits non-zero is reported as a
// BuildError exactly like a failed local run.
func (c *Coordinator) executeJob(ctx context.Context, job *graph.Job) (stdout, stderr []byte, err error) {
	if c.Dist != nil && job.Distributable {
		res, derr := c.Dist.Dispatch(ctx, job)
		if derr == nil {
			job.Node.Stat |= graph.StatBuiltRemote
			if res.ExitCode != 0 {
				return res.Stdout, res.Stderr, forgeerr.New(forgeerr.BuildError, job.Node.Name, xerrors.Errorf("remote exit code %d", res.ExitCode))
			}
			return res.Stdout, res.Stderr, nil
		}
		if !xerrors.Is(derr, distclient.ErrRunLocally) {
			return nil, nil, derr
		}
		c.Log.Printf("%s: remote dispatch exhausted, running locally: %v", job.Node.Name, derr)
	}
	return c.execute(job)
}

func (c *Coordinator) execute(job *graph.Job) (stdout, stderr []byte, err error) {
	if len(job.Command) == 0 {
		return nil, nil, forgeerr.New(forgeerr.BuildError, job.Node.Name, xerrors.New("job has no command"))
	}
	cmd := exec.Command(job.Command[0], job.Command[1:]...)
	if len(job.Env) > 0 {
		cmd.Env = append(os.Environ(), job.Env...)
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if runErr := cmd.Run(); runErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), forgeerr.New(forgeerr.BuildError, job.Node.Name, xerrors.Errorf("%v: %w", cmd.Args, runErr))
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// refreshOutputStamps re-stats n's declared output files after a
// successful build, recording their on-disk stamps for the next run's
// up-to-date check (spec §4.2).
func (c *Coordinator) refreshOutputStamps(n *graph.Node) {
	if n.OutputStamps == nil {
		n.OutputStamps = make(map[string]fingerprint.Stamp)
	}
	for _, o := range n.Outputs {
		if stamp, exists := c.FS.Stat(o); exists {
			n.OutputStamps[o] = stamp
		}
	}
}

// tryCacheHit looks up a cache entry keyed on n's fingerprint as it is
// *right now*, not n.SourceContentStamp, which at this point in resolve
// still holds whatever the previous build stored (IsUpToDate having just
// reported that stamp stale). Keying off the stale stamp would recompute
// the same key a prior, pre-edit build stored under and silently
// materialize that stale output instead of rebuilding, violating spec
// Property 3's no-rebuild invariance. toolID/command come from a real Job
// for n rather than a placeholder, matching spec §3's literal
// cacheKey = hash(toolId, command, sourceContentStamp).
func (c *Coordinator) tryCacheHit(n *graph.Node) bool {
	if c.Cache == nil || len(n.Outputs) == 0 {
		return false
	}
	current := c.Graph.Fingerprint(n, c.FS, make(map[int64]fingerprint.Stamp))
	job := graph.NewJob(n)
	key := cache.ComputeKey(job.ToolID, job.Command, current)
	files, ok, err := c.Cache.Get(key)
	if err != nil || !ok {
		return false
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.Name), 0755); err != nil {
			return false
		}
		if err := os.WriteFile(f.Name, f.Data, 0644); err != nil {
			return false
		}
	}
	n.SourceContentStamp = current
	c.refreshOutputStamps(n)
	return true
}

func (c *Coordinator) tryCacheStore(n *graph.Node, stats *graph.Stats) {
	if c.Cache == nil || len(n.Outputs) == 0 {
		return
	}
	job := graph.NewJob(n)
	key := cache.ComputeKey(job.ToolID, job.Command, n.SourceContentStamp)
	var files []cache.File
	for _, o := range n.Outputs {
		data, err := os.ReadFile(o)
		if err != nil {
			return
		}
		files = append(files, cache.File{Name: o, Data: data})
	}
	if err := c.Cache.Put(key, files); err == nil {
		n.Stat |= graph.StatCacheStore
		stats.RecordCacheStore()
	}
}
