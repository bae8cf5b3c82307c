package integration

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/forgebuild/forge/internal/distclient"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/tagmatch"
	"github.com/forgebuild/forge/internal/wire"
	"github.com/forgebuild/forge/internal/workerd"
)

// recordingConn wraps one half of a net.Pipe and appends the Type of
// every message-framing header it sees pass through Write to a sequence
// shared (via seq) with the conn wrapping the pipe's other half, letting
// a test observe the single global order messages crossed the wire in,
// regardless of which side sent them.
type recordingConn struct {
	net.Conn
	mu  *sync.Mutex
	seq *[]wire.Type
}

func (c *recordingConn) Write(p []byte) (int, error) {
	if len(p) == 16 { // a bare header write, per wire.header.encode
		c.mu.Lock()
		*c.seq = append(*c.seq, wire.Type(p[0]))
		c.mu.Unlock()
	}
	return c.Conn.Write(p)
}

func newRecordingPipe() (io.ReadWriteCloser, io.ReadWriteCloser, func() []wire.Type) {
	a, b := net.Pipe()
	var mu sync.Mutex
	var seq []wire.Type
	return &recordingConn{Conn: a, mu: &mu, seq: &seq},
		&recordingConn{Conn: b, mu: &mu, seq: &seq},
		func() []wire.Type {
			mu.Lock()
			defer mu.Unlock()
			return append([]wire.Type(nil), seq...)
		}
}

type staticTools map[uint64][]distclient.InputFile

func (m staticTools) Files(toolID uint64) ([]distclient.InputFile, error) { return m[toolID], nil }

func distJob(t *testing.T, toolID uint64, tags tagmatch.Set) *graph.Job {
	t.Helper()
	g := graph.New()
	n, err := g.FindOrCreate("obj", graph.Object, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &graph.Job{
		Node:   n,
		ToolID: toolID,
		// The real compiler invocation is resolved by an external
		// configuration loader (spec §1 Non-goals); /bin/true stands in
		// for "the tool ran and exited 0" without depending on a real
		// toolchain being installed in the test environment.
		Command: []string{"/bin/true"},
		Tags:    tags,
	}
}

// TestScenario5RemoteDispatchSyncsMissingTool drives a real distclient.Client
// against a real workerd.Server over a recording net.Pipe and asserts the
// exact wire sequence of a Job dispatched to a worker that is missing the
// tool's two input files.
func TestScenario5RemoteDispatchSyncsMissingTool(t *testing.T) {
	clientConn, serverConn, sequence := newRecordingPipe()
	defer clientConn.Close()

	srv := &workerd.Server{
		Pool:    workerd.NewPool(1),
		Tools:   workerd.NewToolStore(t.TempDir()),
		TmpRoot: t.TempDir(),
	}
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(serverConn) }()

	tools := staticTools{
		7: {
			{Name: "cc1", Mode: 0755, Data: []byte("compiler-binary")},
			{Name: "cc1plugin.so", Mode: 0644, Data: []byte("plugin-bytes")},
		},
	}
	remote := distclient.NewRemote("worker1", nil)
	remote.UpdateStatus(1, time.Millisecond)
	c := &distclient.Client{
		Remotes: []*distclient.Remote{remote},
		Tools:   tools,
		Dial: func(ctx context.Context, r *distclient.Remote) (io.ReadWriteCloser, error) {
			return clientConn, nil
		},
	}

	job := distJob(t, 7, nil)
	res, err := c.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ServeConn: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	want := []wire.Type{
		wire.Job,
		wire.RequestManifest,
		wire.Manifest,
		wire.RequestFile,
		wire.File,
		wire.RequestFile,
		wire.File,
		wire.JobResult,
	}
	got := sequence()
	if len(got) != len(want) {
		t.Fatalf("sequence length: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence[%d]: got %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}

	if !srv.Tools.Have(7, "cc1", fingerprintHash(t, "compiler-binary")) {
		t.Fatal("expected cc1 to be synced")
	}
	if !srv.Tools.Have(7, "cc1plugin.so", fingerprintHash(t, "plugin-bytes")) {
		t.Fatal("expected cc1plugin.so to be synced")
	}
}

// TestScenario6WorkerSelectionUnderTagExpression wires two workers, one
// tagged {os=linux,cpu=avx2} and one tagged {os=linux}, and asserts that a
// Job requiring {cpu=avx2} is only ever dispatched to (and only ever
// dials) the worker that satisfies the tag expression.
func TestScenario6WorkerSelectionUnderTagExpression(t *testing.T) {
	avx2 := distclient.NewRemote("w1-avx2", mustParseTags(t, "os=linux cpu=avx2"))
	avx2.UpdateStatus(4, time.Millisecond)
	plain := distclient.NewRemote("w2-plain", mustParseTags(t, "os=linux"))
	plain.UpdateStatus(4, time.Millisecond)

	clientConn, serverConn, _ := newRecordingPipe()
	defer clientConn.Close()

	srv := &workerd.Server{
		Pool:    workerd.NewPool(1),
		Tools:   workerd.NewToolStore(t.TempDir()),
		TmpRoot: t.TempDir(),
	}
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(serverConn) }()

	var dialedMu sync.Mutex
	var dialed []string
	c := &distclient.Client{
		Remotes: []*distclient.Remote{avx2, plain},
		Tools:   staticTools{},
		Dial: func(ctx context.Context, r *distclient.Remote) (io.ReadWriteCloser, error) {
			dialedMu.Lock()
			dialed = append(dialed, r.Addr)
			dialedMu.Unlock()
			return clientConn, nil
		},
	}

	job := distJob(t, 0, mustParseTags(t, "cpu=avx2"))
	res, err := c.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ServeConn: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(dialed) != 1 || dialed[0] != "w1-avx2" {
		t.Fatalf("expected only w1-avx2 to ever be dialed, got %v", dialed)
	}
}

func mustParseTags(t *testing.T, expr string) tagmatch.Set {
	t.Helper()
	set, err := tagmatch.ParseSet(expr)
	if err != nil {
		t.Fatal(err)
	}
	return set
}
