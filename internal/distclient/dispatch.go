package distclient

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/wire"
)

// MaxAttempts is K in spec §4.7: "A Job is re-dispatched at most K times
// (default K=3); after exhaustion, the Job is executed locally."
const MaxAttempts = 3

// DefaultCooldown is how long a Remote is excluded from selection after a
// connection loss or timeout (spec §4.7 "marks the worker lost for a
// cooldown interval").
const DefaultCooldown = 30 * time.Second

// Dialer opens a fresh connection to a Remote. Separated from Client so
// tests can substitute net.Pipe-backed pairs for a real net.Dial.
type Dialer func(ctx context.Context, remote *Remote) (io.ReadWriteCloser, error)

// Client is the Distribution Client of spec §4.7: it selects a Remote per
// Job, dispatches it over internal/wire, services manifest/file sync
// requests for tools the remote lacks, and retries up to MaxAttempts
// before telling its caller to fall back to local execution.
type Client struct {
	Remotes  []*Remote
	Tools    ToolFiles
	Dial     Dialer
	Cooldown time.Duration
}

// ErrRunLocally is returned by Dispatch once a Job has exhausted
// MaxAttempts remote dispatches, or when no Remote is eligible to take it;
// the caller (internal/coordinator) must then execute it locally (spec
// §4.7 "after exhaustion, the Job is executed locally").
var ErrRunLocally = xerrors.New("distclient: exhausted remote attempts, run locally")

// Dispatch attempts to run job on an eligible Remote, retrying against a
// different remote on connection loss or timeout up to MaxAttempts times.
func (c *Client) Dispatch(ctx context.Context, job *graph.Job) (wire.MsgJobResult, error) {
	cooldown := c.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	var lastErr error
	for job.Attempts() < MaxAttempts {
		if ctx.Err() != nil {
			return wire.MsgJobResult{}, forgeerr.New(forgeerr.Cancelled, job.Node.Name, ctx.Err())
		}

		remote, err := SelectRemote(c.Remotes, job.ToolID, job.Tags)
		if err != nil {
			return wire.MsgJobResult{}, forgeerr.New(forgeerr.TimeoutError, job.Node.Name, xerrors.Errorf("%w: %v", ErrRunLocally, err))
		}

		job.RecordAttempt()
		remote.reserve()
		result, err := c.dispatchOnce(ctx, remote, job)
		remote.release()
		if err == nil {
			return result, nil
		}

		lastErr = err
		remote.markLost(cooldown)
	}
	return wire.MsgJobResult{}, forgeerr.New(forgeerr.TimeoutError, job.Node.Name, xerrors.Errorf("%w: %v", ErrRunLocally, lastErr))
}

func (c *Client) dispatchOnce(ctx context.Context, remote *Remote, job *graph.Job) (wire.MsgJobResult, error) {
	conn, err := c.Dial(ctx, remote)
	if err != nil {
		return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, xerrors.Errorf("dialing %s: %w", remote.Addr, err))
	}
	defer conn.Close()

	body := wire.EncodeJob(wire.MsgJob{
		ToolID:          job.ToolID,
		NodeName:        job.Node.Name,
		Command:         job.Command,
		Env:             job.Env,
		ExpectedOutputs: job.ExpectedOutputs,
	})
	if err := wire.WriteMessage(conn, wire.Job, body, job.Payload); err != nil {
		return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
	}

	return c.serveUntilResult(conn, job)
}

// serveUntilResult answers MsgRequestManifest/MsgRequestFile from the
// remote (spec §4.7 step 3) until MsgJobResult arrives, per spec §5's
// strict request/response ordering ("the client will not issue a second
// MsgRequestFile ... until the prior reply is received" — trivially true
// here since this loop only ever answers one request at a time).
func (c *Client) serveUntilResult(conn io.ReadWriter, job *graph.Job) (wire.MsgJobResult, error) {
	var manifestFiles []InputFile
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
		}
		switch msg.Type {
		case wire.RequestManifest:
			req, err := wire.DecodeRequestManifest(msg.Body)
			if err != nil {
				return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
			}
			reply, files, err := buildManifest(c.Tools, req.ToolID)
			if err != nil {
				return wire.MsgJobResult{}, err
			}
			manifestFiles = files
			if err := wire.WriteMessage(conn, wire.Manifest, wire.EncodeManifest(reply), nil); err != nil {
				return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
			}

		case wire.RequestFile:
			req, err := wire.DecodeRequestFile(msg.Body)
			if err != nil {
				return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
			}
			f, err := fileByID(manifestFiles, req.FileID)
			if err != nil {
				return wire.MsgJobResult{}, err
			}
			body := wire.EncodeFile(wire.MsgFile{ToolID: req.ToolID, FileID: req.FileID})
			if err := wire.WriteMessage(conn, wire.File, body, f.Data); err != nil {
				return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
			}

		case wire.JobResult:
			res, err := wire.DecodeJobResult(msg.Body)
			if err != nil {
				return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, err)
			}
			if len(msg.Payload) > 0 {
				if err := c.materializeOutputs(job, msg.Payload); err != nil {
					return wire.MsgJobResult{}, err
				}
			}
			return res, nil

		default:
			return wire.MsgJobResult{}, forgeerr.New(forgeerr.ProtocolError, job.Node.Name, xerrors.Errorf("unexpected message %v while awaiting job result", msg.Type))
		}
	}
}

// materializeOutputs unpacks the worker's output payload and writes each
// file into place with a temp-then-rename so a crash mid-write never
// leaves a partial output for a later cache hit or build to pick up
// (spec §4.7 step 4: "write outputs atomically (temp+rename)").
func (c *Client) materializeOutputs(job *graph.Job, payload []byte) error {
	files, err := UnpackInputs(payload)
	if err != nil {
		return forgeerr.New(forgeerr.ProtocolError, job.Node.Name, xerrors.Errorf("unpacking job output payload: %w", err))
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.Name), 0755); err != nil {
			return forgeerr.New(forgeerr.IOError, f.Name, err)
		}
		if err := renameio.WriteFile(f.Name, f.Data, os.FileMode(f.Mode)); err != nil {
			return forgeerr.New(forgeerr.IOError, f.Name, xerrors.Errorf("writing output %s: %w", f.Name, err))
		}
	}
	return nil
}
