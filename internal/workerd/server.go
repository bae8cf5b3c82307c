package workerd

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/distclient"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/trace"
	"github.com/forgebuild/forge/internal/wire"
)

// Server is the Worker Runtime of spec §4.8: it admits a Job per free
// Pool slot, syncs any tool files it's missing, runs the command (through
// a sandbox if configured), and reports the result.
type Server struct {
	Pool     *Pool
	Tools    *ToolStore
	Settings Settings
	TmpRoot  string // parent of per-job scratch directories
}

// ServeConn handles one inbound connection carrying a single Job end to
// end, per the slot state machine of spec §4.8. ServeConn reserves a slot
// from s.Pool itself and returns an error when none is free; the listener
// in cmd/forge-worker also checks for a free slot before calling it.
func (s *Server) ServeConn(conn io.ReadWriter) error {
	slot := s.Pool.Reserve()
	if slot == nil {
		return forgeerr.New(forgeerr.ConfigError, "", xerrors.New("no free worker slot"))
	}
	defer slot.Abort() // no-op once a later step has already moved the slot to Free

	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return forgeerr.New(forgeerr.ProtocolError, "", err)
	}
	if msg.Type != wire.Job {
		return forgeerr.New(forgeerr.ProtocolError, "", xerrors.Errorf("expected Job, got %v", msg.Type))
	}
	job, err := wire.DecodeJob(msg.Body)
	if err != nil {
		return forgeerr.New(forgeerr.ProtocolError, "", err)
	}

	if job.ToolID != 0 {
		if err := slot.Transition(Transferring); err != nil {
			return forgeerr.New(forgeerr.ProtocolError, job.NodeName, err)
		}
		if err := s.syncTool(conn, job.ToolID); err != nil {
			return err
		}
	}

	if err := slot.Transition(Running); err != nil {
		return forgeerr.New(forgeerr.ProtocolError, job.NodeName, err)
	}
	jobDir, err := ioutil.TempDir(s.TmpRoot, "forge-job-")
	if err != nil {
		return forgeerr.New(forgeerr.IOError, job.NodeName, err)
	}
	defer os.RemoveAll(jobDir)

	ev := trace.Event(job.NodeName, 0)
	result, payload := s.run(job, jobDir)
	ev.Done()

	if err := slot.Transition(Reporting); err != nil {
		return forgeerr.New(forgeerr.ProtocolError, job.NodeName, err)
	}
	if err := wire.WriteMessage(conn, wire.JobResult, wire.EncodeJobResult(result), payload); err != nil {
		return forgeerr.New(forgeerr.ProtocolError, job.NodeName, err)
	}
	return slot.Transition(Free)
}

// syncTool drives the client side of the manifest exchange (spec §4.7
// step 3): request the manifest, then request only the files this worker
// doesn't already have, one at a time, per spec §5's "will not issue a
// second MsgRequestFile for the same (toolId, fileId) until the prior
// reply is received".
func (s *Server) syncTool(conn io.ReadWriter, toolID uint64) error {
	if err := wire.WriteMessage(conn, wire.RequestManifest, wire.EncodeRequestManifest(wire.MsgRequestManifest{ToolID: toolID}), nil); err != nil {
		return forgeerr.New(forgeerr.ToolSyncError, "", err)
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return forgeerr.New(forgeerr.ToolSyncError, "", err)
	}
	if msg.Type != wire.Manifest {
		return forgeerr.New(forgeerr.ToolSyncError, "", xerrors.Errorf("expected Manifest, got %v", msg.Type))
	}
	man, err := wire.DecodeManifest(msg.Body)
	if err != nil {
		return forgeerr.New(forgeerr.ToolSyncError, "", err)
	}

	for fileID, f := range man.Files {
		if s.Tools.Have(toolID, f.RelPath, f.ContentHash) {
			continue
		}
		if err := wire.WriteMessage(conn, wire.RequestFile, wire.EncodeRequestFile(wire.MsgRequestFile{ToolID: toolID, FileID: uint32(fileID)}), nil); err != nil {
			return forgeerr.New(forgeerr.ToolSyncError, f.RelPath, err)
		}
		reply, err := wire.ReadMessage(conn)
		if err != nil {
			return forgeerr.New(forgeerr.ToolSyncError, f.RelPath, err)
		}
		if reply.Type != wire.File {
			return forgeerr.New(forgeerr.ToolSyncError, f.RelPath, xerrors.Errorf("expected File, got %v", reply.Type))
		}
		if err := s.Tools.Store(toolID, f.RelPath, reply.Payload); err != nil {
			return err
		}
	}
	return nil
}

// run executes job's command, rewritten through the sandbox if one is
// configured (spec §4.8 "Sandboxing. ... remote-supplied commands are
// rewritten to invoke that sandbox with the original command as an
// argument. Outputs must be written to a per-job temporary directory
// which the sandbox enforces as the only writable root").
// run executes job's command and, on top of the Stdout/Stderr/ExitCode
// wire.MsgJobResult carries, reads back every expected output that
// actually got produced and packs it (spec §4.7 step 4: the dispatcher
// must "write outputs atomically (temp+rename)" once they arrive, which
// requires the bytes to actually travel back over the wire) into the
// second return value, the frame payload ServeConn sends alongside the
// result body.
func (s *Server) run(job wire.MsgJob, jobDir string) (wire.MsgJobResult, []byte) {
	argv := s.rewriteForSandbox(job.Command, jobDir)
	if len(argv) == 0 {
		return wire.MsgJobResult{NodeName: job.NodeName, ExitCode: -1, Stderr: []byte("empty command")}, nil
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = jobDir
	if len(job.Env) > 0 {
		cmd.Env = append(os.Environ(), job.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := int32(0)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = int32(exitErr.ExitCode())
		} else {
			exitCode = -1
			stderr.WriteString(err.Error())
		}
	}

	var outputs []string
	var files []distclient.InputFile
	for _, o := range job.ExpectedOutputs {
		full := filepath.Join(jobDir, o)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		data, err := ioutil.ReadFile(full)
		if err != nil {
			continue
		}
		outputs = append(outputs, o)
		files = append(files, distclient.InputFile{Name: o, Mode: uint32(info.Mode().Perm()), Data: data})
	}
	result := wire.MsgJobResult{
		NodeName: job.NodeName,
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Outputs:  outputs,
	}
	if len(files) == 0 {
		return result, nil
	}
	payload, err := distclient.PackInputs(files)
	if err != nil {
		result.ExitCode = -1
		result.Stderr = append(result.Stderr, []byte("\npacking job outputs: "+err.Error())...)
		return result, nil
	}
	return result, payload
}

// rewriteForSandbox prefixes argv with the configured sandbox executable,
// passing the job directory and original command through to it; with no
// sandbox configured, argv passes through unchanged.
func (s *Server) rewriteForSandbox(argv []string, jobDir string) []string {
	if s.Settings.SandboxPath == "" {
		return argv
	}
	rewritten := make([]string, 0, len(argv)+2)
	rewritten = append(rewritten, s.Settings.SandboxPath, jobDir)
	rewritten = append(rewritten, argv...)
	return rewritten
}
