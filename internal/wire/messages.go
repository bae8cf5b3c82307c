package wire

import (
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is checked in the initial Connection message; mismatched
// versions close the connection (spec §6).
const ProtocolVersion = 1

// MsgConnection is the client's initial handshake (spec §6 "Connection").
type MsgConnection struct {
	ProtocolVersion uint32
	NumJobsAvailable uint32
	PlatformID      uint32
	HostName        string // truncated to at most 64 bytes on the wire, not padded
}

const hostNameWireLen = 64

func EncodeConnection(m MsgConnection) []byte {
	host := m.HostName
	if len(host) > hostNameWireLen {
		host = host[:hostNameWireLen]
	}
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ProtocolVersion))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NumJobsAvailable))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PlatformID))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, host)
	return b
}

func DecodeConnection(b []byte) (MsgConnection, error) {
	var m MsgConnection
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ProtocolVersion = uint32(v)
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.NumJobsAvailable = uint32(v)
			b = b[n:]
		case 3:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.PlatformID = uint32(v)
			b = b[n:]
		case 4:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.HostName = s
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MsgStatus is a periodic keepalive advertising available job slots
// (spec §6 "Status").
type MsgStatus struct {
	NumJobsAvailable uint32
}

func EncodeStatus(m MsgStatus) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NumJobsAvailable))
	return b
}

func DecodeStatus(b []byte) (MsgStatus, error) {
	var m MsgStatus
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == 1 {
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.NumJobsAvailable = uint32(v)
			b = b[n:]
			continue
		}
		n = skipField(b, typ)
		if n < 0 {
			return m, xerrors.Errorf("skipping unknown field %d", num)
		}
		b = b[n:]
	}
	return m, nil
}

// MsgJob carries a dispatched Job (spec §6 "Job"); ExpectedOutputs is the
// Node's Outputs list, Command is the resolved argv. Input bytes are not
// a field of this body; they travel as the frame's payload (Job.Payload).
type MsgJob struct {
	ToolID          uint64
	NodeName        string
	Command         []string
	Env             []string
	ExpectedOutputs []string
}

func EncodeJob(m MsgJob) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ToolID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.NodeName)
	for _, c := range m.Command {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	for _, e := range m.Env {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, e)
	}
	for _, o := range m.ExpectedOutputs {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, o)
	}
	return b
}

func DecodeJob(b []byte) (MsgJob, error) {
	var m MsgJob
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ToolID = v
			b = b[n:]
		case 2:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.NodeName = s
			b = b[n:]
		case 3:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.Command = append(m.Command, s)
			b = b[n:]
		case 4:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.Env = append(m.Env, s)
			b = b[n:]
		case 5:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.ExpectedOutputs = append(m.ExpectedOutputs, s)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MsgJobResult reports a completed Job (spec §6 "JobResult").
type MsgJobResult struct {
	NodeName string
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
	Outputs  []string // names only; bytes travel in the frame payload
}

func EncodeJobResult(m MsgJobResult) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.NodeName)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.ExitCode)))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Stdout)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Stderr)
	for _, o := range m.Outputs {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, o)
	}
	return b
}

func DecodeJobResult(b []byte) (MsgJobResult, error) {
	var m MsgJobResult
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.NodeName = s
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ExitCode = int32(uint32(v))
			b = b[n:]
		case 3:
			v, n, err := consumeBytes(b)
			if err != nil {
				return m, err
			}
			m.Stdout = append([]byte(nil), v...)
			b = b[n:]
		case 4:
			v, n, err := consumeBytes(b)
			if err != nil {
				return m, err
			}
			m.Stderr = append([]byte(nil), v...)
			b = b[n:]
		case 5:
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.Outputs = append(m.Outputs, s)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MsgRequestManifest asks the client for a tool's file manifest
// (spec §6 "RequestManifest").
type MsgRequestManifest struct {
	ToolID uint64
}

func EncodeRequestManifest(m MsgRequestManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ToolID)
	return b
}

func DecodeRequestManifest(b []byte) (MsgRequestManifest, error) {
	var m MsgRequestManifest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == 1 {
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ToolID = v
			b = b[n:]
			continue
		}
		n = skipField(b, typ)
		if n < 0 {
			return m, xerrors.Errorf("skipping unknown field %d", num)
		}
		b = b[n:]
	}
	return m, nil
}

// ManifestFile is one entry in a tool Manifest (spec §3 "Manifest").
type ManifestFile struct {
	RelPath     string
	Size        uint64
	ContentHash []byte
}

// MsgManifest is the client's reply listing a tool's files
// (spec §6 "Manifest").
type MsgManifest struct {
	ToolID uint64
	Files  []ManifestFile
}

func EncodeManifest(m MsgManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ToolID)
	for _, f := range m.Files {
		var fb []byte
		fb = protowire.AppendTag(fb, 1, protowire.BytesType)
		fb = protowire.AppendString(fb, f.RelPath)
		fb = protowire.AppendTag(fb, 2, protowire.VarintType)
		fb = protowire.AppendVarint(fb, f.Size)
		fb = protowire.AppendTag(fb, 3, protowire.BytesType)
		fb = protowire.AppendBytes(fb, f.ContentHash)

		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b
}

func DecodeManifest(b []byte) (MsgManifest, error) {
	var m MsgManifest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ToolID = v
			b = b[n:]
		case 2:
			fb, n, err := consumeBytes(b)
			if err != nil {
				return m, err
			}
			b = b[n:]
			f, err := decodeManifestFile(fb)
			if err != nil {
				return m, err
			}
			m.Files = append(m.Files, f)
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func decodeManifestFile(b []byte) (ManifestFile, error) {
	var f ManifestFile
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			s, n, err := consumeString(b)
			if err != nil {
				return f, err
			}
			f.RelPath = s
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return f, err
			}
			f.Size = v
			b = b[n:]
		case 3:
			v, n, err := consumeBytes(b)
			if err != nil {
				return f, err
			}
			f.ContentHash = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return f, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return f, nil
}

// MsgRequestFile asks the client for one tool file's bytes
// (spec §6 "RequestFile").
type MsgRequestFile struct {
	ToolID uint64
	FileID uint32
}

func EncodeRequestFile(m MsgRequestFile) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ToolID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.FileID))
	return b
}

func DecodeRequestFile(b []byte) (MsgRequestFile, error) {
	var m MsgRequestFile
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.ToolID = v
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return m, err
			}
			m.FileID = uint32(v)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, xerrors.Errorf("skipping unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MsgFile is the client's reply carrying one tool file's identity
// (spec §6 "File"); the bytes themselves travel in the frame payload, not
// the body, since they may be arbitrarily large.
type MsgFile struct {
	ToolID uint64
	FileID uint32
}

func EncodeFile(m MsgFile) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ToolID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.FileID))
	return b
}

func DecodeFile(b []byte) (MsgFile, error) {
	m, err := DecodeRequestFile(b)
	return MsgFile(m), err
}

// MsgCancelJob is a best-effort request to cancel an in-flight remote Job
// (spec §5 "in-flight remotes may be killed via a best-effort cancel
// message"; not in spec.md's closed message table, a domain-stack
// addition recorded in SPEC_FULL.md §7).
type MsgCancelJob struct {
	NodeName string
}

func EncodeCancelJob(m MsgCancelJob) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.NodeName)
	return b
}

func DecodeCancelJob(b []byte) (MsgCancelJob, error) {
	var m MsgCancelJob
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, xerrors.Errorf("consuming tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == 1 {
			s, n, err := consumeString(b)
			if err != nil {
				return m, err
			}
			m.NodeName = s
			b = b[n:]
			continue
		}
		n = skipField(b, typ)
		if n < 0 {
			return m, xerrors.Errorf("skipping unknown field %d", num)
		}
		b = b[n:]
	}
	return m, nil
}

// skipField consumes and discards one field's value of the given wire
// type, for forward-compatible decoding of unknown fields.
func skipField(b []byte, typ protowire.Type) int {
	return protowire.ConsumeFieldValue(0, typ, b)
}
