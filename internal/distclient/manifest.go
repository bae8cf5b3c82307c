package distclient

import (
	"golang.org/x/xerrors"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/wire"
)

// ToolFiles answers manifest and file-content queries for a tool this
// client can serve (spec §4.7 step 3: "the client answers
// MsgManifest(toolId, list)"). A real implementation backs this with the
// tool's installed file set; tests use an in-memory map.
type ToolFiles interface {
	Files(toolID uint64) ([]InputFile, error)
}

// buildManifest computes the MsgManifest reply for toolID, content-hashing
// each file with internal/fingerprint so the remote can diff against what
// it already has cached locally.
func buildManifest(tools ToolFiles, toolID uint64) (wire.MsgManifest, []InputFile, error) {
	files, err := tools.Files(toolID)
	if err != nil {
		return wire.MsgManifest{}, nil, forgeerr.New(forgeerr.ToolSyncError, "", xerrors.Errorf("listing tool %d files: %w", toolID, err))
	}
	m := wire.MsgManifest{ToolID: toolID}
	for _, f := range files {
		stamp := fingerprint.HashBytes(f.Data)
		m.Files = append(m.Files, wire.ManifestFile{
			RelPath:     f.Name,
			Size:        uint64(len(f.Data)),
			ContentHash: stamp[:],
		})
	}
	return m, files, nil
}

// fileByID returns the file at position fileID in the tool's manifest
// ordering, the same ordering buildManifest produced it in, so
// MsgRequestFile(toolId, fileId) unambiguously names one file
// (spec §4.7 step 3).
func fileByID(files []InputFile, fileID uint32) (InputFile, error) {
	if int(fileID) >= len(files) {
		return InputFile{}, forgeerr.New(forgeerr.ToolSyncError, "", xerrors.Errorf("file id %d out of range (%d files)", fileID, len(files)))
	}
	return files[fileID], nil
}
