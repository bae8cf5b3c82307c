package wire

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestMessageFrameRoundTrip exercises spec Property 5
// (decode(encode(M, P)) = (M, P)) across the full header+body+payload
// framing, independent of any one message body's shape.
func TestMessageFrameRoundTrip(t *testing.T) {
	body := EncodeStatus(MsgStatus{NumJobsAvailable: 3})
	payload := []byte("some payload bytes")

	var buf bytes.Buffer
	if err := WriteMessage(&buf, Status, body, payload); err != nil {
		t.Fatal(err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != Status {
		t.Fatalf("got type %v, want Status", got.Type)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("body mismatch: got %v want %v", got.Body, body)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", got.Payload, payload)
	}
}

func TestMessageFrameNoPayload(t *testing.T) {
	body := EncodeRequestManifest(MsgRequestManifest{ToolID: 7})

	var buf bytes.Buffer
	if err := WriteMessage(&buf, RequestManifest, body, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload != nil {
		t.Fatalf("expected nil payload, got %v", got.Payload)
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	want := MsgConnection{
		ProtocolVersion:  ProtocolVersion,
		NumJobsAvailable: 4,
		PlatformID:       1,
		HostName:         "worker-1.internal",
	}
	got, err := DecodeConnection(EncodeConnection(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJobRoundTrip(t *testing.T) {
	want := MsgJob{
		ToolID:          99,
		NodeName:        "out/a.o",
		Command:         []string{"cc", "-c", "a.c", "-o", "a.o"},
		Env:             []string{"PATH=/usr/bin"},
		ExpectedOutputs: []string{"out/a.o"},
	}
	got, err := DecodeJob(EncodeJob(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJobResultRoundTrip(t *testing.T) {
	want := MsgJobResult{
		NodeName: "out/a.o",
		ExitCode: 1,
		Stdout:   []byte("building...\n"),
		Stderr:   []byte("warning: x\n"),
		Outputs:  []string{"out/a.o"},
	}
	got, err := DecodeJobResult(EncodeJobResult(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	want := MsgManifest{
		ToolID: 5,
		Files: []ManifestFile{
			{RelPath: "bin/cc", Size: 1024, ContentHash: []byte{1, 2, 3}},
			{RelPath: "lib/libc.so", Size: 2048, ContentHash: []byte{4, 5, 6}},
		},
	}
	got, err := DecodeManifest(EncodeManifest(want))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestFileRoundTrip(t *testing.T) {
	want := MsgRequestFile{ToolID: 5, FileID: 2}
	got, err := DecodeRequestFile(EncodeRequestFile(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCancelJobRoundTrip(t *testing.T) {
	want := MsgCancelJob{NodeName: "out/a.o"}
	got, err := DecodeCancelJob(EncodeCancelJob(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNegativeMismatchedProtocolVersionDecodesDistinctly(t *testing.T) {
	// Not a wire-level concern by itself, but documents the contract: a
	// decoded Connection message with a different ProtocolVersion is the
	// caller's signal to close the connection (spec §6).
	got, err := DecodeConnection(EncodeConnection(MsgConnection{ProtocolVersion: ProtocolVersion + 1}))
	if err != nil {
		t.Fatal(err)
	}
	if got.ProtocolVersion == ProtocolVersion {
		t.Fatal("expected mismatched version to decode distinctly")
	}
}
