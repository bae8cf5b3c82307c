package graph

import "github.com/forgebuild/forge/internal/tagmatch"

// Job is a unit of scheduling created from a Node ready to build
// (spec §3 "Jobs"). Jobs are single-assignment: once a remote worker is
// assigned, a Job is not reassigned unless that worker is declared lost
// (enforced by internal/distclient, not this type itself).
type Job struct {
	Node *Node

	// ToolID identifies the tool executable (+ auxiliary files) this Job's
	// command invokes, for distributed cases. Zero if the Job is not
	// distributable.
	ToolID uint64

	Command []string
	Env     []string

	// Payload is the serialized input manifest (and, for distribution,
	// possibly embedded input file bytes). Local-only jobs leave this nil.
	Payload []byte

	ExpectedOutputs []string

	// Tags is the tag expression controlling which remote worker may
	// accept this Job (spec §3, §4.9). Empty for jobs that are local-only.
	Tags tagmatch.Set

	// Distributable reports whether this Job's command is
	// position-independent and its inputs can be shipped to a remote
	// worker (Glossary: "Distributable Job").
	Distributable bool

	// Priority orders frontier dequeuing; larger values are dequeued
	// first (spec §4.4 "longest-pole-first").
	Priority int64

	attempts int // number of times this Job has been (re)dispatched remotely
}

// Attempts reports how many times this Job has been dispatched to a
// remote worker so far (spec §4.7: "A Job is re-dispatched at most K
// times").
func (j *Job) Attempts() int { return j.attempts }

// RecordAttempt increments the dispatch attempt counter.
func (j *Job) RecordAttempt() { j.attempts++ }

// NewJob constructs a Job for n, with priority derived from n's last
// recorded build duration so that the coordinator can schedule
// longest-pole-first (spec §4.4 "Priority").
func NewJob(n *Node) *Job {
	return &Job{
		Node:            n,
		ToolID:          n.ToolID,
		Command:         append([]string(nil), commandFor(n)...),
		ExpectedOutputs: append([]string(nil), n.Outputs...),
		Tags:            append(tagmatch.Set(nil), n.Tags...),
		Distributable:   n.Distributable,
		Priority:        n.LastBuildTimeMs,
	}
}

// commandFor derives a command line from a Node's opaque Config. The
// textual configuration language that actually produces fully-resolved
// argv slices (e.g. for a Compiler-driven Object build) is an external
// collaborator (spec §1); in its absence, Config is treated as a shell
// command line run through "sh -c", the same bridge a loader would use
// for an Exec node's raw command string. This returns the Node's bare
// name as a degenerate command when Config is empty.
func commandFor(n *Node) []string {
	if len(n.Config) == 0 {
		return []string{n.Name}
	}
	return []string{"sh", "-c", string(n.Config)}
}
