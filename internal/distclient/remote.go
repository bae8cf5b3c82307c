// Package distclient implements the Distribution Client (spec §4.7):
// remote peer selection under tag constraints, job dispatch over
// internal/wire, manifest/file sync for workers missing a tool, and
// retry-then-downgrade-to-local failure handling. Grounded on the
// teacher's internal/batch.go worker dispatch loop, generalized from a
// single local worker pool into a pool of remote TCP peers.
package distclient

import (
	"sync"
	"time"

	"github.com/forgebuild/forge/internal/tagmatch"
)

// Remote tracks one worker's advertised capacity and recent health. The
// capacity changes only through UpdateStatus; nothing in this module reads
// MsgStatus heartbeats from a worker to call it.
type Remote struct {
	Addr string
	Tags tagmatch.Set

	mu               sync.Mutex
	numJobsAvailable int
	inFlight         int
	latency          time.Duration
	lostUntil        time.Time
	disabledTools    map[uint64]bool
}

// NewRemote constructs a Remote with no capacity until UpdateStatus sets
// one.
func NewRemote(addr string, tags tagmatch.Set) *Remote {
	return &Remote{Addr: addr, Tags: tags}
}

// UpdateStatus records a freshly received MsgStatus heartbeat and the
// round-trip latency it was observed with.
func (r *Remote) UpdateStatus(numJobsAvailable int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numJobsAvailable = numJobsAvailable
	r.latency = latency
}

// available reports how many more jobs this Remote can accept right now,
// honoring the backpressure bound of spec §4.7 ("at most NumJobsAvailable
// outstanding jobs per remote").
func (r *Remote) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numJobsAvailable - r.inFlight
}

func (r *Remote) reserve() {
	r.mu.Lock()
	r.inFlight++
	r.mu.Unlock()
}

func (r *Remote) release() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

// markLost puts the Remote in cooldown for d, per spec §4.7 "marks the
// worker lost for a cooldown interval".
func (r *Remote) markLost(d time.Duration) {
	r.mu.Lock()
	r.lostUntil = time.Now().Add(d)
	r.mu.Unlock()
}

func (r *Remote) isLost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.lostUntil)
}

// disableTool marks a tool as unusable on this Remote after a
// tool-transfer failure, without affecting any other tool or Job
// (spec §4.7 "disables that remote for that tool only").
func (r *Remote) disableTool(toolID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabledTools == nil {
		r.disabledTools = make(map[uint64]bool)
	}
	r.disabledTools[toolID] = true
}

func (r *Remote) toolDisabled(toolID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabledTools[toolID]
}

// ErrNoEligibleRemote is returned by SelectRemote when every candidate is
// lost, out of capacity, tool-disabled, or tag-mismatched.
type ErrNoEligibleRemote struct {
	Reasons []string
}

func (e *ErrNoEligibleRemote) Error() string {
	msg := "no eligible remote"
	for _, r := range e.Reasons {
		msg += "; " + r
	}
	return msg
}

// SelectRemote picks the least-loaded eligible Remote for job, breaking
// ties by lowest latency (spec §4.7 step 1). A Remote is eligible if it
// is not in cooldown, has free advertised capacity, has not had toolID
// disabled, and its tags satisfy jobTags.
func SelectRemote(remotes []*Remote, toolID uint64, jobTags tagmatch.Set) (*Remote, error) {
	var best *Remote
	var bestLoad int
	var reasons []string
	for _, r := range remotes {
		if r.isLost() {
			reasons = append(reasons, r.Addr+": in cooldown")
			continue
		}
		if r.toolDisabled(toolID) {
			reasons = append(reasons, r.Addr+": tool disabled")
			continue
		}
		avail := r.available()
		if avail <= 0 {
			reasons = append(reasons, r.Addr+": no free capacity")
			continue
		}
		if ok, err := tagmatch.Matches(r.Tags, jobTags); !ok {
			reasons = append(reasons, r.Addr+": "+err.Error())
			continue
		}
		load := -avail // more available capacity sorts first
		r.mu.Lock()
		latency := r.latency
		r.mu.Unlock()
		if best == nil || load < bestLoad || (load == bestLoad && latency < best.latency) {
			best = r
			bestLoad = load
		}
	}
	if best == nil {
		return nil, &ErrNoEligibleRemote{Reasons: reasons}
	}
	return best, nil
}
