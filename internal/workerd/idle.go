package workerd

import (
	"io/ioutil"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IdleThreshold is how long local input must have been absent and load
// must have stayed below LoadThreshold before WhenIdle mode makes CPUs
// available (spec §4.8 "absent for a threshold and ... below a
// threshold").
const IdleThreshold = 2 * time.Minute

// LoadThreshold is the maximum fraction (0..1) of total jiffies spent
// outside "idle" for the host to still be considered idle.
const LoadThreshold = 0.2

// idleMonitor samples /proc/stat the way internal/trace's cpuEvents does,
// and tracks how long the host has been both input-idle and load-idle, for
// ConfiguredCPUs in WhenIdle mode (spec §4.8). Input-idleness has no
// portable stdlib source, so it is injected via Touch; absent any Touch
// call, the monitor degrades to load-only. cmd/forge-worker constructs no
// idleMonitor and does not call ConfiguredCPUs: it serves Settings.CPUCount
// slots in either Mode.
type idleMonitor struct {
	mu           sync.Mutex
	lastInput    time.Time
	lastBusyFrac float64
	idleSince    time.Time
}

func newIdleMonitor() *idleMonitor {
	now := time.Now()
	return &idleMonitor{lastInput: now, idleSince: now}
}

// Touch records local input activity, resetting the idle timer.
func (m *idleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastInput = time.Now()
	m.idleSince = time.Time{}
}

// sample reads /proc/stat once and records the instantaneous busy
// fraction across all CPUs, updating the running idle-since timestamp.
func (m *idleMonitor) sample() error {
	frac, err := busyFraction()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBusyFrac = frac
	inputIdleFor := time.Since(m.lastInput)
	if frac <= LoadThreshold && inputIdleFor >= IdleThreshold {
		if m.idleSince.IsZero() {
			m.idleSince = time.Now()
		}
	} else {
		m.idleSince = time.Time{}
	}
	return nil
}

// IsIdle reports whether both the load and input-absence conditions have
// held continuously for at least IdleThreshold.
func (m *idleMonitor) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.idleSince.IsZero() && time.Since(m.idleSince) >= IdleThreshold
}

// busyFraction parses the aggregate "cpu " line of /proc/stat and returns
// the fraction of jiffies spent outside the idle+iowait buckets,
// mirroring internal/trace.cpuEvents's per-field parsing of the same file
// but aggregated across all cores instead of emitted as a per-core trace
// counter.
func busyFraction() (float64, error) {
	b, err := ioutil.ReadFile("/proc/stat")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var total, idle float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 || i == 4 { // idle, iowait
				idle += v
			}
		}
		if total == 0 {
			return 0, nil
		}
		return (total - idle) / total, nil
	}
	return 0, nil
}

// ConfiguredCPUs returns how many CPUs are currently available for
// dispatch under s.Mode (spec §4.8 "Free slots = ConfiguredCPUs −
// InFlightJobs"). In WhenIdle mode it switches between 0 and all of
// s.CPUCount; there is no gradual ramp.
func (s Settings) ConfiguredCPUs(idle *idleMonitor) int {
	if s.Mode == Dedicated {
		return s.CPUCount
	}
	if idle != nil && idle.IsIdle() {
		return s.CPUCount
	}
	return 0
}
