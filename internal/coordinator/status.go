package coordinator

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// statusBoard renders an in-place multi-line worker status display,
// grounded on internal/batch.go's scheduler.updateStatus/refreshStatus
// (which overwrites stale characters with whitespace and restores the
// cursor with a terminal escape). The teacher detects a terminal with
// golang.org/x/sys/unix.IoctlGetTermios directly; this uses
// github.com/mattn/go-isatty for the same check, since the rest of the
// domain stack already standardizes on that library for terminal
// detection rather than hand-rolling an ioctl.
type statusBoard struct {
	isTerminal bool

	mu         sync.Mutex
	lines      []string
	lastRender time.Time
}

func newStatusBoard(workers int) *statusBoard {
	return &statusBoard{
		isTerminal: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		lines:      make([]string, workers),
	}
}

// setQueued is a no-op status hook kept distinct from update so callers
// can later distinguish "queued" from "running" without changing update's
// signature; it does nothing, and only update writes a worker's status line.
func (b *statusBoard) setQueued(name string) {}

func (b *statusBoard) update(slot int, status string) {
	if !b.isTerminal {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if diff := len(b.lines[slot]) - len(status); diff > 0 {
		status += strings.Repeat(" ", diff)
	}
	b.lines[slot] = status
	if time.Since(b.lastRender) < 100*time.Millisecond {
		return
	}
	b.lastRender = time.Now()
	for _, line := range b.lines {
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(b.lines))
}
