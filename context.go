// Package forge contains the small set of process-wide helpers shared by
// the coordinator and worker entry points. Everything with actual build
// logic lives under internal/.
package forge

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the process
// receives SIGINT or SIGTERM. This implements the "user cancel" signal of
// the concurrency model: the coordinator watches ctx.Done() and stops
// enqueueing new jobs, while in-flight jobs are allowed to run to
// completion.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// A second signal terminates immediately, in case cleanup hangs.
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
