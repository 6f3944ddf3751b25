package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/core-tools/hsu-renice/pkg/logging"
)

// WithShutdownSignals returns a context cancelled by the first SIGINT or
// SIGTERM. The context is the only shutdown token: nothing else cancels it
// except the returned stop function.
func WithShutdownSignals(parent context.Context, logger logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case received := <-sig:
			logger.Infof("Received signal: %v, shutting down", received)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}
