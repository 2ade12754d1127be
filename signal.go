package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
)

// shutdownContext is canceled by SIGINT or SIGTERM. Chunk requests in flight
// see the cancellation and release their sinks. The handler is removed as
// soon as it fires, so a second Ctrl-C while a sink is being released kills
// the process the default way.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		stop()

		if parent.Err() == nil {
			logger.Warn("transfer interrupted, press Ctrl-C again to abort immediately")
		}
	}()

	return ctx
}
