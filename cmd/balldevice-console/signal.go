package main

import (
	"context"
	"os/signal"
	"syscall"
)

// newInterruptibleContext returns a context canceled on SIGINT/SIGTERM, so
// the console shuts down the machine cleanly (stopping every device
// goroutine and the bus) instead of leaving coils in whatever state an
// abrupt process kill catches them in.
func newInterruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
