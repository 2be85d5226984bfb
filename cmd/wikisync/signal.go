package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptOnSignal calls interrupt on the first SIGINT or SIGTERM so the
// current request can finish, and force-exits on the second. The returned
// function stops listening.
func interruptOnSignal(logger *slog.Logger, interrupt func()) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after the current request",
				slog.String("signal", sig.String()),
			)
			interrupt()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-done:
			return
		}
	}()

	return func() { close(done) }
}
