package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext is cancelled on the first SIGINT or SIGTERM. A second
// signal exits the process without waiting for the pass in flight.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after the current pass",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting now",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// reloadSignals delivers SIGHUP until ctx is done.
func reloadSignals(ctx context.Context) <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		<-ctx.Done()
		signal.Stop(ch)
	}()

	return ch
}
