//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skobkin/sensornet/internal/app"
)

// forwardWakeSignals turns SIGUSR1 into wake-up interrupt 1.
func forwardWakeSignals(ctx context.Context, rt *app.Runtime) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	logger := rt.LogManager.Logger("cli")
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if !rt.Host.Trigger(1) {
				logger.Info("interrupt 1 not armed, signal ignored")
			}
		}
	}
}
