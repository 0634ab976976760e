package main

import (
	"os"
	"os/signal"
	"syscall"

	"forestwatch/internal/bootstrap"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Log.Errorw("Failed to start", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(c)
}

// waitForShutdown blocks until a signal arrives or a component cancels the
// container context, then performs graceful shutdown
func waitForShutdown(c *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutting down...", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Shutting down after a fatal component error...")
	}

	c.Shutdown()
}
