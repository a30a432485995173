// Command engagementsync archives learner engagement per course and keeps the
// partner dashboards current.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	start := time.Now()
	err := newRootCmd().ExecuteContext(ctx)
	slog.Debug("Execution finished", "elapsed", time.Since(start).Round(time.Millisecond))
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
