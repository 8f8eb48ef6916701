// Package main is the entry point for the leadpipe binary.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/towdesk/leadpipe/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.ExecuteContext(ctx)
}
