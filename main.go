package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
