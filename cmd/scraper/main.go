package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spokescan/spokescan/app/scraper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := scraper.Initialize(ctx)

	app.Start(ctx)
}
