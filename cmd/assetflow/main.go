package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/vk/assetflow/internal/cli"
)

// main is the entrypoint for the assetflow binary.
func main() {
	// Minimal logger until the App configures its own.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	os.Exit(cli.Execute(context.Background(), os.Stdout, os.Stderr, os.Args[1:]))
}
