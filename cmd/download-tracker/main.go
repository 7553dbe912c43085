package main

import (
	"context"
	"log/slog"
	"os"

	"elvlicense/internal/app"
)

func main() {
	application, err := app.NewDownloadTracker(context.Background())
	if err != nil {
		slog.Error("failed to initialize download tracker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("download tracker error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
