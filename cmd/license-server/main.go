package main

import (
	"context"
	"log/slog"
	"os"

	"elvlicense/internal/app"
)

func main() {
	application, err := app.NewLicenseServer(context.Background())
	if err != nil {
		slog.Error("failed to initialize license server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("license server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
