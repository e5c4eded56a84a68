package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("npa-bot exited with error", "error", err)
		os.Exit(1)
	}
}
