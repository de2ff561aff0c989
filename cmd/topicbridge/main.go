// topicbridge mirrors local topics to and from remote hosts.
// Usage: topicbridge -config topicbridge.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/app"
	"github.com/SWAI-Ltd/topicbridge/internal/config"
)

func main() {
	path := flag.String("config", "", "YAML config file (TOPICBRIDGE_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	a := app.New(cfg)
	if err := a.Err(); err != nil {
		slog.Error("failed to start topicbridge", "err", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		slog.Error("failed to start topicbridge", "err", err)
		os.Exit(1)
	}

	sig := <-a.Wait()
	slog.Info("topicbridge shutting down", "signal", sig.Signal)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		slog.Warn("unclean shutdown", "err", err)
	}
	os.Exit(sig.ExitCode)
}
