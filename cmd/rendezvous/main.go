package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SWAI-Ltd/topicbridge/internal/discovery"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/mesh"
)

func main() {
	addr := flag.String("addr", ":6121", "listen address")
	announce := flag.Bool("mdns", false, "announce on the local network over mDNS")
	name := flag.String("name", "rendezvous", "mDNS instance name")
	level := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *level})
	if err != nil {
		slog.Error("invalid log level", "err", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	srv, err := mesh.RunRendezvous(ctx, *addr, logger)
	if err != nil {
		slog.Error("failed to start rendezvous", "err", err)
		os.Exit(1)
	}

	if *announce {
		_, port, err := discovery.ParseAddr(srv.Addr())
		if err != nil {
			slog.Error("bad listen address", "addr", srv.Addr(), "err", err)
			os.Exit(1)
		}
		a, err := discovery.Announce(*name, port)
		if err != nil {
			slog.Error("mdns announce failed", "err", err)
			os.Exit(1)
		}
		defer a.Close()
		slog.Info("announcing over mdns", "name", *name, "port", port)
	}

	<-ctx.Done()
	slog.Info("rendezvous shutting down")
}
