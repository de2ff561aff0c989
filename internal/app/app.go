// Package app assembles the bridge daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/config"
	"github.com/SWAI-Ltd/topicbridge/internal/crypto"
	"github.com/SWAI-Ltd/topicbridge/internal/discovery"
	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/manager"
	"github.com/SWAI-Ltd/topicbridge/internal/mesh"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

// Certificate is the identity blob loaded at startup.
type Certificate []byte

// Module wires every component of the daemon for cfg.
func Module(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newRegistry,
			newMetrics,
			loadCertificate,
			newDomain,
			newTransport,
			newConnector,
			newRelay,
			newResolver,
			newSupervisor,
			newManager,
		),
		fx.Invoke(serveMetrics, runManager),
		fx.NopLogger,
	)
}

// New builds the daemon. Check Err before starting it.
func New(cfg config.Config, extra ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{Module(cfg)}, extra...)...)
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func loadCertificate(cfg config.Config, logger *slog.Logger) (Certificate, error) {
	path := cfg.Certificate()
	cert, err := crypto.LoadCertificate(path)
	if err != nil {
		return nil, err
	}
	logger.Info("certificate loaded", "path", path)
	return cert, nil
}

func newDomain(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger) (domain.Domain, error) {
	switch cfg.Domain.Kind {
	case config.DomainMemory:
		d := domain.NewMemory(0)
		lc.Append(fx.StopHook(d.Close))
		return d, nil
	case config.DomainGossip:
		g, err := domain.NewGossip(context.Background(), domain.GossipOptions{
			ListenAddrs:      cfg.Domain.ListenAddrs,
			Bootstrap:        cfg.Domain.Bootstrap,
			Rendezvous:       cfg.Domain.Rendezvous,
			EnableMDNS:       cfg.Domain.MDNS,
			IdentityKeyFile:  cfg.Domain.IdentityKeyFile,
			CatalogTTL:       cfg.Domain.CatalogTTL,
			AnnounceInterval: cfg.Domain.AnnounceInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("start gossip domain: %w", err)
		}
		lc.Append(fx.StopHook(g.Close))
		return g, nil
	default:
		return nil, fmt.Errorf("unknown domain kind %q", cfg.Domain.Kind)
	}
}

// newTransport resolves the rendezvous server, over mDNS when no address
// is configured.
func newTransport(cfg config.Config, cert Certificate, logger *slog.Logger) (bridge.Transport, error) {
	addr := cfg.Rendezvous.Addr
	if addr == "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Rendezvous.LookupTimeout)
		defer cancel()
		srv, err := discovery.Lookup(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("rendezvous found", "name", srv.Name, "addr", srv.Addr)
		addr = srv.Addr
	}
	return mesh.NewClient(addr, cert, logger), nil
}

func newConnector(cfg config.Config, t bridge.Transport, m *metrics.Metrics, logger *slog.Logger) *bridge.Connector {
	return bridge.NewConnector(t, cfg.RetryPolicy(), m, logger)
}

func newRelay(d domain.Domain, m *metrics.Metrics, logger *slog.Logger) *bridge.Relay {
	return bridge.NewRelay(d, m, logger)
}

func newResolver(d domain.Domain, logger *slog.Logger) *bridge.Resolver {
	return bridge.NewResolver(d, logger)
}

func newSupervisor(c *bridge.Connector, r *bridge.Relay, m *metrics.Metrics, logger *slog.Logger) *manager.Supervisor {
	return manager.NewSupervisor(c, r, m, logger)
}

func newManager(cfg config.Config, cert Certificate, d domain.Domain, r *bridge.Resolver,
	s *manager.Supervisor, m *metrics.Metrics, logger *slog.Logger) (*manager.Manager, error) {
	topics, err := cfg.ConfiguredTopics()
	if err != nil {
		return nil, err
	}
	return manager.New(manager.Options{
		Topics:      topics,
		Discovery:   cfg.AutomaticTopicDiscovery,
		Interval:    cfg.DiscoveryInterval,
		Certificate: cert,
	}, d, r, s, m, logger), nil
}

func serveMetrics(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("metrics listen: %w", err)
			}
			logger.Info("metrics listening", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// runManager runs the reconciliation loop for the life of the app and stops
// the app if the loop fails.
func runManager(lc fx.Lifecycle, sd fx.Shutdowner, m *manager.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := m.Run(ctx); err != nil {
					logger.Error("manager failed", "err", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stop.Done():
				return stop.Err()
			}
			bridges := make(chan struct{})
			go func() {
				m.Supervisor().Wait()
				close(bridges)
			}()
			select {
			case <-bridges:
				return nil
			case <-stop.Done():
				logger.Warn("bridges still running at shutdown")
				return nil
			}
		},
	})
}
