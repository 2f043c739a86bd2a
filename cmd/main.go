// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/sockparse"
	"github.com/absmach/sockparse/examples/simple"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/health"
	"github.com/absmach/sockparse/pkg/metrics"
	httpparser "github.com/absmach/sockparse/pkg/parser/http"
	"github.com/absmach/sockparse/pkg/parser/mqtt"
	"github.com/absmach/sockparse/pkg/ratelimit"
	"github.com/absmach/sockparse/pkg/server/tcp"
	"github.com/absmach/sockparse/pkg/server/ws"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	mqttPrefix = "SOCKPARSE_MQTT_"
	httpPrefix = "SOCKPARSE_HTTP_"
	wsPrefix   = "SOCKPARSE_WS_"
)

type config struct {
	LogLevel     string            `env:"SOCKPARSE_LOG_LEVEL"     envDefault:"info"`
	LogFormat    string            `env:"SOCKPARSE_LOG_FORMAT"    envDefault:"json"`
	AdminAddress string            `env:"SOCKPARSE_ADMIN_ADDRESS" envDefault:":9090"`
	Users        map[string]string `env:"SOCKPARSE_USERS"         envKeyValSeparator:":"`
}

type service struct {
	g       *errgroup.Group
	ctx     context.Context
	handler handler.Handler
	metrics *metrics.Metrics
	health  *health.Checker
	logger  *slog.Logger
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// .env is optional.
	envErr := godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := &service{
		g:       g,
		ctx:     ctx,
		handler: simple.New(logger, cfg.Users),
		metrics: metrics.New("sockparse", reg),
		health:  health.NewChecker(),
		logger:  logger,
	}

	started := 0
	for _, start := range []func() (bool, error){svc.startMQTT, svc.startHTTP, svc.startWS} {
		ok, err := start()
		if err != nil {
			logger.Error("failed to start listener", slog.String("error", err.Error()))
			cancel()
			os.Exit(1)
		}
		if ok {
			started++
		}
	}
	if started == 0 {
		logger.Warn("no listener configured, set SOCKPARSE_<MQTT|HTTP|WS>_PORT")
	}

	g.Go(func() error {
		return serveAdmin(ctx, cfg.AdminAddress, reg, svc.health, logger)
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("sockparse service terminated with error: %s", err))
	} else {
		logger.Info("sockparse service stopped")
	}
}

func (s *service) startMQTT() (bool, error) {
	cfg, err := sockparse.NewConfig(env.Options{Prefix: mqttPrefix})
	if err != nil || !cfg.Enabled() {
		return false, err
	}
	srv := tcp.New(tcp.Config{
		Protocol:        "mqtt",
		ReadBufferSize:  cfg.ReadBufferSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          s.logger,
		Metrics:         s.metrics,
		Limiter:         ratelimit.New(cfg.RateLimit, cfg.RateBurst),
	}, mqtt.NewFactory(cfg.MQTT(), s.handler, s.metrics, s.logger))

	return true, s.serve("mqtt-tcp", cfg.Address(), srv.Serve)
}

func (s *service) startHTTP() (bool, error) {
	cfg, err := sockparse.NewConfig(env.Options{Prefix: httpPrefix})
	if err != nil || !cfg.Enabled() {
		return false, err
	}
	srv := tcp.New(tcp.Config{
		Protocol:        "http",
		ReadBufferSize:  cfg.ReadBufferSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          s.logger,
		Metrics:         s.metrics,
		Limiter:         ratelimit.New(cfg.RateLimit, cfg.RateBurst),
	}, httpparser.NewFactory(cfg.HTTP(), s.handler, s.metrics, s.logger))

	return true, s.serve("http-tcp", cfg.Address(), srv.Serve)
}

func (s *service) startWS() (bool, error) {
	cfg, err := sockparse.NewConfig(env.Options{Prefix: wsPrefix})
	if err != nil || !cfg.Enabled() {
		return false, err
	}
	srv := ws.New(ws.Config{
		Path:            cfg.Path,
		Protocol:        "mqtt",
		MaxMessageSize:  int64(cfg.MaxPacketSize),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          s.logger,
		Metrics:         s.metrics,
		Limiter:         ratelimit.New(cfg.RateLimit, cfg.RateBurst),
	}, mqtt.NewFactory(cfg.MQTT(), s.handler, s.metrics, s.logger))

	return true, s.serve("mqtt-ws", cfg.Address(), srv.Serve)
}

// serve binds address and runs serveFn in the group, tracking it with a readiness probe.
func (s *service) serve(name, address string, serveFn func(context.Context, net.Listener) error) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	probe := s.health.Probe(name)
	probe.Set(nil)

	s.g.Go(func() error {
		defer probe.Set(health.ErrStopped)
		return serveFn(s.ctx, listener)
	})

	s.logger.Info("listener started", slog.String("name", name), slog.String("address", address))
	return nil
}

// serveAdmin exposes Prometheus metrics and health endpoints.
func serveAdmin(ctx context.Context, address string, reg *prometheus.Registry, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	checker.Mount(mux, "/")

	srv := &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server started", slog.String("address", address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
