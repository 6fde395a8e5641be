// Package main is the entry point for the quotarelay gateway. It loads
// configuration, builds the credential pool and quota refresher, and serves
// the Anthropic- and Google-compatible surfaces over one upstream.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/api"
	"github.com/quotarelay/quotarelay/internal/config"
	"github.com/quotarelay/quotarelay/internal/credstore"
	"github.com/quotarelay/quotarelay/internal/logging"
	"github.com/quotarelay/quotarelay/internal/metrics"
	"github.com/quotarelay/quotarelay/internal/orchestrator"
	"github.com/quotarelay/quotarelay/internal/quota"
	"github.com/quotarelay/quotarelay/internal/ratelimit"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config.json", "path to config.json")
	flag.Parse()

	// .env is loaded before env overrides are read; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logger, err := logging.NewLogger(logging.Options{Dir: cfg.LogDir, Level: level})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	store, err := credstore.New(cfg.AuthDir, logger)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}

	client := upstream.New(upstreamOptions(cfg, logger)...)

	var gate *ratelimit.Gate
	if cfg.MinRequestGapMS > 0 {
		gate = ratelimit.New(time.Duration(cfg.MinRequestGapMS) * time.Millisecond)
	}

	manager := accounts.New(store, client, gate, logger)
	if err := manager.Load(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	logger.WithField("accounts", len(manager.Snapshot())).Info("credential pool loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store.Watch(ctx, manager.ReloadFromWatch)

	m := metrics.New("quotarelay")

	cache := quota.NewCache()
	selector := quota.NewSelector(cache, manager)
	refresher := quota.NewRefresher(cache, manager, client, time.Duration(cfg.QuotaRefreshIntervalSeconds)*time.Second, logger)
	refresher.SetMetrics(m)
	refresher.Start(ctx)

	orch := orchestrator.New(manager, selector, refresher, cache, client, gate, logger,
		orchestrator.WithRetryDelay(time.Duration(cfg.RetryDelayMS)*time.Millisecond),
		orchestrator.WithMetrics(m))
	srv := api.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), api.Deps{
		Orchestrator: orch,
		QuotaCache:   cache,
		Metrics:      m,
		Logger:       logger,
		APIKeys:      cfg.APIKeys,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		manager.StopAll()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	manager.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// upstreamOptions builds the upstream client options: an explicit host
// override and, when enabled, an outbound proxy transport.
func upstreamOptions(cfg config.Config, logger *log.Logger) []upstream.Option {
	var opts []upstream.Option
	if cfg.UpstreamHost != "" {
		opts = append(opts, upstream.WithHost(cfg.UpstreamHost))
	}
	if cfg.ProxyEnabled && cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			logger.WithError(err).Warn("invalid proxy url, outbound proxy disabled")
			return opts
		}
		opts = append(opts, upstream.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}
	return opts
}
