package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-tracker/config"
	"crypto-tracker/internal/alert"
	"crypto-tracker/internal/api"
	"crypto-tracker/internal/database"
	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/notify"
	"crypto-tracker/internal/portfolio"
	"crypto-tracker/internal/price"
	"crypto-tracker/internal/realtime"
	"crypto-tracker/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	metricsSaveInterval = 5 * time.Minute
	shutdownTimeout     = 15 * time.Second
)

func init() {
	config.InitConfig()
	setupLogging()
}

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	translation.Configure("locales", settings.Lang)
	log.Debugf("Messages translated to %s", translation.GetLanguage())

	store, err := database.Open(settings.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	m := metrics.New()
	m.Load(store)

	provider, lister := newProvider(settings)
	cache := price.NewCache(provider, settings.CacheTTL, m)

	hub := realtime.NewHub()
	sinks := []notify.Sink{notify.LogSink{}, realtime.AlertSink{Hub: hub}}
	if settings.TelegramToken != "" {
		tg, err := notify.NewTelegramSink(settings.TelegramToken, settings.TelegramChatID)
		if err != nil {
			log.Errorf("Telegram notifications disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	dispatcher := notify.NewDispatcher(settings.QueueSize, m, sinks...)
	dispatcher.Start()

	evaluator := alert.NewEvaluator(store, cache, dispatcher, m)
	scheduler := alert.NewScheduler(evaluator, settings.CheckInterval, m)

	server := api.NewServer(api.Options{
		Store:     store,
		Portfolio: portfolio.NewService(store, cache),
		Checker:   evaluator,
		Scheduler: scheduler,
		Market:    lister,
		Hub:       hub,
		Retention: settings.HistoryRetention,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, &http.Server{
			Addr:              fmt.Sprintf(":%d", settings.HTTPPort),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}, "API")
	})
	g.Go(func() error {
		return launchMetricsAndHealthServer(gctx, settings.MetricsPort, m, store)
	})
	g.Go(func() error {
		saveMetricsPeriodically(gctx, m, store)
		return nil
	})

	log.Infof("Crypto tracker listening on :%d (provider %s, key %s, price ttl %s)", settings.HTTPPort, settings.PriceProvider, settings.MaskedAPIKey(), cache.TTL())

	if err := g.Wait(); err != nil {
		log.Errorf("Server stopped with error: %v", err)
	}

	scheduler.Stop()
	scheduler.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warnf("Pending notifications lost: %v", err)
	}

	m.Save(store)
	log.Info("Metrics saved, shutting down...")
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting crypto tracker...")
}

func newProvider(s config.Settings) (price.Provider, price.Lister) {
	if s.PriceProvider == config.ProviderCoinPaprika {
		p := price.NewCoinPaprika(&http.Client{Timeout: s.UpstreamTimeout}, s.PaprikaAPIKey)
		return p, p
	}
	p := price.NewCoinMarketCap(s.APIBaseURL, s.APIKey, s.UpstreamTimeout)
	return p, p
}

// serve runs srv until ctx is done and then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Launching %s server on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrapf(err, "%s server failed", name)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "%s server shutdown", name)
	}
	return <-errCh
}

func launchMetricsAndHealthServer(ctx context.Context, port int, m *metrics.Metrics, store *database.Store) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", healthCheckHandler(store))

	return serve(ctx, &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}, "metrics and health")
}

func healthCheckHandler(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(); err != nil {
			log.Errorf("Health check failed: %v", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func saveMetricsPeriodically(ctx context.Context, m *metrics.Metrics, store *database.Store) {
	ticker := time.NewTicker(metricsSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Save(store)
		}
	}
}
