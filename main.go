package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/api"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/balance"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/engine"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/events"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/executor"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/gateway"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/locks"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/monitor"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/reconciliation"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/risk"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/settings"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/stream"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/cache"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/crypto"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/binance/futures"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// notifierAlerts routes monitor alerts through the operator notifier.
type notifierAlerts struct {
	n notify.Notifier
}

func (a notifierAlerts) Send(message string) error {
	a.n.Notify("系統警報", message, notify.ColourRed)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	globals, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Printf("settings load: %v, using defaults", err)
		globals = config.DefaultSettings()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	tradeQueries := db.NewTradeQueries(database.DB)
	userQueries := db.NewUserQueries(database.DB)
	store := trades.NewStore(tradeQueries)

	if cfg.MasterEncryptionKey == "" {
		log.Fatal("MASTER_ENCRYPTION_KEY is required")
	}
	keys, err := crypto.NewKeyManager(cfg.MasterEncryptionKey)
	if err != nil {
		log.Fatalf("master encryption key: %v", err)
	}

	// Notifier: log always, Telegram when configured.
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.Multi{
			notify.LogNotifier{},
			notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID),
		}
	}

	// Symbol filters come from the public exchange-info endpoint; a public
	// client needs no credentials.
	publicClient := futures.NewClient(futures.Config{
		Testnet:    cfg.BinanceTestnet,
		BaseURL:    cfg.VenueRESTBase,
		WSBaseURL:  cfg.VenueWSBase,
		RecvWindow: cfg.VenueRecvWindow,
	})
	filters := cache.NewShardedFilterCache()
	refreshFilters := func() {
		info, err := publicClient.GetExchangeInfo(ctx)
		if err != nil {
			log.Printf(i18n.Get("FiltersStale"), err)
			return
		}
		filters.SetAll(info)
		log.Printf(i18n.Get("FiltersRefreshed"), len(info))
	}
	refreshFilters()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshFilters()
			}
		}
	}()

	dedupWindow := time.Duration(globals.Dedup.WindowSeconds) * time.Second

	// One registry shared by the executor and the stream consumers: both
	// sides settle trades under the same (user, symbol) lock.
	pairLocks := locks.NewRegistry()

	exec := executor.New(store,
		settings.NewResolver(globals, userQueries),
		signal.NewDeduplicator(tradeQueries, dedupWindow),
		risk.NewCircuitBreaker(tradeQueries),
		pairLocks,
		filters,
		notifier)

	balances := balance.NewCache()
	exec.SetBalanceCache(balances)

	factory := gateway.DefaultFactory
	if cfg.BinanceTestnet {
		factory = gateway.TestnetFactory
	}
	if cfg.VenueRESTBase != "" || cfg.VenueWSBase != "" {
		factory = func(apiKey, apiSecret string) *futures.Client {
			return futures.NewClient(futures.Config{
				APIKey:     apiKey,
				APISecret:  apiSecret,
				Testnet:    cfg.BinanceTestnet,
				BaseURL:    cfg.VenueRESTBase,
				WSBaseURL:  cfg.VenueWSBase,
				RecvWindow: cfg.VenueRecvWindow,
			})
		}
	}
	pool := gateway.NewManager(userQueries, keys, factory, gateway.DefaultConfig())

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("MetricsInit"))

	mon := &monitor.Monitor{
		Bus:     bus,
		Metrics: metrics,
		Alerts:  notifierAlerts{n: notifier},
	}
	mon.Start(ctx)

	eng := engine.New(signal.NewParser(), exec, userQueries, engine.GatewayResolver{Pool: pool}, bus)
	log.Println(i18n.Get("PipelineInit"))

	// One user-data stream consumer per credentialed user.
	consumers := startStreamConsumers(ctx, globals.Stream, pool, store, userQueries, pairLocks, notifier, bus)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, c := range consumers {
			c.Stop(shutdownCtx)
		}
	}()

	recon := reconciliation.NewService(store, userQueries, pool,
		time.Duration(globals.Cleanup.IntervalMinutes)*time.Minute)
	recon.Start(ctx)
	log.Printf(i18n.Get("CleanupStarted"), time.Duration(globals.Cleanup.IntervalMinutes)*time.Minute)

	server := api.NewServer(api.Options{
		Engine:         eng,
		Settings:       globals,
		Metrics:        metrics,
		Pool:           pool,
		JWTSecret:      cfg.JWTSecret,
		OperatorHash:   cfg.OperatorPasswordHash,
		Version:        version(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
}

func startStreamConsumers(ctx context.Context, streamCfg config.StreamSettings, pool *gateway.Manager, store *trades.Store, users *db.UserQueries, pairLocks *locks.Registry, notifier notify.Notifier, bus *events.Bus) []*stream.Consumer {
	targets, err := users.ListBroadcastTargets(ctx)
	if err != nil {
		log.Printf("list stream users: %v", err)
		return nil
	}

	base := time.Duration(streamCfg.ReconnectBaseMs) * time.Millisecond
	max := time.Duration(streamCfg.ReconnectMaxMs) * time.Millisecond

	var consumers []*stream.Consumer
	for _, u := range targets {
		if !u.HasAPIKey() {
			continue
		}
		client, err := pool.ClientFor(ctx, u.ID)
		if err != nil {
			log.Printf("stream client for %s: %v", u.ID, err)
			continue
		}
		coord := stream.NewReconnectCoordinator(base, max, streamCfg.MaxAttempts, notifier)
		consumer := stream.NewConsumer(client, store, u.ID, pairLocks, coord, notifier)
		consumer.SetBus(bus)
		if err := consumer.Start(ctx); err != nil {
			// The coordinator keeps retrying with backoff; keep the consumer.
			log.Printf("start stream for %s: %v", u.ID, err)
		}
		consumers = append(consumers, consumer)
	}
	return consumers
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "v1.0-dev"
}
