package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/locks"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/stream"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/binance/futures"
)

// user_stream_check connects a user data stream end to end:
// listenKey creation, websocket dial, keepalive, and event handling against
// a throwaway database. Fills on the account show up as log lines.
//
// Usage:
//
//	SMOKE_API_KEY=... SMOKE_API_SECRET=... go run ./scripts/user_stream_check
//
// Ctrl-C to stop; the listenKey is deleted on shutdown.
func main() {
	log.Println("=== User stream check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}

	apiKey := os.Getenv("SMOKE_API_KEY")
	apiSecret := os.Getenv("SMOKE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("SMOKE_API_KEY / SMOKE_API_SECRET are required")
	}

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("init DB error: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations error: %v", err)
	}
	store := trades.NewStore(db.NewTradeQueries(database.DB))

	client := futures.NewClient(futures.Config{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Testnet:    cfg.BinanceTestnet,
		BaseURL:    cfg.VenueRESTBase,
		WSBaseURL:  cfg.VenueWSBase,
		RecvWindow: cfg.VenueRecvWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := notify.LogNotifier{}
	coord := stream.NewReconnectCoordinator(time.Second, time.Minute, 5, notifier)
	consumer := stream.NewConsumer(client, store, "stream-check", locks.NewRegistry(), coord, notifier)

	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("stream start error: %v", err)
	}
	log.Println("Stream connected; place or fill an order on the account to see events.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	consumer.Stop(shutdownCtx)
	log.Println("=== User stream check done ===")
}
