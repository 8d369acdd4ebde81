package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/credentials"
	"execution-core/internal/events"
	"execution-core/internal/executor"
	"execution-core/internal/fanout"
	"execution-core/internal/reconciler"
	"execution-core/internal/tasks"
	"execution-core/internal/tracker"
	"execution-core/pkg/cache"
	"execution-core/pkg/config"
	"execution-core/pkg/crypto"
	"execution-core/pkg/db"
	market "execution-core/pkg/market/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config load failed: %v", err)
	}
	log.Printf("main: starting on port %s, db=%s", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("main: db migrations failed: %v", err)
	}

	ring, err := crypto.LoadKeyRing()
	if err != nil {
		log.Fatalf("main: credential key ring: %v", err)
	}

	instruments, err := config.LoadInstruments(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("main: instrument metadata: %v", err)
	}
	log.Printf("main: %d instruments loaded", instruments.Len())

	// In-memory book seeded from persisted snapshots.
	book := tracker.New()
	snapshots, err := database.ListPositions(ctx, "")
	if err != nil {
		log.Fatalf("main: load position snapshots: %v", err)
	}
	book.Load(snapshots)
	log.Printf("main: %d open positions restored", book.Len())

	bus := events.NewBus()
	runner := tasks.NewRunner(ctx)
	resolver := credentials.NewResolver(database, ring)
	prices := cache.NewPriceCache()

	if cfg.EnablePriceStream {
		stream := market.NewStreamClient(prices)
		go stream.Run(ctx, cfg.PriceStreamSymbols)
	}

	svc := executor.NewService(resolver, book, database, instruments, bus, runner,
		cfg.MarginBufferPct, cfg.ExecutionEnabled)

	engine := fanout.New(svc, resolver, database, bus, cfg.FanOutWorkers, cfg.MarginBufferPct)
	svc.AttachHook(engine)

	recon := reconciler.New(book, database, prices, resolver, cfg.ReconcileInterval, cfg.PriceMaxAge)
	go recon.Run(ctx)

	// Log-only notification consumer; real delivery is an external
	// collaborator reading the same bus.
	subscribeLogging(bus)

	server := api.NewServer(svc, recon, database, ring, resolver, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")
	cancel()
	runner.Shutdown(10 * time.Second)
}

func subscribeLogging(bus *events.Bus) {
	for _, topic := range []events.Event{
		events.EventTradeOpened,
		events.EventTradeClosed,
		events.EventTradeRejected,
		events.EventCopyTradePlaced,
		events.EventCopyTradeSkipped,
		events.EventCopyPaused,
		events.EventReauthRequired,
	} {
		ch, _ := bus.Subscribe(topic, 64)
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				log.Printf("event: %s %+v", topic, payload)
			}
		}(topic, ch)
	}
}
