package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"arb_go/internal/app"
	"arb_go/internal/arb"
	"arb_go/internal/infra/binance"
	"arb_go/internal/market"
	"arb_go/internal/trading"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config
	metrics := bootstrap.Metrics

	// 4. Arbitrage detector, fed by every market orchestrator's fan-out.
	detector := arb.NewDetector(cfg.Arbitrage.PremiumThreshold, nil)

	// 5. One orchestrator pair per configured exchange. All configured
	// exchanges speak the Binance API dialect (binance.com, binance.us,
	// or a compatible test venue).
	for name, exCfg := range cfg.Exchanges {
		exchange := strings.ToUpper(name)
		symbols := app.ParsePairs(exCfg.Pairs, exchange)
		if len(symbols) == 0 {
			slog.Error("no valid pairs, exchange skipped", slog.String("exchange", exchange))
			continue
		}

		rest := binance.NewClient(exCfg)
		go bootstrap.SyncMetadata(ctx, exchange, rest)

		pubStream := binance.NewPublicWS(exCfg, metrics)
		mkt := market.NewOrchestrator(exchange, rest, pubStream, bootstrap.Storage, metrics)
		if err := mkt.Initialize(ctx, symbols); err != nil {
			slog.Error("market orchestrator failed",
				slog.String("exchange", exchange), slog.Any("error", err))
			mkt.Close()
			continue
		}
		defer mkt.Close()
		mkt.Subscribe(detector.Subscriber())
		slog.InfoContext(ctx, "✅ Market orchestrator started",
			slog.String("exchange", exchange), slog.Int("symbols", len(symbols)))

		if exCfg.Trading && exCfg.APIKey != "" {
			privStream := binance.NewPrivateWS(exCfg, rest, symbols, metrics)
			trd := trading.NewOrchestrator(exchange, rest, privStream, trading.Options{
				ExecutedCacheCap:     cfg.Trading.ExecutedCacheCap,
				ExecutedCacheEvictTo: cfg.Trading.ExecutedCacheEvictTo,
			}, metrics)
			if err := trd.Initialize(ctx); err != nil {
				slog.Error("trading orchestrator failed",
					slog.String("exchange", exchange), slog.Any("error", err))
				trd.Close()
				continue
			}
			defer trd.Close()
			slog.InfoContext(ctx, "✅ Trading orchestrator started",
				slog.String("exchange", exchange))
		}
	}

	slog.InfoContext(ctx, "✨ ArbGo fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
