package app

import (
	"context"
	"log/slog"
	"strings"

	"arb_go/internal/domain"
	"arb_go/internal/infra"
	"arb_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping ArbGo...",
		slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	store, err := storage.NewStorage()
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	b.Metrics = &infra.Metrics{}
	return nil
}

// SyncMetadata pulls the exchange symbol metadata over REST and
// persists it, so restarts can serve precision rules without waiting
// for the network. A sync failure is logged, not fatal: the previous
// snapshot keeps serving.
func (b *Bootstrap) SyncMetadata(ctx context.Context, exchange string, rest domain.PublicRest) {
	infos, err := rest.SymbolsInfo(ctx)
	if err != nil {
		slog.Warn("metadata sync failed",
			slog.String("exchange", exchange), slog.Any("error", err))
		return
	}
	if err := b.Storage.UpsertSymbols(infos); err != nil {
		slog.Warn("metadata persist failed",
			slog.String("exchange", exchange), slog.Any("error", err))
		return
	}
	slog.Info("✨ Metadata synchronized",
		slog.String("exchange", exchange), slog.Int("symbols", len(infos)))
}

// ParsePairs converts config pair strings ("BTC/USDT") into symbols
// for one exchange. Malformed pairs are skipped with a warning.
func ParsePairs(pairs []string, exchange string) []domain.Symbol {
	out := make([]domain.Symbol, 0, len(pairs))
	for _, p := range pairs {
		parts := strings.Split(p, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			slog.Warn("malformed pair skipped", slog.String("pair", p))
			continue
		}
		out = append(out, domain.NewSymbol(parts[0], parts[1], exchange, domain.MarketSpot))
	}
	return out
}
