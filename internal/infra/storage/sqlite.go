package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"arb_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SymbolRecord is the persisted symbol metadata row. It mirrors
// domain.SymbolInfo so a restart can serve precision rules before the
// first exchange-info call completes.
type SymbolRecord struct {
	Key          string `gorm:"primaryKey"` // e.g. BTC/USDT@BINANCE:spot
	Base         string
	Quote        string
	Exchange     string `gorm:"index"`
	Market       string
	ExchangeName string
	PricePrec    int
	QtyPrec      int
	MinQty       string
	MinNotional  string
	Active       bool
	UpdatedAt    time.Time
}

// Storage is the sqlite-backed symbol metadata provider.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a SQLite storage instance at the default OS path.
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}
	return NewStorageAt(dbPath)
}

// NewStorageAt creates a SQLite storage instance at an explicit path.
func NewStorageAt(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SymbolRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "ArbGo", "data", "arbgo.db"), nil
}

// UpsertSymbols writes a batch of symbol metadata, typically straight
// from an exchange-info bootstrap call.
func (s *Storage) UpsertSymbols(infos []domain.SymbolInfo) error {
	for _, info := range infos {
		rec := toRecord(info)
		if err := s.db.Save(&rec).Error; err != nil {
			return fmt.Errorf("upsert symbol %s: %w", rec.Key, err)
		}
	}
	return nil
}

// SymbolInfo retrieves metadata for one symbol. Not found is nil, nil.
func (s *Storage) SymbolInfo(symbol domain.Symbol) (*domain.SymbolInfo, error) {
	var rec SymbolRecord
	err := s.db.First(&rec, "key = ?", symbol.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info := toInfo(rec)
	return &info, nil
}

// AllSymbols retrieves all metadata for one exchange.
func (s *Storage) AllSymbols(exchange string) ([]domain.SymbolInfo, error) {
	var recs []SymbolRecord
	if err := s.db.Find(&recs, "exchange = ?", exchange).Error; err != nil {
		return nil, err
	}

	out := make([]domain.SymbolInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toInfo(rec))
	}
	return out, nil
}

// DeleteSymbol removes one symbol's metadata.
func (s *Storage) DeleteSymbol(symbol domain.Symbol) error {
	return s.db.Where("key = ?", symbol.String()).Delete(&SymbolRecord{}).Error
}

func toRecord(info domain.SymbolInfo) SymbolRecord {
	return SymbolRecord{
		Key:          info.Symbol.String(),
		Base:         info.Symbol.Base,
		Quote:        info.Symbol.Quote,
		Exchange:     info.Symbol.Exchange,
		Market:       string(info.Symbol.Market),
		ExchangeName: info.ExchangeName,
		PricePrec:    info.PricePrec,
		QtyPrec:      info.QtyPrec,
		MinQty:       info.MinQty.String(),
		MinNotional:  info.MinNotional.String(),
		Active:       info.Active,
		UpdatedAt:    time.Now(),
	}
}

func toInfo(rec SymbolRecord) domain.SymbolInfo {
	minQty, _ := decimal.NewFromString(rec.MinQty)
	minNotional, _ := decimal.NewFromString(rec.MinNotional)
	return domain.SymbolInfo{
		Symbol:       domain.NewSymbol(rec.Base, rec.Quote, rec.Exchange, domain.MarketType(rec.Market)),
		PricePrec:    rec.PricePrec,
		QtyPrec:      rec.QtyPrec,
		MinQty:       minQty,
		MinNotional:  minNotional,
		ExchangeName: rec.ExchangeName,
		Active:       rec.Active,
	}
}
