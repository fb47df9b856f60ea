// Package recordstore persists announcements, closed trades and daily
// performance rows to sqlite and serves historical statistics back to
// the strategy calculator.
package recordstore

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/momentumalpha/trading-engine/internal/announce"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/order"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

// AnnouncementRecord is one processed disclosure, tradeable or not.
// Hash is the dedupe key carried from ingestion.
type AnnouncementRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Hash       string `gorm:"uniqueIndex;size:64"`
	Title      string
	Symbol     string `gorm:"index"`
	Company    string
	PDFURL     string
	ReceivedAt time.Time
	Processed  bool
	Tradeable  bool
	Reason     string // reject reason when not tradeable
	Confidence float64
	OrderValue float64
	CreatedAt  time.Time
}

// TradeRecord is one closed round trip. PeakPct, DaysToPeak and
// Volatility feed the historical-statistics queries.
type TradeRecord struct {
	ID               uint   `gorm:"primaryKey"`
	OrderID          string `gorm:"uniqueIndex;size:64"`
	AnnouncementHash string `gorm:"index;size:64"`
	Symbol           string `gorm:"index"`
	Sector           string `gorm:"index"`
	Side             string
	Quantity         int
	EntryTime        time.Time `gorm:"index"`
	ExitTime         time.Time
	EntryPrice       float64
	ExitPrice        float64
	TargetPrice      float64
	StopPrice        float64
	PnL              float64
	PeakPct          float64
	DaysToPeak       float64
	Volatility       float64
	CloseReason      string
	CreatedAt        time.Time
}

// PerformanceRecord is one trading day's summary row.
type PerformanceRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Day          string `gorm:"uniqueIndex;size:10"` // YYYY-MM-DD exchange-local
	TradesClosed int
	Wins         int
	Losses       int
	GrossPnL     float64 `gorm:"column:gross_pnl"`
	CreatedAt    time.Time
}

type Store struct {
	db *gorm.DB
}

// New opens (or creates) the sqlite database at path and migrates the
// schema.
func New(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("recordstore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AnnouncementRecord{}, &TradeRecord{}, &PerformanceRecord{}); err != nil {
		return nil, fmt.Errorf("recordstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveAnnouncement inserts a normalized announcement. Replays of a
// hash already on file are ignored, the row from the first sighting
// wins.
func (s *Store) SaveAnnouncement(ctx context.Context, a *announce.Announcement) error {
	rec := AnnouncementRecord{
		Hash:       a.ContentHash,
		Title:      a.RawTitle,
		Symbol:     a.SymbolHint,
		Company:    a.CompanyName,
		PDFURL:     a.PDFReference,
		ReceivedAt: a.ReceivedAt,
	}
	err := s.db.WithContext(ctx).
		Where(AnnouncementRecord{Hash: a.ContentHash}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("recordstore: save announcement %s: %w", a.ContentHash, err)
	}
	return nil
}

// MarkProcessed records the classification verdict for a hash.
func (s *Store) MarkProcessed(ctx context.Context, hash string, sig *classify.Signal, rej *classify.Rejection) error {
	updates := map[string]any{"processed": true}
	if sig != nil {
		updates["tradeable"] = true
		updates["symbol"] = sig.Symbol
		updates["confidence"] = sig.Confidence
		updates["order_value"] = sig.OrderValue
	} else if rej != nil {
		updates["tradeable"] = false
		updates["reason"] = string(rej.Reason)
	}
	err := s.db.WithContext(ctx).
		Model(&AnnouncementRecord{}).
		Where("hash = ?", hash).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("recordstore: mark processed %s: %w", hash, err)
	}
	return nil
}

// AppendOutcome writes a closed-trade row.
func (s *Store) AppendOutcome(ctx context.Context, out order.Outcome) error {
	rec := TradeRecord{
		OrderID:          out.OrderID,
		AnnouncementHash: out.AnnouncementHash,
		Symbol:           out.Symbol,
		Sector:           out.Sector,
		Side:             string(out.Side),
		Quantity:         out.Quantity,
		EntryTime:        out.EntryTime,
		ExitTime:         out.ExitTime,
		EntryPrice:       out.EntryPrice,
		ExitPrice:        out.ExitPrice,
		TargetPrice:      out.TargetPrice,
		StopPrice:        out.StopPrice,
		PnL:              out.PnL,
		PeakPct:          out.PeakPct,
		DaysToPeak:       out.DaysToPeak,
		Volatility:       out.Volatility,
		CloseReason:      string(out.CloseReason),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("recordstore: append outcome %s: %w", out.OrderID, err)
	}
	observ.IncCounter("recordstore_trades_total", map[string]string{"symbol": out.Symbol})
	return nil
}

// SymbolStats aggregates closed trades for one symbol within the
// lookback window.
func (s *Store) SymbolStats(ctx context.Context, symbol string, lookbackDays int) (strategy.HistoricalStat, error) {
	return s.aggregate(ctx, "symbol = ?", symbol, lookbackDays)
}

// SectorStats aggregates closed trades across a sector within the
// lookback window.
func (s *Store) SectorStats(ctx context.Context, sector string, lookbackDays int) (strategy.HistoricalStat, error) {
	return s.aggregate(ctx, "sector = ?", sector, lookbackDays)
}

func (s *Store) aggregate(ctx context.Context, cond, arg string, lookbackDays int) (strategy.HistoricalStat, error) {
	since := time.Now().AddDate(0, 0, -lookbackDays)
	var rows []TradeRecord
	err := s.db.WithContext(ctx).
		Where(cond, arg).
		Where("entry_time >= ?", since).
		Find(&rows).Error
	if err != nil {
		return strategy.HistoricalStat{}, fmt.Errorf("recordstore: aggregate %s: %w", arg, err)
	}
	if len(rows) == 0 {
		return strategy.HistoricalStat{}, nil
	}

	peaks := make([]float64, 0, len(rows))
	days := make([]float64, 0, len(rows))
	vols := make([]float64, 0, len(rows))
	for _, r := range rows {
		peaks = append(peaks, r.PeakPct)
		days = append(days, r.DaysToPeak)
		vols = append(vols, r.Volatility)
	}
	avgPeak, err := stats.Mean(peaks)
	if err != nil {
		return strategy.HistoricalStat{}, fmt.Errorf("recordstore: mean peak: %w", err)
	}
	avgDays, err := stats.Mean(days)
	if err != nil {
		return strategy.HistoricalStat{}, fmt.Errorf("recordstore: mean days: %w", err)
	}
	avgVol, err := stats.Mean(vols)
	if err != nil {
		return strategy.HistoricalStat{}, fmt.Errorf("recordstore: mean vol: %w", err)
	}
	return strategy.HistoricalStat{
		SampleSize:    len(rows),
		AvgPeakPct:    avgPeak,
		AvgDaysToPeak: avgDays,
		AvgVolatility: avgVol,
	}, nil
}

// WriteDailySummary upserts the summary row for the given exchange
// day from that day's closed trades.
func (s *Store) WriteDailySummary(ctx context.Context, day time.Time) (PerformanceRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var rows []TradeRecord
	err := s.db.WithContext(ctx).
		Where("exit_time >= ? AND exit_time < ?", start, end).
		Find(&rows).Error
	if err != nil {
		return PerformanceRecord{}, fmt.Errorf("recordstore: daily summary query: %w", err)
	}

	rec := PerformanceRecord{Day: start.Format("2006-01-02")}
	for _, r := range rows {
		rec.TradesClosed++
		rec.GrossPnL += r.PnL
		if r.PnL >= 0 {
			rec.Wins++
		} else {
			rec.Losses++
		}
	}
	err = s.db.WithContext(ctx).
		Where(PerformanceRecord{Day: rec.Day}).
		Assign(map[string]any{
			"trades_closed": rec.TradesClosed,
			"wins":          rec.Wins,
			"losses":        rec.Losses,
			"gross_pnl":     rec.GrossPnL,
		}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return PerformanceRecord{}, fmt.Errorf("recordstore: daily summary upsert: %w", err)
	}
	observ.Log("daily_summary", map[string]any{
		"day": rec.Day, "trades": rec.TradesClosed, "wins": rec.Wins,
		"losses": rec.Losses, "gross_pnl": rec.GrossPnL,
	})
	return rec, nil
}

// Announcements returns the most recent n announcement rows, newest
// first.
func (s *Store) Announcements(ctx context.Context, n int) ([]AnnouncementRecord, error) {
	var rows []AnnouncementRecord
	err := s.db.WithContext(ctx).
		Order("received_at desc").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recordstore: list announcements: %w", err)
	}
	return rows, nil
}

// Close releases the underlying sqlite handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
