// state/journal.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grid_hedge_bot/profit"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
)

// LegRecord is one persisted ladder leg.
type LegRecord struct {
	Side       strategy.Side   `json:"side"`
	LevelIndex int             `json:"level"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderID    string          `json:"order_id"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// CycleRecord is the report entry for one finished cycle.
type CycleRecord struct {
	CycleID     string          `json:"cycle_id"`
	Symbol      string          `json:"symbol"`
	Reason      string          `json:"reason"`
	StartedAt   time.Time       `json:"started_at"`
	ClosedAt    time.Time       `json:"closed_at"`
	Legs        []LegRecord     `json:"legs"`
	LongPnL     decimal.Decimal `json:"long_pnl"`
	ShortPnL    decimal.Decimal `json:"short_pnl"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Journal appends finished cycles to a JSON report. It is never read back:
// a restart begins a new file and carries no ladder state over.
type Journal struct {
	mu       sync.Mutex
	filePath string
	records  []CycleRecord
}

// NewJournal creates the report file <dir>/cycles_<symbol>_<start>.json.
func NewJournal(dir, symbol string, startedAt time.Time) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	name := fmt.Sprintf("cycles_%s_%s.json", symbol, startedAt.UTC().Format("20060102T150405"))
	j := &Journal{
		filePath: filepath.Join(dir, name),
		records:  make([]CycleRecord, 0),
	}
	if err := j.save(); err != nil {
		return nil, fmt.Errorf("failed to create journal file: %w", err)
	}
	return j, nil
}

// Path is the report file location.
func (j *Journal) Path() string { return j.filePath }

// Append records a settled cycle and rewrites the report atomically.
func (j *Journal) Append(symbol string, res profit.CycleResult) error {
	rec := CycleRecord{
		CycleID:     res.CycleID,
		Symbol:      symbol,
		Reason:      string(res.Reason),
		StartedAt:   res.StartedAt,
		ClosedAt:    res.ClosedAt,
		Legs:        make([]LegRecord, 0, len(res.Legs)),
		LongPnL:     res.LongPnL,
		ShortPnL:    res.ShortPnL,
		RealizedPnL: res.RealizedPnL,
	}
	for _, l := range res.Legs {
		rec.Legs = append(rec.Legs, LegRecord{
			Side:       l.Side,
			LevelIndex: l.LevelIndex,
			EntryPrice: l.EntryPrice,
			Quantity:   l.Quantity,
			OrderID:    l.OrderID,
			OpenedAt:   l.OpenedAt,
		})
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return j.save()
}

// Len is the number of cycles written.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// save writes to a temp file and renames it over the report. Callers hold mu.
func (j *Journal) save() error {
	data, err := json.MarshalIndent(j.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}
	tmpFilePath := j.filePath + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary journal file: %w", err)
	}
	return os.Rename(tmpFilePath, j.filePath)
}
