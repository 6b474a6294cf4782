package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is one lifecycle event written to the results directory.
type Entry struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	StockCode  string    `json:"stock_code"`
	StockName  string    `json:"stock_name"`
	Price      int64     `json:"price"`
	Quantity   int64     `json:"quantity"`
	ProfitRate float64   `json:"profit_rate,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
}

// Writer persists one JSON document per lifecycle event so trades can be
// audited after the fact. An empty directory disables journaling.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates the results directory and returns a Writer for it.
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Record writes the entry as a standalone JSON file. A missing event id or
// timestamp is filled in.
func (w *Writer) Record(entry Entry) error {
	if w.dir == "" {
		return nil
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}

	name := fmt.Sprintf("%s_%s_%s.json",
		entry.OccurredAt.Format("20060102_150405"),
		entry.StockCode,
		entry.EventType,
	)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	w.logger.Debug("Journal entry written", zap.String("path", path))
	return nil
}
