package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TraderOverlay is the locally tracked bookkeeping for one trader that cannot
// be recovered from the exchange after a restart: weighted-average cost basis,
// cumulative realized P&L, and the completed-trade count. The exchange stays
// the ground truth for inventory; this is a best-effort overlay only.
type TraderOverlay struct {
	Slug        string   `json:"slug"`
	CostBasis   *float64 `json:"cost_basis,omitempty"`
	RealizedPnL float64  `json:"realized_pnl"`
	Trades      int      `json:"trades"`
}

// Checkpoint is the on-disk snapshot of all trader overlays, keyed by slug.
type Checkpoint struct {
	SavedAtMs int64                    `json:"saved_at_ms"`
	Traders   map[string]TraderOverlay `json:"traders"`
}

func LoadCheckpoint(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if ckpt.Traders == nil {
		ckpt.Traders = make(map[string]TraderOverlay)
	}
	return ckpt, true, nil
}

// SaveCheckpoint writes the checkpoint atomically (write tmp, rename).
func SaveCheckpoint(path string, ckpt Checkpoint) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
