package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ckpt.json")

	basis := 0.42
	want := Checkpoint{
		SavedAtMs: 1700000000000,
		Traders: map[string]TraderOverlay{
			"will-it-rain": {Slug: "will-it-rain", CostBasis: &basis, RealizedPnL: 1.5, Trades: 3},
			"fresh-market": {Slug: "fresh-market"},
		},
	}
	if err := SaveCheckpoint(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("expected checkpoint to be found")
	}
	if got.SavedAtMs != want.SavedAtMs {
		t.Errorf("saved_at_ms=%d want %d", got.SavedAtMs, want.SavedAtMs)
	}
	ov, ok := got.Traders["will-it-rain"]
	if !ok {
		t.Fatalf("missing trader overlay")
	}
	if ov.CostBasis == nil || *ov.CostBasis != basis {
		t.Errorf("cost basis not preserved: %v", ov.CostBasis)
	}
	if ov.RealizedPnL != 1.5 || ov.Trades != 3 {
		t.Errorf("overlay fields not preserved: %+v", ov)
	}
	if other, ok := got.Traders["fresh-market"]; !ok || other.CostBasis != nil {
		t.Errorf("fresh overlay should have nil basis: %+v", other)
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, found, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if found {
		t.Fatalf("missing file reported as found")
	}
}

func TestLoadCheckpointCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadCheckpoint(path); err == nil {
		t.Fatalf("corrupt checkpoint should error")
	}
}

func TestSaveCheckpointEmptyPathIsNoop(t *testing.T) {
	if err := SaveCheckpoint("", Checkpoint{}); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
