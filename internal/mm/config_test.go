package mm

import (
	"testing"
	"time"
)

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 3 * time.Second},
		{"5s", 5 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"bogus", 3 * time.Second},
		{"-1", 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := envDuration("TEST_DURATION", 3*time.Second); got != tt.want {
				t.Fatalf("envDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"true", true},
		{"1", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := envBool("TEST_BOOL", true); got != tt.want {
				t.Fatalf("envBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestManagerConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"MANAGER_POLL_INTERVAL", "MANAGER_STATUS_INTERVAL", "MANAGER_SYNC_INTERVAL",
		"MANAGER_MAX_EXPOSURE", "MANAGER_MAX_PNL_LOSS", "MANAGER_EMERGENCY_SHUTDOWN",
	} {
		t.Setenv(key, "")
	}

	cfg := ManagerConfigFromEnv()
	if cfg.PollInterval != time.Second || cfg.StatusInterval != 5*time.Second || cfg.RosterSyncInterval != 30*time.Second {
		t.Fatalf("intervals = %v/%v/%v", cfg.PollInterval, cfg.StatusInterval, cfg.RosterSyncInterval)
	}
	if cfg.MaxExposure != 10000 || cfg.MaxPnLLoss != -1000 || !cfg.EmergencyShutdown {
		t.Fatalf("limits = %v/%v/%v", cfg.MaxExposure, cfg.MaxPnLLoss, cfg.EmergencyShutdown)
	}
}

func TestTraderConfigsFromEnv(t *testing.T) {
	t.Setenv("TRADER_MARKETS", "alpha, beta,gamma")
	t.Setenv("TRADER_BUDGETS", "100,50")
	t.Setenv("TRADER_MIN_GAPS", "2")
	t.Setenv("TRADER_NAMES", "Alpha")
	t.Setenv("TRADER_DEFAULT_BUDGET", "25")
	t.Setenv("TRADER_DEFAULT_MIN_GAP", "3")
	t.Setenv("TRADER_DEFAULT_PRICE_IMPROVEMENT", "1")

	cfgs, err := TraderConfigsFromEnv()
	if err != nil {
		t.Fatalf("TraderConfigsFromEnv: %v", err)
	}
	if len(cfgs) != 3 {
		t.Fatalf("len = %d, want 3", len(cfgs))
	}

	if cfgs[0].MarketSlug != "alpha" || cfgs[0].Budget != 100 || cfgs[0].MinGapCents != 2 || cfgs[0].Name != "Alpha" {
		t.Fatalf("cfgs[0] = %+v", cfgs[0])
	}
	if cfgs[1].Budget != 50 || cfgs[1].MinGapCents != 3 || cfgs[1].Name != "" {
		t.Fatalf("cfgs[1] = %+v", cfgs[1])
	}
	if cfgs[2].Budget != 25 || cfgs[2].PriceImprovementCents != 1 {
		t.Fatalf("cfgs[2] = %+v", cfgs[2])
	}

	t.Setenv("TRADER_BUDGETS", "not-a-number")
	if _, err := TraderConfigsFromEnv(); err == nil {
		t.Fatal("expected error for malformed budgets")
	}

	t.Setenv("TRADER_MARKETS", "")
	t.Setenv("TRADER_BUDGETS", "")
	cfgs, err = TraderConfigsFromEnv()
	if err != nil || cfgs != nil {
		t.Fatalf("empty markets: %v, %v", cfgs, err)
	}
}

func TestCentsConversion(t *testing.T) {
	cfg := TraderConfig{MinGapCents: 2, PriceImprovementCents: 1}
	if cfg.minGap() != 0.02 {
		t.Fatalf("minGap = %v, want 0.02", cfg.minGap())
	}
	if cfg.priceImprovement() != 0.01 {
		t.Fatalf("priceImprovement = %v, want 0.01", cfg.priceImprovement())
	}
}
