package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cstahmer1/spotagent/internal/corerr"
)

func baseYAML() string {
	return `
execution:
    execution_mode: paper
    max_slippage_bps: 300
    loop_seconds: 5
risk:
    max_daily_drawdown_pct: 0.05
    max_turnover_pct_per_day: 2.0
    take_profit_pct: 0.5
slots:
    core_slots: 5
    scout_slots: 10
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestValidate_RejectsOutOfRangeDrawdown(t *testing.T) {
	cfg := Config{}
	cfg.Execution.Mode = "paper"
	cfg.Execution.LoopSeconds = 5
	cfg.Risk.MaxDailyDrawdownPct = 1.5 // out of [0,1]

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error for out-of-range drawdown")
	}
	if !corerr.Is(err, corerr.KindConfigValidation) {
		t.Errorf("expected KindConfigValidation, got %v", err)
	}
}

func TestValidate_RejectsUnknownExecutionMode(t *testing.T) {
	cfg := Config{}
	cfg.Execution.Mode = "sandbox"
	cfg.Execution.LoopSeconds = 5

	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for unknown execution_mode")
	}
}

func TestManager_LoadsDefaultsAndValidates(t *testing.T) {
	path := writeConfig(t, baseYAML())
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cfg := m.Get()
	if cfg.Execution.Mode != "paper" {
		t.Errorf("execution_mode = %q, want paper", cfg.Execution.Mode)
	}
	if cfg.Slots.CoreSlots != 5 || cfg.Slots.ScoutSlots != 10 {
		t.Errorf("slots = %+v, want core=5 scout=10", cfg.Slots)
	}
}

func TestManager_UpdateRejectsInvalidPatch(t *testing.T) {
	path := writeConfig(t, baseYAML())
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	err = m.Update(func(c *Config) {
		c.Risk.MaxDailyDrawdownPct = 5.0 // invalid
	})
	if err == nil {
		t.Fatal("expected Update to reject an out-of-range patch")
	}

	// Prior config must be unchanged.
	if m.Get().Risk.MaxDailyDrawdownPct != 0.05 {
		t.Errorf("config was mutated despite rejected patch: %v", m.Get().Risk.MaxDailyDrawdownPct)
	}
}

func TestManager_UpdateAppliesValidPatch(t *testing.T) {
	path := writeConfig(t, baseYAML())
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if err := m.Update(func(c *Config) { c.Slots.CoreSlots = 8 }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if m.Get().Slots.CoreSlots != 8 {
		t.Errorf("core_slots = %d, want 8", m.Get().Slots.CoreSlots)
	}
}

// Dev-lock: execution_mode cannot be promoted to live outside production
// while execution_mode_locked_in_dev is set.
func TestManager_DevLockBlocksPromotionToLive(t *testing.T) {
	path := writeConfig(t, baseYAML())
	os.Setenv("APP_ENV", "development")
	defer os.Unsetenv("APP_ENV")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	err = m.Update(func(c *Config) {
		c.Execution.Mode = "live"
		c.Execution.ModeLockedInDev = true
	})
	if err == nil {
		t.Fatal("expected dev-lock to block promotion to live")
	}
	if m.Get().Execution.Mode != "paper" {
		t.Error("execution_mode must remain paper after a rejected promotion")
	}
}

func TestApplyRiskProfile_OverlaysNamedBundle(t *testing.T) {
	cfg := Config{}
	if err := ApplyRiskProfile(&cfg, "degen"); err != nil {
		t.Fatalf("ApplyRiskProfile failed: %v", err)
	}
	if cfg.Risk.MaxDailyDrawdownPct != 0.15 {
		t.Errorf("drawdown = %v, want 0.15 for degen profile", cfg.Risk.MaxDailyDrawdownPct)
	}
	if cfg.ActiveRiskProfile != "degen" {
		t.Errorf("ActiveRiskProfile = %q, want degen", cfg.ActiveRiskProfile)
	}
}

func TestApplyRiskProfile_UnknownNameErrors(t *testing.T) {
	cfg := Config{}
	if err := ApplyRiskProfile(&cfg, "yolo"); err == nil {
		t.Fatal("expected error for unknown risk profile name")
	}
}

func TestNormalizePercent_RoundTrips(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{25.0, 0.25},
		{0.25, 0.25},
		{100.0, 1.0},
		{0.5, 0.5},
	}
	for _, c := range cases {
		if got := NormalizePercent(c.in); got != c.want {
			t.Errorf("NormalizePercent(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
