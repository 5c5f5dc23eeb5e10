package config

import (
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()

	if cfg.Risk.StopLossRatio >= 0 {
		t.Errorf("default stop loss ratio %v not negative", cfg.Risk.StopLossRatio)
	}
	if len(cfg.Risk.TrailingTiers) == 0 {
		t.Fatal("no default trailing tiers")
	}
	// Tiers must be usable highest threshold first after engine sorting;
	// defaults already come ordered
	for i := 1; i < len(cfg.Risk.TrailingTiers); i++ {
		if cfg.Risk.TrailingTiers[i].GainThreshold >= cfg.Risk.TrailingTiers[i-1].GainThreshold {
			t.Errorf("tier %d threshold %v not below tier %d threshold %v",
				i, cfg.Risk.TrailingTiers[i].GainThreshold, i-1, cfg.Risk.TrailingTiers[i-1].GainThreshold)
		}
	}
	if cfg.Monitor.TickInterval != 3*time.Second {
		t.Errorf("tick interval = %v, want 3s", cfg.Monitor.TickInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "false")
	t.Setenv("DB_PATH", "/tmp/override.db")
	t.Setenv("SYMBOLS", "000001.SZ, 600519.SH ,")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	cfg := Default()
	applyEnv(cfg)

	if cfg.SimulationMode {
		t.Error("SIMULATION_MODE=false not applied")
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "000001.SZ" || cfg.Symbols[1] != "600519.SH" {
		t.Errorf("symbols = %v, want trimmed pair", cfg.Symbols)
	}
	if cfg.TelegramChatID != 12345 {
		t.Errorf("chat id = %d", cfg.TelegramChatID)
	}
}

func TestProviderReloadBumpsVersion(t *testing.T) {
	p := NewProvider(Default())

	if got := p.Current().Version; got != 1 {
		t.Fatalf("initial version = %d, want 1", got)
	}

	snap, err := p.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("reloaded version = %d, want 2", snap.Version)
	}
	if p.Current().Version != 2 {
		t.Errorf("current version = %d, want 2", p.Current().Version)
	}
}
