package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "solvbot-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.Symbols.Spot != "SOLUSDT" {
		t.Fatalf("unexpected spot symbol: %s", cfg.Symbols.Spot)
	}
	if cfg.Thresholds.MemeDropPct != 0.30 {
		t.Fatalf("unexpected meme_drop_pct: %.2f", cfg.Thresholds.MemeDropPct)
	}
	if cfg.Thresholds.RSIMax != 45 {
		t.Fatalf("unexpected rsi_max: %.1f", cfg.Thresholds.RSIMax)
	}
	if cfg.Thresholds.SupportLow != 160 || cfg.Thresholds.SupportHigh != 162 {
		t.Fatalf("unexpected support band: [%.1f, %.1f]", cfg.Thresholds.SupportLow, cfg.Thresholds.SupportHigh)
	}
	if cfg.Thresholds.StopLoss != 155 {
		t.Fatalf("unexpected stop_loss: %.1f", cfg.Thresholds.StopLoss)
	}
	if cfg.Risk.PauseThreshold != 4 {
		t.Fatalf("unexpected pause threshold: %d", cfg.Risk.PauseThreshold)
	}
	if cfg.Execution.TrancheCount != 3 {
		t.Fatalf("unexpected tranche count: %d", cfg.Execution.TrancheCount)
	}
	if cfg.Execution.TrancheHorizon != 2*time.Hour {
		t.Fatalf("unexpected tranche horizon: %s", cfg.Execution.TrancheHorizon)
	}
	if cfg.Execution.RepriceTolerance != 0.001 {
		t.Fatalf("unexpected reprice tolerance: %f", cfg.Execution.RepriceTolerance)
	}
	if cfg.Feeds.GapTolerance != 5 {
		t.Fatalf("unexpected gap tolerance: %d", cfg.Feeds.GapTolerance)
	}
	if !cfg.Feeds.SolanaWS.Enabled {
		t.Fatalf("expected solana feed enabled")
	}
	if cfg.Feeds.PumpFun.PollInterval != time.Hour {
		t.Fatalf("unexpected pumpfun poll interval: %s", cfg.Feeds.PumpFun.PollInterval)
	}
	if cfg.Venue.Mode != "paper" {
		t.Fatalf("unexpected venue mode: %s", cfg.Venue.Mode)
	}
	if cfg.Ledger.StartingEquity != 10000 {
		t.Fatalf("unexpected starting equity: %.2f", cfg.Ledger.StartingEquity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	minimal := "symbols:\n  spot: SOLUSDT\nthresholds:\n  stop_loss: 155\n"
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatalf("write minimal config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Thresholds.MemeDropPct != 0.30 {
		t.Fatalf("default meme_drop_pct not applied: %.2f", cfg.Thresholds.MemeDropPct)
	}
	if cfg.Risk.PauseThreshold != 4 {
		t.Fatalf("default pause threshold not applied: %d", cfg.Risk.PauseThreshold)
	}
	if cfg.Execution.TrancheCount != 3 {
		t.Fatalf("default tranche count not applied: %d", cfg.Execution.TrancheCount)
	}
	if cfg.Execution.ShutdownGrace != 5*time.Second {
		t.Fatalf("default shutdown grace not applied: %s", cfg.Execution.ShutdownGrace)
	}
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	bad := "symbols:\n  spot: SOLUSDT\nthresholds:\n  stop_loss: 161\n  support_low: 160\n  support_high: 162\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for stop above support")
	}
}

func TestStoreReloadKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	good := "symbols:\n  spot: SOLUSDT\nthresholds:\n  stop_loss: 155\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	store := NewStore(path, cfg)

	if err := os.WriteFile(path, []byte("symbols: [broken"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatalf("expected reload error for broken file")
	}
	if store.Current().Symbols.Spot != "SOLUSDT" {
		t.Fatalf("broken reload clobbered live config")
	}

	updated := "symbols:\n  spot: SOLUSDC\nthresholds:\n  stop_loss: 155\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if store.Current().Symbols.Spot != "SOLUSDC" {
		t.Fatalf("reload did not take effect")
	}
}
