package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "base58key"
	return cfg
}

func TestDefaultsValidateWithKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with a key should validate: %v", err)
	}
}

func TestValidateRequiresKeySource(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error without a key source")
	}
	if !strings.Contains(err.Error(), "private_key or encrypted_key_path") {
		t.Errorf("error does not mention the key source: %v", err)
	}
}

func TestValidateRequiresPasswordForEncryptedKey(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/etc/solsentry/key.json"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Errorf("expected key_password error, got %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.DataDir = ""
	cfg.Executor.BaseSlippageBps = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "data_dir", "base_slippage_bps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}

func TestValidateSlippageOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Executor.BaseSlippageBps = 500
	cfg.Executor.MaxSlippageBps = 400
	if err := cfg.Validate(); err == nil {
		t.Error("max below base should be rejected")
	}
}

func TestValidateOptionalStoresOnlyWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = "" // fine while disabled
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled store should not be validated: %v", err)
	}

	cfg.S3.Enabled = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Errorf("expected bucket error, got %v", err)
	}
}

func TestValidateGuardStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.GuardSensitiveStrategy = "yolo"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "guard_sensitive_strategy") {
		t.Errorf("expected strategy error, got %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
data_dir = "/var/lib/solsentry"

[guard]
check_interval = "2m"

[executor]
base_slippage_bps = 150
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/solsentry" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Guard.CheckInterval.Duration != 2*time.Minute {
		t.Errorf("guard check_interval = %v, want 2m", cfg.Guard.CheckInterval.Duration)
	}
	if cfg.Executor.BaseSlippageBps != 150 {
		t.Errorf("base_slippage_bps = %d, want 150", cfg.Executor.BaseSlippageBps)
	}
	// Untouched fields keep their defaults.
	if cfg.Executor.MaxSlippageBps != 800 {
		t.Errorf("max_slippage_bps = %d, want default 800", cfg.Executor.MaxSlippageBps)
	}
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`log_level = "warn"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOLSENTRY_LOG_LEVEL", "debug")
	t.Setenv("SOLSENTRY_WALLET_PRIVATE_KEY", "injected")
	t.Setenv("SOLSENTRY_GUARD_CHECK_INTERVAL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want env override debug", cfg.LogLevel)
	}
	if cfg.Wallet.PrivateKey != "injected" {
		t.Errorf("wallet private key not injected from env")
	}
	if cfg.Guard.CheckInterval.Duration != 90*time.Second {
		t.Errorf("guard check_interval = %v, want 90s", cfg.Guard.CheckInterval.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
