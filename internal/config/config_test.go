package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[scheduler]
budget = "2ms"

[scripts]
dir = "behaviors"
callback_timeout = "0s"

[database]
conn_max_lifetime = "10m"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Budget != 2*time.Millisecond {
		t.Errorf("expected budget 2ms, got %v", cfg.Scheduler.Budget)
	}
	if cfg.Scripts.Dir != "behaviors" || cfg.Scripts.CallbackTimeout != 0 {
		t.Errorf("unexpected scripts section: %+v", cfg.Scripts)
	}
	if cfg.Database.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("expected lifetime 10m, got %v", cfg.Database.ConnMaxLifetime)
	}
	// untouched sections keep defaults
	if cfg.Loop.TickRate != 16*time.Millisecond {
		t.Errorf("expected default tick rate 16ms, got %v", cfg.Loop.TickRate)
	}
	if cfg.Scripts.ConsoleRate != 20 || cfg.Scripts.ConsoleBurst != 40 {
		t.Errorf("expected default console limits, got %v/%d", cfg.Scripts.ConsoleRate, cfg.Scripts.ConsoleBurst)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"zero tick", "[loop]\ntick_rate = \"0s\""},
		{"negative timeout", "[scripts]\ncallback_timeout = \"-1ms\""},
		{"db without dsn", "[database]\nenabled = true\ndsn = \"\""},
		{"bad duration", "[loop]\ntick_rate = \"soon\""},
		{"bad toml", "[loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadAndPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "behaviord.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"json\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPath, path)
	if Path() != path {
		t.Fatalf("expected %s from env, got %s", path, Path())
	}
	cfg, err := Load(Path())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected logging section: %+v", cfg.Logging)
	}

	t.Setenv(EnvPath, "")
	if Path() != DefaultPath {
		t.Errorf("expected default path, got %s", Path())
	}
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
