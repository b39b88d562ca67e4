package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
  "telegram": {"token": "abc", "poll_timeout": "10s"},
  "logging": {"level": "debug", "console": true},
  "scheduler": {"timezone": "UTC"},
  "storage": {"driver": "sqlite", "path": "./bot.db"}
}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "abc" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: abc
logging:
  level: info
  console: true
scheduler:
  timezone: America/Sao_Paulo
storage:
  driver: file
  path: ./data
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Timezone != "America/Sao_Paulo" {
		t.Errorf("Timezone = %q", cfg.Scheduler.Timezone)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "America/Sao_Paulo" {
		t.Errorf("Location = %s", loc)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram": {"token": "abc", "bogus": 1}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown fields should be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram": {"token": "a"}}{"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON should be rejected")
	}
}

func TestParseTokenFromEnv(t *testing.T) {
	path := writeTemp(t, "config.json", `{"telegram": {}}`)
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("Token = %q, want env fallback", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "ok",
			cfg:  Config{Telegram: TelegramConfig{Token: "t"}},
		},
		{
			name:    "missing token",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "bad poll timeout",
			cfg:     Config{Telegram: TelegramConfig{Token: "t", PollTimeout: "soon"}},
			wantErr: true,
		},
		{
			name:    "bad timezone",
			cfg:     Config{Telegram: TelegramConfig{Token: "t"}, Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}},
			wantErr: true,
		},
		{
			name:    "negative busy timeout",
			cfg:     Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{BusyTimeout: "-1s"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("want error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if d, err := Duration("x", ""); err != nil || d != 0 {
		t.Errorf("empty = %s, %v", d, err)
	}
	if d, err := Duration("x", " 90s "); err != nil || d != 90*time.Second {
		t.Errorf("90s = %s, %v", d, err)
	}
	if _, err := Duration("x", "nope"); err == nil {
		t.Error("garbage should be rejected")
	}
	if _, err := Duration("x", "-1m"); err == nil {
		t.Error("negative should be rejected")
	}
	if d, err := DurationOr("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Errorf("default = %s, %v", d, err)
	}
	if d, err := DurationOr("x", "2s", 5*time.Second); err != nil || d != 2*time.Second {
		t.Errorf("explicit = %s, %v", d, err)
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram": {"token": "abc"}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Error("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Error("wrong config delivered")
		}
	default:
		t.Fatal("expected a published config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
}
