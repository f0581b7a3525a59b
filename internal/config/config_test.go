package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecode_StrictJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"nope":1}`))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}

	_, err = Decode("c.json", []byte(`{"telegram":{"token":"x"}}{"x":1}`))
	if err == nil {
		t.Fatalf("expected trailing data error")
	}

	cfg, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"watch":{"poll_interval":"30s"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Watch.PollInterval != "30s" {
		t.Fatalf("poll_interval=%q", cfg.Watch.PollInterval)
	}
}

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	src := `
telegram:
  token: abc
  owner_user_ids: [1, 2]
watch:
  poll_interval: 45s
  auto:
    enabled: true
    schedule: "*/10 * * * *"
    chat_id: -1001
`
	cfg, err := Decode("config.yaml", []byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if !cfg.Watch.Auto.Enabled || cfg.Watch.Auto.ChatID != -1001 {
		t.Fatalf("auto=%+v", cfg.Watch.Auto)
	}

	if _, err := Decode("config.yml", []byte("telegram:\n  tokn: x\n")); err == nil {
		t.Fatalf("expected unknown field error for yaml")
	}

	// No extension: sniffed.
	if _, err := Decode("config", []byte(`{"telegram":{}}`)); err != nil {
		t.Fatalf("sniff json: %v", err)
	}
	if _, err := Decode("config", []byte("telegram: {}\n")); err != nil {
		t.Fatalf("sniff yaml: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty ok", cfg: Config{}},
		{name: "bad poll", cfg: Config{Watch: WatchConfig{PollInterval: "soon"}}, wantErr: "watch.poll_interval"},
		{name: "negative grace", cfg: Config{Watch: WatchConfig{StartGrace: "-1s"}}, wantErr: "watch.start_grace"},
		{name: "auto without chat", cfg: Config{Watch: WatchConfig{Auto: AutoWatchConfig{Enabled: true, Schedule: "@hourly"}}}, wantErr: "watch.auto.chat_id"},
		{name: "bad driver", cfg: Config{Storage: &StorageConfig{Driver: "mongo"}}, wantErr: "storage.driver"},
		{name: "bad url", cfg: Config{Codeforces: CodeforcesConfig{BaseURL: "ftp://x"}}, wantErr: "codeforces.base_url"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()

	if got := DurationOr("", time.Minute); got != time.Minute {
		t.Fatalf("empty: got %v", got)
	}
	if got := DurationOr("5s", time.Minute); got != 5*time.Second {
		t.Fatalf("5s: got %v", got)
	}
	if got := DurationOr("garbage", time.Minute); got != time.Minute {
		t.Fatalf("garbage: got %v", got)
	}
}

func TestReload_PublishesOnlyChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"watch":{"poll_interval":"60s"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatalf("unchanged file should not publish")
	}

	write(`{"watch":{"poll_interval":"30s"}}`)
	if !m.reload(context.Background()) {
		t.Fatalf("changed file should publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Watch.PollInterval != "30s" {
			t.Fatalf("published poll_interval=%q", cfg.Watch.PollInterval)
		}
	default:
		t.Fatalf("expected published config")
	}

	write(`{"watch":{"poll_interval":"never"}}`)
	if m.reload(context.Background()) {
		t.Fatalf("invalid config should be rejected")
	}
	if got := m.Get().Watch.PollInterval; got != "30s" {
		t.Fatalf("committed poll_interval=%q after rejected reload", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Watch: WatchConfig{PollInterval: "10s"}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "watch" {
		t.Fatalf("changed=%v (token changes must not be reported)", changed)
	}

	defN := DefaultNotifier()
	changed, _ = SummarizeConfigChange(&Config{}, &Config{Notifier: &defN})
	if len(changed) != 0 {
		t.Fatalf("explicit defaults should equal omitted notifier, got %v", changed)
	}
}
