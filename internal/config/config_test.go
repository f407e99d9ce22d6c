package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: info
  console: true
scheduler:
  utc_offset: "+05:30"
digest:
  enabled: true
  spec: "@daily"
`

const sampleTOML = `
[telegram]
token = "123:abc"
owner_user_ids = [42]

[scheduler]
utc_offset = "-02:00"

[storage]
driver = "sqlite"
path = "./data.db"
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		path   string
		data   string
		offset int
	}{
		{"json", "c.json", `{"telegram":{"token":"x"},"scheduler":{"utc_offset":"+03:00"}}`, 3 * 3600},
		{"yaml", "c.yaml", sampleYAML, 5*3600 + 30*60},
		{"toml", "c.toml", sampleTOML, -2 * 3600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.path, []byte(tc.data))
			require.NoError(t, err)
			require.NoError(t, Validate(cfg))
			_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
			require.Equal(t, tc.offset, off)
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.yaml", []byte("telegram:\n  token: x\n  tokne: y\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{"telegram":{"token":"x"}} {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"minimal", Config{Telegram: TelegramConfig{Token: "t"}}, false},
		{"missing token", Config{}, true},
		{"bad offset", Config{Telegram: TelegramConfig{Token: "t"}, Scheduler: SchedulerConfig{UTCOffset: "3"}}, true},
		{"bad duration", Config{Telegram: TelegramConfig{Token: "t", PollTimeout: "soon"}}, true},
		{"file storage without path", Config{Telegram: TelegramConfig{Token: "t"}, Storage: &StorageConfig{Driver: "file"}}, true},
		{"unknown storage", Config{Telegram: TelegramConfig{Token: "t"}, Storage: &StorageConfig{Driver: "redis", Path: "x"}}, true},
		{"bad cron", Config{Telegram: TelegramConfig{Token: "t"}, Digest: &DigestConfig{Enabled: true, Spec: "every day"}}, true},
		{"public ops without token", Config{Telegram: TelegramConfig{Token: "t"}, Ops: OpsConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, true},
		{"public ops with token", Config{Telegram: TelegramConfig{Token: "t"}, Ops: OpsConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "s"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseUTCOffset(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"":       3 * 3600,
		"+03:00": 3 * 3600,
		"-07:30": -(7*3600 + 30*60),
		"+9":     9 * 3600,
		"UTC":    0,
	}
	for in, want := range cases {
		loc, err := ParseUTCOffset(in)
		require.NoError(t, err, in)
		_, off := time.Date(2024, 6, 1, 0, 0, 0, 0, loc).Zone()
		require.Equal(t, want, off, in)
	}
	for _, bad := range []string{"03:00", "+25:00", "+03:7", "+ab"} {
		_, err := ParseUTCOffset(bad)
		require.Error(t, err, bad)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Ops: OpsConfig{Token: "one"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Ops: OpsConfig{Token: "two"}, Scheduler: SchedulerConfig{UTCOffset: "+01:00"}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"scheduler", "telegram.token"}, changed)
	require.Equal(t, []string{"scheduler", "telegram.token"}, NeedsRestart(changed))
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"},"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-ch:
		require.Equal(t, "debug", cfg.Logging.Level)
		require.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
