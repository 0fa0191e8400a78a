package config

import (
	"context"
	"os"
	"testing"
	"time"
)

const watchConfigV1 = `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
`

const watchConfigV2 = `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 250
`

const watchConfigInvalid = `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
    numGrids: -1
`

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, watchConfigV1)

	changes := make(chan AppConfig, 4)
	w, err := NewWatcher(path, WatchConfig{Enabled: true}, func(cfg AppConfig) {
		changes <- cfg
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(path, []byte(watchConfigV2), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changes:
		if got := cfg.Symbols["BTCUSDT"].BaseOrderSize; got != 250 {
			t.Fatalf("reloaded baseOrderSize = %v, want 250", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherKeepsOldConfigOnInvalidWrite(t *testing.T) {
	path := writeTempConfig(t, watchConfigV1)

	changes := make(chan AppConfig, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, WatchConfig{Enabled: true}, func(cfg AppConfig) {
		changes <- cfg
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.OnError = func(e error) { errs <- e }
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(path, []byte(watchConfigInvalid), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case e := <-errs:
		if e == nil {
			t.Fatal("nil error on channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	select {
	case cfg := <-changes:
		t.Fatalf("invalid config should not be applied, got %+v", cfg)
	default:
	}

	// 失败不占冷却窗口,随后的有效写入立即生效。
	if err := os.WriteFile(path, []byte(watchConfigV2), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-changes:
		if got := cfg.Symbols["BTCUSDT"].BaseOrderSize; got != 250 {
			t.Fatalf("reloaded baseOrderSize = %v, want 250", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for valid reload")
	}
}

func TestWatcherDisabled(t *testing.T) {
	path := writeTempConfig(t, watchConfigV1)

	w, err := NewWatcher(path, WatchConfig{Enabled: false}, func(AppConfig) {
		t.Error("disabled watcher should never reload")
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := os.WriteFile(path, []byte(watchConfigV2), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	if _, err := NewWatcher("x.yaml", DefaultWatchConfig(), nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestWatcherCooldownSuppressesBursts(t *testing.T) {
	path := writeTempConfig(t, watchConfigV1)

	changes := make(chan AppConfig, 16)
	w, err := NewWatcher(path, WatchConfig{Enabled: true, Cooldown: time.Hour}, func(cfg AppConfig) {
		changes <- cfg
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(watchConfigV2), 0o644); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first reload")
	}

	time.Sleep(200 * time.Millisecond)
	if extra := len(changes); extra != 0 {
		t.Fatalf("expected burst suppressed by cooldown, got %d extra reloads", extra)
	}
}
