package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig 热更新参数。
type WatchConfig struct {
	Enabled  bool          // 是否启用
	Cooldown time.Duration // 两次重载的最小间隔
}

// DefaultWatchConfig 返回默认热更新参数。
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:  true,
		Cooldown: 5 * time.Second,
	}
}

// Watcher 用 fsnotify 监听配置文件,变更且通过校验后回调新配置。
// 解析或校验失败时旧配置继续生效,错误走 OnError。
type Watcher struct {
	// OnError 可选,接收重载失败的错误。
	OnError func(error)

	cfg        WatchConfig
	path       string
	watcher    *fsnotify.Watcher
	onChange   func(AppConfig)
	mu         sync.Mutex
	lastReload time.Time
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewWatcher 创建配置监听器。
func NewWatcher(path string, cfg WatchConfig, onChange func(AppConfig)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		cfg:      cfg,
		path:     path,
		watcher:  fsw,
		onChange: onChange,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听。未启用时立即返回。
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		close(w.doneChan)
		return nil
	}
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.watch(ctx)
	return nil
}

// Stop 停止监听并释放 watcher。
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}

	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// 编辑器常以 rename+create 落盘,两类事件都触发重载。
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail(fmt.Errorf("watcher error: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.cfg.Cooldown {
		return
	}

	cfg, err := LoadWithEnv(w.path)
	if err != nil {
		// 旧配置继续生效,失败不吃冷却窗口,下次变更还会重试。
		w.fail(fmt.Errorf("reload config: %w", err))
		return
	}
	w.lastReload = time.Now()
	w.onChange(cfg)
}

func (w *Watcher) fail(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}

// LastReload 返回最近一次成功触发重载的时间。
func (w *Watcher) LastReload() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
