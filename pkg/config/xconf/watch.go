package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce 默认防抖时间。
const DefaultDebounce = 100 * time.Millisecond

// WatchCallback 文件变更回调。err 非 nil 表示重载失败，此时 cfg 仍持有旧内容。
type WatchCallback func(cfg Config, err error)

// Watcher 配置文件监视器，文件内容变化后自动 Reload 并回调。
//
// 重载与回调都在监视循环所在的 goroutine 中串行执行。
type Watcher struct {
	cfg      *koanfConfig
	watcher  *fsnotify.Watcher
	callback WatchCallback
	debounce time.Duration
	reloadCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	inCb    bool
	timer   *time.Timer
}

// WatchOption 监视器选项。
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
}

// WithDebounce 设置防抖时间，窗口内的多次变更只触发一次重载。默认 [DefaultDebounce]。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) { o.debounce = d }
}

// Watch 创建配置文件监视器。
//
// 监视的是文件所在目录，以覆盖编辑器"写临时文件再 rename"的保存方式。
// 内容未变化的写入不会触发回调。返回的 Watcher 需调用 Start 或 StartAsync 开始监视。
//
//	w, err := xconf.Watch(cfg, func(c xconf.Config, err error) { ... })
//	if err != nil {
//	    return err
//	}
//	w.StartAsync()
//	defer w.Stop()
func Watch(cfg Config, callback WatchCallback, opts ...WatchOption) (*Watcher, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	kc, ok := cfg.(*koanfConfig)
	if !ok || kc.path == "" {
		return nil, ErrNotFromFile
	}

	o := &watchOptions{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(o)
	}
	if o.debounce <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDebounce, o.debounce)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}
	dir := filepath.Dir(kc.path)
	if err := fsWatcher.Add(dir); err != nil {
		return nil, errors.Join(
			fmt.Errorf("xconf: watch directory %s: %w", dir, err),
			fsWatcher.Close(),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:      kc,
		watcher:  fsWatcher,
		callback: callback,
		debounce: o.debounce,
		reloadCh: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start 在当前 goroutine 中运行监视循环，直到 Stop。
func (w *Watcher) Start() {
	if !w.markRunning() {
		return
	}
	w.run()
}

// StartAsync 在后台 goroutine 中运行监视循环并立即返回。
func (w *Watcher) StartAsync() {
	if !w.markRunning() {
		return
	}
	go w.run()
}

func (w *Watcher) markRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return false
	}
	w.running = true
	return true
}

// Stop 停止监视并等待监视循环退出，返回后不会再开始新的回调。
// 回调执行期间调用 Stop 不等待该回调结束，因此在回调中调用 Stop 不会死锁。可重复调用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.cancel()
	wait := w.running && !w.inCb
	w.mu.Unlock()

	err := w.watcher.Close()
	if wait {
		<-w.done
	}
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	filename := filepath.Base(w.cfg.path)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.reloadCh:
			w.reload()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, filename)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fire(fmt.Errorf("xconf: watch error: %w", err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, filename string) {
	if filepath.Base(event.Name) != filename {
		return
	}
	// Rename 覆盖 vim/emacs 的原子写入；Remove 由随后的 Create 处理。
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.reloadCh <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) reload() {
	before := w.cfg.Revision()
	err := w.cfg.Reload()
	if err == nil && w.cfg.Revision() == before {
		return
	}
	w.fire(err)
}

func (w *Watcher) fire(err error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inCb = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inCb = false
		w.mu.Unlock()
	}()
	w.callback(w.cfg, err)
}
