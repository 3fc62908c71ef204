package xacl

import (
	"fmt"
	"sync/atomic"

	"github.com/omeyang/xacl/pkg/config/xconf"
)

// Holder 持有可原子替换的当前策略。
//
// 读取方通过 [Holder.Snapshot] 获取快照，进行中的判定继续使用旧快照，
// 替换不需要加锁。
type Holder struct {
	p atomic.Pointer[Policy]
}

// NewHolder 创建持有 p 的 Holder。p 为 nil 时持有 [DefaultPolicy]。
func NewHolder(p *Policy) *Holder {
	if p == nil {
		p = DefaultPolicy()
	}
	h := &Holder{}
	h.p.Store(p)
	return h
}

// Snapshot 返回当前策略。
func (h *Holder) Snapshot() *Policy {
	return h.p.Load()
}

// Store 替换当前策略。
func (h *Holder) Store(p *Policy) error {
	if p == nil {
		return ErrNilPolicy
	}
	h.p.Store(p)
	return nil
}

// ReloadFunc 策略重载回调。err 非 nil 时旧策略保持生效，p 为 nil。
type ReloadFunc func(p *Policy, err error)

// XConfProvider 从 xconf 配置加载策略，并在配置文件变更时重建策略。
type XConfProvider struct {
	cfg  xconf.Config
	path string
}

// NewXConfProvider 创建策略提供者。path 为策略在配置文档中的节点，空字符串表示整个文档。
func NewXConfProvider(cfg xconf.Config, path string) *XConfProvider {
	return &XConfProvider{cfg: cfg, path: path}
}

// Load 读取并构建策略。
func (p *XConfProvider) Load() (*Policy, error) {
	return LoadConfig(p.cfg, p.path)
}

// Watch 监视配置文件，变更后重建策略并写入 h。
//
// 文件读取、解析或策略构建失败时 h 保持原策略，错误通过 onReload 报告。
// 返回的 Watcher 已在后台运行，调用方负责 Stop。
func (p *XConfProvider) Watch(h *Holder, onReload ReloadFunc, opts ...xconf.WatchOption) (*xconf.Watcher, error) {
	w, err := xconf.Watch(p.cfg, func(_ xconf.Config, err error) {
		if err != nil {
			notify(onReload, nil, fmt.Errorf("xacl: reload config: %w", err))
			return
		}
		policy, err := p.Load()
		if err != nil {
			notify(onReload, nil, fmt.Errorf("xacl: rebuild policy: %w", err))
			return
		}
		_ = h.Store(policy)
		notify(onReload, policy, nil)
	}, opts...)
	if err != nil {
		return nil, err
	}
	w.StartAsync()
	return w, nil
}

func notify(fn ReloadFunc, p *Policy, err error) {
	if fn != nil {
		fn(p, err)
	}
}
