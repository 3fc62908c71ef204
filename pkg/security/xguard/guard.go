package xguard

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/omeyang/xacl/pkg/observability/xlog"
	"github.com/omeyang/xacl/pkg/observability/xmetrics"
	"github.com/omeyang/xacl/pkg/security/xacl"
)

// Guard 解析守卫：在解析前判定主机与端口，在连接前逐个判定解析出的地址。
//
// Guard 不缓存任何判定，每次调用都读取策略来源的当前快照，
// 可被任意 goroutine 并发使用。
type Guard struct {
	src      xacl.Source
	logger   xlog.Logger
	recorder xmetrics.Recorder
}

// Option 配置 Guard。
type Option func(*Guard)

// WithLogger 设置日志记录器，nil 忽略。
func WithLogger(l xlog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder 设置判定指标记录器，nil 忽略。
func WithRecorder(r xmetrics.Recorder) Option {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// New 创建 Guard。src 通常是 [*xacl.Policy] 或支持热更新的 [*xacl.Holder]。
func New(src xacl.Source, opts ...Option) (*Guard, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	g := &Guard{
		src:      src,
		logger:   xlog.Discard(),
		recorder: xmetrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(xlog.Component("xguard"))
	return g, nil
}

// Policy 返回当前生效的策略快照。
func (g *Guard) Policy() *xacl.Policy {
	return g.src.Snapshot()
}

// Filter 返回通过 IP 判定的候选地址，保持原有顺序，IPv4-mapped 地址还原为 IPv4。
//
// host 仅用于标识，不参与判定。Filter 不记录日志与指标。
func (g *Guard) Filter(host string, candidates []netip.Addr) []netip.Addr {
	admitted, _ := screen(g.src.Snapshot(), candidates)
	return admitted
}

// Admit 与 Filter 相同，但没有候选地址通过时返回 ResolutionExhausted 拒绝错误，
// 错误中携带每个被拒绝地址的判定。
func (g *Guard) Admit(host string, candidates []netip.Addr) ([]netip.Addr, error) {
	admitted, decisions := screen(g.src.Snapshot(), candidates)
	if len(admitted) == 0 {
		return nil, exhausted(host, decisions)
	}
	return admitted, nil
}

// PreConnect 在任何 DNS 查询之前判定主机与端口。
//
// 主机为 IP 字面量时结果即为最终判定；否则放行结果是临时的，
// 连接前仍需经过 [Guard.OnResolved]。
func (g *Guard) PreConnect(ctx context.Context, host string, port uint16) error {
	d := g.src.Snapshot().Evaluate(host, port, netip.Addr{})
	g.recorder.RecordDecision(ctx, xmetrics.StagePreConnect, d)
	if !d.Allowed {
		g.logger.Warn(ctx, "pre-connect denied", xlog.Host(host), xlog.Port(port), decisionAttr(d))
	}
	return d.Err()
}

// OnResolved 判定解析结果，返回可以连接的地址。
//
// 每个候选地址的判定都会计入指标；全部被拒绝时返回 ResolutionExhausted。
func (g *Guard) OnResolved(ctx context.Context, host string, addrs []netip.Addr) ([]netip.Addr, error) {
	admitted, decisions := screen(g.src.Snapshot(), addrs)
	for _, d := range decisions {
		g.recorder.RecordDecision(ctx, xmetrics.StageResolve, d)
	}
	rejected := len(decisions) - len(admitted)
	if len(admitted) == 0 {
		err := exhausted(host, decisions)
		g.recorder.RecordDecision(ctx, xmetrics.StageResolve, err.Decision)
		g.logger.Warn(ctx, "resolution exhausted",
			xlog.Host(host), xlog.Addrs(addrs), xlog.Count(int64(rejected)))
		return nil, err
	}
	if rejected > 0 {
		g.logger.Info(ctx, "resolution filtered",
			xlog.Host(host), xlog.Addrs(admitted), xlog.Count(int64(rejected)))
	} else {
		g.logger.Debug(ctx, "resolution admitted", xlog.Host(host), xlog.Addrs(admitted))
	}
	return admitted, nil
}

// CheckAddr 复核即将连接的远端地址，用于套接字建立前的最后一道检查。
func (g *Guard) CheckAddr(ctx context.Context, addr netip.Addr) error {
	d := g.src.Snapshot().IsIPAllowed(addr)
	g.recorder.RecordDecision(ctx, xmetrics.StageDial, d)
	if !d.Allowed {
		g.logger.Warn(ctx, "dial denied", xlog.Addr(addr), decisionAttr(d))
	}
	return d.Err()
}

// screen 按顺序判定候选地址，返回放行地址（IPv4-mapped 还原）与全部判定。
func screen(p *xacl.Policy, candidates []netip.Addr) ([]netip.Addr, []xacl.Decision) {
	admitted := make([]netip.Addr, 0, len(candidates))
	decisions := make([]xacl.Decision, 0, len(candidates))
	for _, a := range candidates {
		d := p.IsIPAllowed(a)
		decisions = append(decisions, d)
		if d.Allowed {
			admitted = append(admitted, a.Unmap())
		}
	}
	return admitted, decisions
}

// exhausted 构造 ResolutionExhausted 拒绝错误，decisions 中的放行判定被忽略。
func exhausted(host string, decisions []xacl.Decision) *xacl.DeniedError {
	value := host
	if name, err := xacl.NormalizeHost(host); err == nil {
		value = name
	}
	var rejected []xacl.Decision
	for _, d := range decisions {
		if !d.Allowed {
			rejected = append(rejected, d)
		}
	}
	return &xacl.DeniedError{
		Decision: xacl.Decision{
			Reason:  xacl.ResolutionExhausted,
			Subject: xacl.SubjectHost,
			Value:   value,
		},
		Rejected: rejected,
	}
}

func decisionAttr(d xacl.Decision) slog.Attr {
	return slog.String("decision", d.String())
}
