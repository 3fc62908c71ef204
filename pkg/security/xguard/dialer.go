package xguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"syscall"
	"time"

	"github.com/omeyang/xacl/pkg/observability/xmetrics"
	"github.com/omeyang/xacl/pkg/security/xacl"
)

//go:generate mockgen -source=dialer.go -destination=mock_resolver_test.go -package=xguard

// Resolver 把主机名解析为 IP 地址。*net.Resolver 满足此接口。
//
// network 取值 "ip"、"ip4" 或 "ip6"。
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// 默认拨号参数。
const (
	DefaultDialTimeout = 30 * time.Second
	DefaultKeepAlive   = 30 * time.Second
)

// Dialer 受访问控制保护的拨号器。
//
// 拨号流程：
//
//  1. PreConnect 判定主机与端口，拒绝时不发起任何 DNS 查询
//  2. IP 字面量直接使用；否则优先使用策略中的静态解析，再使用 Resolver
//  3. OnResolved 过滤解析结果，全部被拒绝时返回 ResolutionExhausted
//  4. 按解析顺序逐个尝试放行的地址
//  5. 套接字 connect 之前由 Control 钩子再次判定实际远端地址
type Dialer struct {
	guard    *Guard
	resolver Resolver
	dialer   net.Dialer
}

// DialerOption 配置 Dialer。
type DialerOption func(*Dialer)

// WithResolver 设置解析器，nil 忽略。默认使用 net.DefaultResolver。
func WithResolver(r Resolver) DialerOption {
	return func(d *Dialer) {
		if r != nil {
			d.resolver = r
		}
	}
}

// WithDialTimeout 设置单次连接超时，非正值忽略。
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		if timeout > 0 {
			d.dialer.Timeout = timeout
		}
	}
}

// WithKeepAlive 设置 TCP keep-alive 间隔，负值关闭。
func WithKeepAlive(interval time.Duration) DialerOption {
	return func(d *Dialer) {
		d.dialer.KeepAlive = interval
	}
}

// NewDialer 创建受 g 保护的拨号器。
func (g *Guard) NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		guard:    g,
		resolver: net.DefaultResolver,
		dialer: net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.dialer.ControlContext = d.control
	return d
}

// Guard 返回拨号器使用的守卫。
func (d *Dialer) Guard() *Guard {
	return d.guard
}

// DialContext 与 net.Dialer.DialContext 签名一致，可直接用于 http.Transport。
//
// 拒绝时返回的错误满足 errors.Is(err, xacl.ErrDenied)。
func (d *Dialer) DialContext(ctx context.Context, network, address string) (conn net.Conn, err error) {
	family, err := ipFamily(network)
	if err != nil {
		return nil, err
	}
	host, port, err := splitHostPort(address)
	if err != nil {
		return nil, err
	}

	ctx, span := xmetrics.Start(ctx, d.guard.recorder, xmetrics.StageDial, host)
	defer func() { span.End(err) }()

	addrs, err := d.resolve(ctx, family, host, port)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, a := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, netip.AddrPortFrom(a, port).String())
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// resolve 执行拨号流程的 1 到 3 步，返回可以连接的地址。
func (d *Dialer) resolve(ctx context.Context, family, host string, port uint16) ([]netip.Addr, error) {
	if err := d.guard.PreConnect(ctx, host, port); err != nil {
		return nil, err
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.Unmap()}, nil
	}

	candidates, err := d.lookup(ctx, family, host)
	if err != nil {
		return nil, err
	}
	return d.guard.OnResolved(ctx, host, candidates)
}

// lookup 优先返回静态解析结果（按地址族过滤），否则以规范化后的主机名查询解析器。
func (d *Dialer) lookup(ctx context.Context, family, host string) (addrs []netip.Addr, err error) {
	if static, ok := d.guard.Policy().StaticMapping(host); ok {
		return filterFamily(static, family), nil
	}
	if name, err := xacl.NormalizeHost(host); err == nil {
		host = name
	}

	ctx, span := xmetrics.Start(ctx, d.guard.recorder, xmetrics.StageResolve, host)
	defer func() { span.End(err) }()

	addrs, err = d.resolver.LookupNetIP(ctx, family, host)
	if err != nil {
		return nil, fmt.Errorf("xguard: lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
	}
	return addrs, nil
}

// control 在 connect(2) 之前复核内核实际使用的远端地址。
func (d *Dialer) control(ctx context.Context, _, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return d.guard.CheckAddr(ctx, ap.Addr())
}

// ipFamily 把拨号网络映射为解析用的地址族。
func ipFamily(network string) (string, error) {
	switch network {
	case "tcp", "udp":
		return "ip", nil
	case "tcp4", "udp4":
		return "ip4", nil
	case "tcp6", "udp6":
		return "ip6", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
}

func filterFamily(addrs []netip.Addr, family string) []netip.Addr {
	if family == "ip" {
		return addrs
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if (family == "ip4") == a.Unmap().Is4() {
			out = append(out, a)
		}
	}
	return out
}

func splitHostPort(address string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || host == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return host, uint16(port), nil
}
