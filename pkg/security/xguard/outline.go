package xguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/dns"
	"github.com/Jigsaw-Code/outline-sdk/transport"
	retry "github.com/avast/retry-go/v5"
	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xacl/pkg/observability/xmetrics"
)

// StreamDialer 实现 outline-sdk 的 transport.StreamDialer。
//
// 判定流程与 [Dialer] 相同，IPv4 与 IPv6 地址并行解析并按 Happy Eyeballs v2 建立连接。
// 每个地址族的解析结果独立经过守卫过滤。
type StreamDialer struct {
	dialer *Dialer
	base   transport.StreamDialer
}

var _ transport.StreamDialer = (*StreamDialer)(nil)

// StreamDialer 返回与 d 共用守卫、解析器与 Control 钩子的 outline-sdk 拨号器。
//
// base 为 nil 时使用直连 TCP；非 nil 时（例如经过隧道的拨号器）只有解析前与解析后的判定生效。
func (d *Dialer) StreamDialer(base transport.StreamDialer) *StreamDialer {
	if base == nil {
		base = &transport.TCPDialer{Dialer: d.dialer}
	}
	return &StreamDialer{dialer: d, base: base}
}

// DialStream 实现 transport.StreamDialer。
func (s *StreamDialer) DialStream(ctx context.Context, address string) (conn transport.StreamConn, err error) {
	host, port, err := splitHostPort(address)
	if err != nil {
		return nil, err
	}

	ctx, span := xmetrics.Start(ctx, s.dialer.guard.recorder, xmetrics.StageDial, host)
	defer func() { span.End(err) }()

	if err := s.dialer.guard.PreConnect(ctx, host, port); err != nil {
		return nil, err
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return s.base.DialStream(ctx, address)
	}

	he := &transport.HappyEyeballsStreamDialer{
		Dialer: s.base,
		Resolve: transport.NewParallelHappyEyeballsResolveFunc(
			func(ctx context.Context, hostname string) ([]netip.Addr, error) {
				return s.resolve(ctx, "ip6", hostname)
			},
			func(ctx context.Context, hostname string) ([]netip.Addr, error) {
				return s.resolve(ctx, "ip4", hostname)
			},
		),
	}
	return he.DialStream(ctx, address)
}

// resolve 解析单个地址族并过滤。该地址族没有任何记录时返回空结果而不是拒绝。
func (s *StreamDialer) resolve(ctx context.Context, family, host string) ([]netip.Addr, error) {
	candidates, err := s.dialer.lookup(ctx, family, host)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return s.dialer.guard.OnResolved(ctx, host, candidates)
}

// DNS 查询重试默认值。
const (
	DefaultQueryAttempts   = 2
	DefaultQueryRetryDelay = 50 * time.Millisecond
)

// DNSResolver 把 outline-sdk 的 dns.Resolver（UDP、TCP、DoT、DoH）适配为 [Resolver]。
//
// 传输层失败（超时、连接被拒）按固定间隔重试；服务器返回的 RCode 错误不重试。
type DNSResolver struct {
	r        dns.Resolver
	attempts uint
	delay    time.Duration
}

var _ Resolver = (*DNSResolver)(nil)

// DNSOption 配置 [DNSResolver]。
type DNSOption func(*DNSResolver)

// WithQueryAttempts 设置单个查询的总尝试次数（含首次），0 按 1 处理。
func WithQueryAttempts(n uint) DNSOption {
	return func(d *DNSResolver) {
		d.attempts = max(n, 1)
	}
}

// WithQueryRetryDelay 设置重试间隔，负值被忽略。
func WithQueryRetryDelay(delay time.Duration) DNSOption {
	return func(d *DNSResolver) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// NewDNSResolver 创建适配器。
func NewDNSResolver(r dns.Resolver, opts ...DNSOption) (*DNSResolver, error) {
	if r == nil {
		return nil, ErrNilResolver
	}
	d := &DNSResolver{r: r, attempts: DefaultQueryAttempts, delay: DefaultQueryRetryDelay}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// NewUDPResolver 创建向 server 发送 UDP 查询的解析器。
// server 必须是 IP 地址，未指定端口时使用 53。
func NewUDPResolver(server string, opts ...DNSOption) (*DNSResolver, error) {
	if server == "" {
		return nil, fmt.Errorf("%w: empty DNS server", ErrInvalidAddress)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	ap, err := netip.ParseAddrPort(server)
	if err != nil || ap.Port() == 0 {
		return nil, fmt.Errorf("%w: DNS server %q", ErrInvalidAddress, server)
	}
	return NewDNSResolver(dns.NewUDPResolver(&transport.UDPDialer{}, ap.String()), opts...)
}

// LookupNetIP 实现 [Resolver]。network 为 "ip" 时并行查询 A 与 AAAA 记录，
// 任一查询成功即返回，IPv4 地址在前。
func (d *DNSResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	switch network {
	case "ip4":
		return d.query(ctx, dnsmessage.TypeA, host)
	case "ip6":
		return d.query(ctx, dnsmessage.TypeAAAA, host)
	case "ip":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}

	var (
		v4, v6     []netip.Addr
		err4, err6 error
		g          errgroup.Group
	)
	g.Go(func() error {
		v4, err4 = d.query(ctx, dnsmessage.TypeA, host)
		return nil
	})
	g.Go(func() error {
		v6, err6 = d.query(ctx, dnsmessage.TypeAAAA, host)
		return nil
	})
	_ = g.Wait()

	if err4 != nil && err6 != nil {
		return nil, errors.Join(err4, err6)
	}
	return append(v4, v6...), nil
}

func (d *DNSResolver) query(ctx context.Context, qtype dnsmessage.Type, host string) ([]netip.Addr, error) {
	name := host
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	q, err := dns.NewQuestion(name, qtype)
	if err != nil {
		return nil, fmt.Errorf("xguard: dns question %s: %w", host, err)
	}
	resp, err := retry.NewWithData[*dnsmessage.Message](
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	).Do(func() (*dnsmessage.Message, error) {
		return d.r.Query(ctx, *q)
	})
	if err != nil {
		return nil, fmt.Errorf("xguard: dns query %s %s: %w", qtype, host, err)
	}
	if resp.RCode != dnsmessage.RCodeSuccess {
		return nil, fmt.Errorf("xguard: dns query %s %s: %s", qtype, host, resp.RCode)
	}

	var addrs []netip.Addr
	for _, ans := range resp.Answers {
		if ans.Header.Type != qtype {
			continue
		}
		switch rr := ans.Body.(type) {
		case *dnsmessage.AResource:
			addrs = append(addrs, netip.AddrFrom4(rr.A))
		case *dnsmessage.AAAAResource:
			addrs = append(addrs, netip.AddrFrom16(rr.AAAA))
		}
	}
	return addrs, nil
}
