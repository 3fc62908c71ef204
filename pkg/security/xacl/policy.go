package xacl

import (
	"net/netip"
	"net/url"
	"slices"
	"strconv"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

// Policy 不可变的访问控制策略，由 [Builder] 生成，可被任意 goroutine 并发使用。
type Policy struct {
	hosts   matcher[string, HostPattern]
	ports   matcher[uint16, PortRange]
	ips     matcher[netip.Addr, IPRange]
	schemes matcher[string, token]
	methods matcher[string, token]
	paths   matcher[string, PathPattern]

	blocked xnet.Categories
	static  map[string][]netip.Addr
	config  Config
}

// Source 提供当前生效策略的快照。[*Policy] 与 [*Holder] 都实现了 Source。
type Source interface {
	Snapshot() *Policy
}

// DefaultPolicy 返回全部使用默认值的策略。
func DefaultPolicy() *Policy {
	return NewBuilder().MustBuild()
}

// Snapshot 返回 p 本身，使 *Policy 可直接作为 [Source] 使用。
func (p *Policy) Snapshot() *Policy {
	return p
}

// BlockedCategories 返回被屏蔽的地址分类。
func (p *Policy) BlockedCategories() xnet.Categories {
	return p.blocked
}

// Config 导出生效规则，可序列化后由 [Config.Build] 重建等价策略。
func (p *Policy) Config() Config {
	return p.config.clone()
}

// IsHostAllowed 判定主机。IP 字面量（含 "[::1]" 形式）交由 IP 匹配器判定。
func (p *Policy) IsHostAllowed(host string) Decision {
	if addr, err := xnet.ParseAddr(host); err == nil {
		return p.IsIPAllowed(addr)
	}
	name, err := NormalizeHost(host)
	if err != nil {
		return invalid(SubjectHost, host)
	}
	return p.hosts.decide(name, name)
}

// IsPortAllowed 判定端口，端口 0 视为无效输入。
func (p *Policy) IsPortAllowed(port uint16) Decision {
	value := strconv.Itoa(int(port))
	if port == 0 {
		return invalid(SubjectPort, value)
	}
	return p.ports.decide(port, value)
}

// IsIPAllowed 判定 IP。zone 被忽略，IPv4-mapped IPv6 与对应 IPv4 判定一致。
//
// 顺序：拒绝规则 → 被屏蔽的地址分类 → 允许规则 → 默认裁决。
// 地址分类屏蔽不能被允许规则豁免。
func (p *Policy) IsIPAllowed(ip netip.Addr) Decision {
	if !ip.IsValid() {
		return invalid(SubjectIP, "")
	}
	ip = ip.WithZone("").Unmap()
	return p.ips.decide(ip, ip.String())
}

// IsSchemeAllowed 判定 URL scheme（大小写不敏感）。
func (p *Policy) IsSchemeAllowed(scheme string) Decision {
	v, err := NormalizeScheme(scheme)
	if err != nil {
		return invalid(SubjectScheme, scheme)
	}
	return p.schemes.decide(v, v)
}

// IsMethodAllowed 判定 HTTP 方法（大小写不敏感）。
func (p *Policy) IsMethodAllowed(method string) Decision {
	v, err := NormalizeMethod(method)
	if err != nil {
		return invalid(SubjectMethod, method)
	}
	return p.methods.decide(v, v)
}

// IsURLPathAllowed 判定已解码的 URL 路径，判定前按 [NormalizeURLPath] 规范化。
func (p *Policy) IsURLPathAllowed(urlPath string) Decision {
	v, err := NormalizeURLPath(urlPath)
	if err != nil {
		return invalid(SubjectPath, urlPath)
	}
	return p.paths.decide(v, v)
}

// Evaluate 依次判定主机、端口、IP，遇到第一个拒绝即返回；全部放行时返回最后一项判定。
//
// ip 为零值表示尚未解析：主机为 IP 字面量时返回该地址的 IP 判定，是最终判定；
// 否则放行结果被标记为 Provisional，建立连接前必须由解析守卫逐个校验解析出的地址。
func (p *Policy) Evaluate(host string, port uint16, ip netip.Addr) Decision {
	hd := p.IsHostAllowed(host)
	if !hd.Allowed {
		return hd
	}
	d := p.IsPortAllowed(port)
	if !d.Allowed {
		return d
	}
	if !ip.IsValid() {
		if hd.Subject == SubjectIP {
			return hd
		}
		d.Provisional = true
		return d
	}
	return p.IsIPAllowed(ip)
}

// Check 是 Evaluate 的 error 形式，拒绝时返回 [*DeniedError]。
func (p *Policy) Check(host string, port uint16, ip netip.Addr) error {
	return p.Evaluate(host, port, ip).Err()
}

// IsURLAllowed 依次判定 URL 的 scheme、路径、主机与端口。
// 主机为域名时放行结果为 Provisional，主机为 IP 字面量时为最终判定。
//
// 未显式指定端口时按 scheme 推断：http/ws 为 80，https/wss 为 443；
// 其它 scheme 缺少端口视为无效输入。userinfo 与查询参数不参与判定。
func (p *Policy) IsURLAllowed(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return invalid(SubjectURL, rawURL)
	}
	if d := p.IsSchemeAllowed(u.Scheme); !d.Allowed {
		return d
	}
	if d := p.IsURLPathAllowed(u.Path); !d.Allowed {
		return d
	}
	port, ok := urlPort(u)
	if !ok {
		return invalid(SubjectURL, rawURL)
	}
	return p.Evaluate(u.Hostname(), port, netip.Addr{})
}

// IsRequestAllowed 先判定 HTTP 方法，再按 [Policy.IsURLAllowed] 判定 URL。
func (p *Policy) IsRequestAllowed(method, rawURL string) Decision {
	if d := p.IsMethodAllowed(method); !d.Allowed {
		return d
	}
	return p.IsURLAllowed(rawURL)
}

func urlPort(u *url.URL) (uint16, bool) {
	if s := u.Port(); s != "" {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil || v == 0 {
			return 0, false
		}
		return uint16(v), true
	}
	port, ok := defaultSchemePorts[u.Scheme]
	return port, ok
}

// StaticMapping 返回主机名的静态解析结果。
func (p *Policy) StaticMapping(host string) ([]netip.Addr, bool) {
	if len(p.static) == 0 {
		return nil, false
	}
	name, err := NormalizeHost(host)
	if err != nil {
		return nil, false
	}
	addrs, ok := p.static[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(addrs), true
}
