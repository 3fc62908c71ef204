package xacl

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

// entry 允许列表中的规则。seeded 标记内置默认项（端口 80/443、http/https、标准方法），
// 内置项被拒绝规则或用户显式规则覆盖时在 Build 阶段静默移除，不视为冲突。
type entry[R any] struct {
	rule   R
	seeded bool
}

// Builder 策略构建器。
//
// 所有 Add/Set 方法返回 *Builder 以支持链式调用；首个错误被记录，
// 之后的调用不再生效，错误由 [Builder.Build] 返回。
//
// 默认值：
//   - 主机：默认允许
//   - 端口：默认拒绝，预置允许 80 与 443
//   - IP：默认允许，屏蔽全部非全局地址分类
//   - scheme：仅允许 http、https
//   - 方法：默认拒绝，预置允许全部标准方法
//   - URL 路径：默认允许
type Builder struct {
	allowHosts []HostPattern
	denyHosts  []HostPattern

	allowPorts []entry[PortRange]
	denyPorts  []PortRange

	allowIPs []IPRange
	denyIPs  []IPRange

	allowSchemes []entry[string]
	denySchemes  []string

	allowMethods []entry[string]
	denyMethods  []string

	allowPaths []PathPattern
	denyPaths  []PathPattern

	hostDefault   Verdict
	portDefault   Verdict
	ipDefault     Verdict
	methodDefault Verdict
	pathDefault   Verdict

	blocked xnet.Categories
	static  map[string][]netip.Addr

	err error
}

// NewBuilder 创建带默认值的构建器。
func NewBuilder() *Builder {
	b := &Builder{
		hostDefault:   Allow,
		portDefault:   Deny,
		ipDefault:     Allow,
		methodDefault: Deny,
		pathDefault:   Allow,
		blocked:       xnet.AllCategories,
		static:        make(map[string][]netip.Addr),
		allowPorts: []entry[PortRange]{
			{rule: PortRange{Lo: 80, Hi: 80}, seeded: true},
			{rule: PortRange{Lo: 443, Hi: 443}, seeded: true},
		},
	}
	for _, s := range DefaultSchemes {
		b.allowSchemes = append(b.allowSchemes, entry[string]{rule: s, seeded: true})
	}
	for _, m := range StandardMethods {
		b.allowMethods = append(b.allowMethods, entry[string]{rule: m, seeded: true})
	}
	return b
}

// Err 返回已记录的首个错误。
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// =============================================================================
// 主机规则
// =============================================================================

// AddAllowedHost 添加允许的主机规则（"api.example.com" 或 "*.example.com"）。
func (b *Builder) AddAllowedHost(pattern string) *Builder {
	return b.addHost(&b.allowHosts, "allowed", pattern)
}

// AddDeniedHost 添加拒绝的主机规则。
func (b *Builder) AddDeniedHost(pattern string) *Builder {
	return b.addHost(&b.denyHosts, "denied", pattern)
}

func (b *Builder) addHost(list *[]HostPattern, kind, pattern string) *Builder {
	if b.err != nil {
		return b
	}
	p, err := ParseHostPattern(pattern)
	if err != nil {
		return b.fail(fmt.Errorf("%s host: %w", kind, err))
	}
	if slices.Contains(*list, p) {
		return b.fail(fmt.Errorf("%s host: %w: %s", kind, ErrDuplicateRule, p))
	}
	*list = append(*list, p)
	return b
}

// ClearAllowedHosts 清空允许的主机规则。
func (b *Builder) ClearAllowedHosts() *Builder {
	b.allowHosts = nil
	return b
}

// ClearDeniedHosts 清空拒绝的主机规则。
func (b *Builder) ClearDeniedHosts() *Builder {
	b.denyHosts = nil
	return b
}

// SetHostDefault 设置主机默认裁决。
func (b *Builder) SetHostDefault(v Verdict) *Builder {
	b.hostDefault = v
	return b
}

// =============================================================================
// 端口规则
// =============================================================================

// AddAllowedPortRange 添加允许的端口范围 [lo, hi]。
func (b *Builder) AddAllowedPortRange(lo, hi uint16) *Builder {
	if b.err != nil {
		return b
	}
	p, err := NewPortRange(lo, hi)
	if err != nil {
		return b.fail(fmt.Errorf("allowed port: %w", err))
	}
	for i, e := range b.allowPorts {
		if e.rule != p {
			continue
		}
		if e.seeded {
			b.allowPorts[i].seeded = false
			return b
		}
		return b.fail(fmt.Errorf("allowed port: %w: %s", ErrDuplicateRule, p))
	}
	b.allowPorts = append(b.allowPorts, entry[PortRange]{rule: p})
	return b
}

// AddAllowedPort 添加单个允许端口。
func (b *Builder) AddAllowedPort(port uint16) *Builder {
	return b.AddAllowedPortRange(port, port)
}

// AddDeniedPortRange 添加拒绝的端口范围 [lo, hi]。
func (b *Builder) AddDeniedPortRange(lo, hi uint16) *Builder {
	if b.err != nil {
		return b
	}
	p, err := NewPortRange(lo, hi)
	if err != nil {
		return b.fail(fmt.Errorf("denied port: %w", err))
	}
	if slices.Contains(b.denyPorts, p) {
		return b.fail(fmt.Errorf("denied port: %w: %s", ErrDuplicateRule, p))
	}
	b.denyPorts = append(b.denyPorts, p)
	return b
}

// AddDeniedPort 添加单个拒绝端口。
func (b *Builder) AddDeniedPort(port uint16) *Builder {
	return b.AddDeniedPortRange(port, port)
}

// ClearAllowedPortRanges 清空允许的端口范围，包括预置的 80 与 443。
func (b *Builder) ClearAllowedPortRanges() *Builder {
	b.allowPorts = nil
	return b
}

// ClearDeniedPortRanges 清空拒绝的端口范围。
func (b *Builder) ClearDeniedPortRanges() *Builder {
	b.denyPorts = nil
	return b
}

// SetPortDefault 设置端口默认裁决。
func (b *Builder) SetPortDefault(v Verdict) *Builder {
	b.portDefault = v
	return b
}

// =============================================================================
// IP 规则与地址分类
// =============================================================================

// AddAllowedIPRange 添加允许的 IP 范围，格式见 [ParseIPRange]。
//
// 允许规则不能豁免被屏蔽的地址分类；访问私网需先 [Builder.UnblockCategories]。
func (b *Builder) AddAllowedIPRange(s string) *Builder {
	return b.addIPRange(&b.allowIPs, "allowed", s)
}

// AddDeniedIPRange 添加拒绝的 IP 范围。
func (b *Builder) AddDeniedIPRange(s string) *Builder {
	return b.addIPRange(&b.denyIPs, "denied", s)
}

func (b *Builder) addIPRange(list *[]IPRange, kind, s string) *Builder {
	if b.err != nil {
		return b
	}
	r, err := ParseIPRange(s)
	if err != nil {
		return b.fail(fmt.Errorf("%s ip: %w", kind, err))
	}
	if slices.Contains(*list, r) {
		return b.fail(fmt.Errorf("%s ip: %w: %s", kind, ErrDuplicateRule, r))
	}
	*list = append(*list, r)
	return b
}

// ClearAllowedIPRanges 清空允许的 IP 范围。
func (b *Builder) ClearAllowedIPRanges() *Builder {
	b.allowIPs = nil
	return b
}

// ClearDeniedIPRanges 清空拒绝的 IP 范围。
func (b *Builder) ClearDeniedIPRanges() *Builder {
	b.denyIPs = nil
	return b
}

// SetIPDefault 设置 IP 默认裁决。
func (b *Builder) SetIPDefault(v Verdict) *Builder {
	b.ipDefault = v
	return b
}

// BlockCategories 屏蔽地址分类。
func (b *Builder) BlockCategories(cs ...xnet.Category) *Builder {
	if err := validCategories(cs); err != nil {
		return b.fail(err)
	}
	b.blocked = b.blocked.With(cs...)
	return b
}

// UnblockCategories 解除地址分类屏蔽。
func (b *Builder) UnblockCategories(cs ...xnet.Category) *Builder {
	if err := validCategories(cs); err != nil {
		return b.fail(err)
	}
	b.blocked = b.blocked.Without(cs...)
	return b
}

// SetBlockedCategories 整体替换被屏蔽的地址分类集合。
func (b *Builder) SetBlockedCategories(s xnet.Categories) *Builder {
	if s&^xnet.AllCategories != 0 {
		return b.fail(fmt.Errorf("%w: bits %#x", ErrUnknownCategory, uint16(s&^xnet.AllCategories)))
	}
	b.blocked = s
	return b
}

func validCategories(cs []xnet.Category) error {
	for _, c := range cs {
		if !c.IsValid() {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, c)
		}
	}
	return nil
}

// =============================================================================
// scheme 与 HTTP 方法
// =============================================================================

// AllowSchemes 添加允许的 URL scheme。
func (b *Builder) AllowSchemes(schemes ...string) *Builder {
	for _, s := range schemes {
		if b.err != nil {
			return b
		}
		v, err := NormalizeScheme(s)
		if err != nil {
			return b.fail(err)
		}
		b.allowSchemes = b.addEntry(b.allowSchemes, "allowed scheme", v)
	}
	return b
}

// DenySchemes 添加拒绝的 URL scheme。
func (b *Builder) DenySchemes(schemes ...string) *Builder {
	for _, s := range schemes {
		if b.err != nil {
			return b
		}
		v, err := NormalizeScheme(s)
		if err != nil {
			return b.fail(err)
		}
		if slices.Contains(b.denySchemes, v) {
			return b.fail(fmt.Errorf("denied scheme: %w: %s", ErrDuplicateRule, v))
		}
		b.denySchemes = append(b.denySchemes, v)
	}
	return b
}

// ClearAllowedSchemes 清空允许的 scheme，包括预置的 http/https。
func (b *Builder) ClearAllowedSchemes() *Builder {
	b.allowSchemes = nil
	return b
}

// AllowMethods 添加允许的 HTTP 方法。
func (b *Builder) AllowMethods(methods ...string) *Builder {
	for _, m := range methods {
		if b.err != nil {
			return b
		}
		v, err := NormalizeMethod(m)
		if err != nil {
			return b.fail(err)
		}
		b.allowMethods = b.addEntry(b.allowMethods, "allowed method", v)
	}
	return b
}

// DenyMethods 添加拒绝的 HTTP 方法。
func (b *Builder) DenyMethods(methods ...string) *Builder {
	for _, m := range methods {
		if b.err != nil {
			return b
		}
		v, err := NormalizeMethod(m)
		if err != nil {
			return b.fail(err)
		}
		if slices.Contains(b.denyMethods, v) {
			return b.fail(fmt.Errorf("denied method: %w: %s", ErrDuplicateRule, v))
		}
		b.denyMethods = append(b.denyMethods, v)
	}
	return b
}

// ClearAllowedMethods 清空允许的方法，包括预置的标准方法。
func (b *Builder) ClearAllowedMethods() *Builder {
	b.allowMethods = nil
	return b
}

// SetMethodDefault 设置未列出方法的默认裁决。
func (b *Builder) SetMethodDefault(v Verdict) *Builder {
	b.methodDefault = v
	return b
}

// addEntry 追加允许项；与内置项同名时将其转为用户项。
func (b *Builder) addEntry(list []entry[string], kind, v string) []entry[string] {
	for i, e := range list {
		if e.rule != v {
			continue
		}
		if e.seeded {
			list[i].seeded = false
			return list
		}
		b.fail(fmt.Errorf("%s: %w: %s", kind, ErrDuplicateRule, v))
		return list
	}
	return append(list, entry[string]{rule: v})
}

// =============================================================================
// URL 路径规则
// =============================================================================

// AddAllowedURLPath 添加允许的 URL 路径规则，语法见 [PathPattern]。
func (b *Builder) AddAllowedURLPath(pattern string) *Builder {
	return b.addPath(&b.allowPaths, "allowed", pattern)
}

// AddDeniedURLPath 添加拒绝的 URL 路径规则。
func (b *Builder) AddDeniedURLPath(pattern string) *Builder {
	return b.addPath(&b.denyPaths, "denied", pattern)
}

func (b *Builder) addPath(list *[]PathPattern, kind, pattern string) *Builder {
	if b.err != nil {
		return b
	}
	p, err := ParsePathPattern(pattern)
	if err != nil {
		return b.fail(fmt.Errorf("%s path: %w", kind, err))
	}
	if slices.ContainsFunc(*list, func(q PathPattern) bool { return q.raw == p.raw }) {
		return b.fail(fmt.Errorf("%s path: %w: %s", kind, ErrDuplicateRule, p))
	}
	*list = append(*list, p)
	return b
}

// ClearAllowedURLPaths 清空允许的路径规则。
func (b *Builder) ClearAllowedURLPaths() *Builder {
	b.allowPaths = nil
	return b
}

// ClearDeniedURLPaths 清空拒绝的路径规则。
func (b *Builder) ClearDeniedURLPaths() *Builder {
	b.denyPaths = nil
	return b
}

// SetURLPathDefault 设置 URL 路径默认裁决。
func (b *Builder) SetURLPathDefault(v Verdict) *Builder {
	b.pathDefault = v
	return b
}

// =============================================================================
// 静态解析
// =============================================================================

// AddStaticMapping 为主机名指定固定的解析结果，解析守卫以此代替 DNS 查询。
// 静态地址同样要经过 IP 规则过滤。
func (b *Builder) AddStaticMapping(host string, addrs ...netip.Addr) *Builder {
	if b.err != nil {
		return b
	}
	p, err := ParseHostPattern(host)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %w", ErrInvalidStaticMapping, err))
	}
	if p.wildcard {
		return b.fail(fmt.Errorf("%w: wildcard host %s", ErrInvalidStaticMapping, p))
	}
	if len(addrs) == 0 {
		return b.fail(fmt.Errorf("%w: %s has no addresses", ErrInvalidStaticMapping, p))
	}
	if _, ok := b.static[p.name]; ok {
		return b.fail(fmt.Errorf("static mapping: %w: %s", ErrDuplicateRule, p))
	}
	norm := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsValid() {
			return b.fail(fmt.Errorf("%w: %s has an invalid address", ErrInvalidStaticMapping, p))
		}
		norm = append(norm, a.WithZone("").Unmap())
	}
	b.static[p.name] = norm
	return b
}

// ClearStaticMappings 清空静态解析。
func (b *Builder) ClearStaticMappings() *Builder {
	clear(b.static)
	return b
}

// =============================================================================
// Build
// =============================================================================

// Build 校验规则并生成不可变的 [Policy]。构建器可继续修改并再次 Build。
func (b *Builder) Build() (*Policy, error) {
	if b.err != nil {
		return nil, b.err
	}

	hosts, err := b.buildHosts()
	if err != nil {
		return nil, err
	}
	ports, allowPorts, err := b.buildPorts()
	if err != nil {
		return nil, err
	}
	ips, err := b.buildIPs()
	if err != nil {
		return nil, err
	}
	allowSchemes, err := pruneTokens("scheme", b.allowSchemes, b.denySchemes)
	if err != nil {
		return nil, err
	}
	allowMethods, err := pruneTokens("method", b.allowMethods, b.denyMethods)
	if err != nil {
		return nil, err
	}
	paths, err := b.buildPaths()
	if err != nil {
		return nil, err
	}

	p := &Policy{
		hosts: hosts,
		ports: ports,
		ips:   ips,
		schemes: matcher[string, token]{
			subject: SubjectScheme,
			allow:   newTokenRules(allowSchemes),
			deny:    newTokenRules(b.denySchemes),
			def:     Deny,
		},
		methods: matcher[string, token]{
			subject: SubjectMethod,
			allow:   newTokenRules(allowMethods),
			deny:    newTokenRules(b.denyMethods),
			def:     b.methodDefault,
		},
		paths:   paths,
		blocked: b.blocked,
		static:  make(map[string][]netip.Addr, len(b.static)),
	}
	for host, addrs := range b.static {
		p.static[host] = slices.Clone(addrs)
	}
	p.config = b.snapshot(allowPorts, allowSchemes, allowMethods)
	return p, nil
}

// MustBuild 与 Build 相同，失败时 panic。
func (b *Builder) MustBuild() *Policy {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

func (b *Builder) buildHosts() (matcher[string, HostPattern], error) {
	for _, a := range b.allowHosts {
		for _, d := range b.denyHosts {
			if d.Covers(a) {
				return matcher[string, HostPattern]{}, fmt.Errorf("%w: host %s is shadowed by %s", ErrContradictoryRule, a, d)
			}
		}
	}
	return matcher[string, HostPattern]{
		subject: SubjectHost,
		allow:   newHostRules(b.allowHosts),
		deny:    newHostRules(b.denyHosts),
		def:     b.hostDefault,
	}, nil
}

func (b *Builder) buildPaths() (matcher[string, PathPattern], error) {
	for _, a := range b.allowPaths {
		for _, d := range b.denyPaths {
			if d.Covers(a) {
				return matcher[string, PathPattern]{}, fmt.Errorf("%w: path %s is shadowed by %s", ErrContradictoryRule, a, d)
			}
		}
	}
	return matcher[string, PathPattern]{
		subject: SubjectPath,
		allow:   newPathRules(b.allowPaths),
		deny:    newPathRules(b.denyPaths),
		def:     b.pathDefault,
	}, nil
}

func (b *Builder) buildPorts() (matcher[uint16, PortRange], []PortRange, error) {
	denySet, err := newPortSet(b.denyPorts)
	if err != nil {
		return matcher[uint16, PortRange]{}, nil, fmt.Errorf("denied ports: %w", err)
	}

	var user []PortRange
	for _, e := range b.allowPorts {
		if !e.seeded {
			user = append(user, e.rule)
		}
	}
	userSet, err := newPortSet(user)
	if err != nil {
		return matcher[uint16, PortRange]{}, nil, fmt.Errorf("allowed ports: %w", err)
	}

	allow := make([]PortRange, 0, len(b.allowPorts))
	for _, e := range b.allowPorts {
		r := e.rule.bounds()
		if e.seeded && (denySet.Overlaps(r) || userSet.Overlaps(r)) {
			continue
		}
		if !e.seeded && denySet.Covers(r) {
			return matcher[uint16, PortRange]{}, nil, fmt.Errorf("%w: port %s", ErrContradictoryRule, e.rule)
		}
		allow = append(allow, e.rule)
	}
	allowSet, err := newPortSet(allow)
	if err != nil {
		return matcher[uint16, PortRange]{}, nil, fmt.Errorf("allowed ports: %w", err)
	}

	return matcher[uint16, PortRange]{
		subject: SubjectPort,
		allow:   portRules{set: allowSet},
		deny:    portRules{set: denySet},
		def:     b.portDefault,
	}, allow, nil
}

func (b *Builder) buildIPs() (matcher[netip.Addr, IPRange], error) {
	denySet, err := newIPSet(b.denyIPs)
	if err != nil {
		return matcher[netip.Addr, IPRange]{}, fmt.Errorf("denied ips: %w", err)
	}
	allowSet, err := newIPSet(b.allowIPs)
	if err != nil {
		return matcher[netip.Addr, IPRange]{}, fmt.Errorf("allowed ips: %w", err)
	}
	for _, r := range b.allowIPs {
		if denySet.Covers(r.bounds()) {
			return matcher[netip.Addr, IPRange]{}, fmt.Errorf("%w: ip %s", ErrContradictoryRule, r)
		}
	}

	blocked := b.blocked
	return matcher[netip.Addr, IPRange]{
		subject: SubjectIP,
		allow:   ipRules{set: allowSet},
		deny:    ipRules{set: denySet},
		def:     b.ipDefault,
		block: func(ip netip.Addr) (xnet.Category, bool) {
			return xnet.Classify(ip).Intersect(blocked).First()
		},
	}, nil
}

// pruneTokens 移除被拒绝的内置项，用户项与拒绝项冲突时返回错误。
func pruneTokens(kind string, allow []entry[string], deny []string) ([]string, error) {
	out := make([]string, 0, len(allow))
	for _, e := range allow {
		if slices.Contains(deny, e.rule) {
			if e.seeded {
				continue
			}
			return nil, fmt.Errorf("%w: %s %s", ErrContradictoryRule, kind, e.rule)
		}
		out = append(out, e.rule)
	}
	return out, nil
}

// snapshot 记录生效的规则，供 [Policy.Config] 导出。
func (b *Builder) snapshot(allowPorts []PortRange, allowSchemes, allowMethods []string) Config {
	c := Config{
		Hosts: ListConfig{
			Default: b.hostDefault.String(),
			Allow:   stringsOf(b.allowHosts),
			Deny:    stringsOf(b.denyHosts),
		},
		Ports: ListConfig{
			Default: b.portDefault.String(),
			Allow:   append([]string{}, stringsOf(allowPorts)...),
			Deny:    stringsOf(b.denyPorts),
		},
		IPs: IPConfig{
			ListConfig: ListConfig{
				Default: b.ipDefault.String(),
				Allow:   stringsOf(b.allowIPs),
				Deny:    stringsOf(b.denyIPs),
			},
			Blocked: categoryNames(b.blocked),
		},
		Schemes: ListConfig{
			Default: Deny.String(),
			Allow:   append([]string{}, allowSchemes...),
			Deny:    slices.Clone(b.denySchemes),
		},
		Methods: ListConfig{
			Default: b.methodDefault.String(),
			Allow:   append([]string{}, allowMethods...),
			Deny:    slices.Clone(b.denyMethods),
		},
		Paths: ListConfig{
			Default: b.pathDefault.String(),
			Allow:   stringsOf(b.allowPaths),
			Deny:    stringsOf(b.denyPaths),
		},
	}
	if len(b.static) > 0 {
		c.Static = make([]StaticConfig, 0, len(b.static))
		for _, host := range slices.Sorted(maps.Keys(b.static)) {
			c.Static = append(c.Static, StaticConfig{Host: host, Addrs: stringsOf(b.static[host])})
		}
	}
	return c
}

func stringsOf[T fmt.Stringer](vs []T) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func categoryNames(s xnet.Categories) []string {
	list := s.List()
	if len(list) == 0 {
		return []string{"none"}
	}
	return stringsOf(list)
}
