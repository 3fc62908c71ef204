package xacl

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/omeyang/xacl/pkg/config/xconf"
	"github.com/omeyang/xacl/pkg/util/xnet"
)

// ListConfig 一类规则的配置：默认裁决与允许/拒绝列表。
type ListConfig struct {
	// Default "allow" 或 "deny"，为空时保留构建器默认值。
	Default string   `koanf:"default" json:"default,omitempty" yaml:"default,omitempty"`
	Allow   []string `koanf:"allow" json:"allow" yaml:"allow"`
	Deny    []string `koanf:"deny" json:"deny,omitempty" yaml:"deny,omitempty"`
}

// IPConfig IP 规则配置。
type IPConfig struct {
	ListConfig `koanf:",squash" yaml:",inline"`

	// Blocked 被屏蔽的地址分类名称，支持 "all" 与 "none"。为空时屏蔽全部分类。
	Blocked []string `koanf:"blocked_categories" json:"blocked_categories,omitempty" yaml:"blocked_categories,omitempty"`
}

// StaticConfig 一条静态解析。
//
// 使用列表而不是以主机名为键的映射：主机名中的 "." 会被配置加载器当作路径分隔符。
type StaticConfig struct {
	Host  string   `koanf:"host" json:"host" yaml:"host"`
	Addrs []string `koanf:"addrs" json:"addrs" yaml:"addrs"`
}

// Config 策略配置文档。
//
//	hosts:   {default: allow, allow: ["*.example.com"], deny: ["internal.example.com"]}
//	ports:   {default: deny, allow: ["80", "443", "8000-8080"]}
//	ips:     {default: allow, deny: ["9.0.0.0/8"], blocked_categories: [all]}
//	schemes: {allow: [http, https]}
//	methods: {default: deny, deny: [TRACE]}
//	paths:   {default: allow, deny: ["/admin/{*rest}"]}
//	static:  [{host: api.internal, addrs: ["203.0.113.10"]}]
//
// ports、schemes、methods 写出 allow 键（包括空列表 []）时替换内置默认项
// （80/443、http/https、标准方法）；省略 allow 键时保留默认项。
type Config struct {
	Hosts   ListConfig     `koanf:"hosts" json:"hosts" yaml:"hosts"`
	Ports   ListConfig     `koanf:"ports" json:"ports" yaml:"ports"`
	IPs     IPConfig       `koanf:"ips" json:"ips" yaml:"ips"`
	Schemes ListConfig     `koanf:"schemes" json:"schemes" yaml:"schemes"`
	Methods ListConfig     `koanf:"methods" json:"methods" yaml:"methods"`
	Paths   ListConfig     `koanf:"paths" json:"paths" yaml:"paths"`
	Static  []StaticConfig `koanf:"static" json:"static,omitempty" yaml:"static,omitempty"`
}

// Builder 将配置转换为构建器，配置错误由返回的构建器在 Build 时报告。
func (c Config) Builder() *Builder {
	b := NewBuilder()

	setDefault(b, c.Hosts.Default, b.SetHostDefault)
	for _, h := range c.Hosts.Allow {
		b.AddAllowedHost(h)
	}
	for _, h := range c.Hosts.Deny {
		b.AddDeniedHost(h)
	}

	setDefault(b, c.Ports.Default, b.SetPortDefault)
	if c.Ports.Allow != nil {
		b.ClearAllowedPortRanges()
	}
	addPorts(b, c.Ports.Allow, b.AddAllowedPortRange)
	addPorts(b, c.Ports.Deny, b.AddDeniedPortRange)

	setDefault(b, c.IPs.Default, b.SetIPDefault)
	for _, r := range c.IPs.Allow {
		b.AddAllowedIPRange(r)
	}
	for _, r := range c.IPs.Deny {
		b.AddDeniedIPRange(r)
	}
	if len(c.IPs.Blocked) > 0 {
		blocked, err := xnet.ParseCategories(c.IPs.Blocked)
		if err != nil {
			b.fail(fmt.Errorf("%w: %w", ErrUnknownCategory, err))
		} else {
			b.SetBlockedCategories(blocked)
		}
	}

	if c.Schemes.Default != "" && c.Schemes.Default != Deny.String() {
		b.fail(fmt.Errorf("%w: schemes only support default deny, got %q", ErrInvalidVerdict, c.Schemes.Default))
	}
	if c.Schemes.Allow != nil {
		b.ClearAllowedSchemes()
	}
	b.AllowSchemes(c.Schemes.Allow...).DenySchemes(c.Schemes.Deny...)

	setDefault(b, c.Methods.Default, b.SetMethodDefault)
	if c.Methods.Allow != nil {
		b.ClearAllowedMethods()
	}
	b.AllowMethods(c.Methods.Allow...).DenyMethods(c.Methods.Deny...)

	setDefault(b, c.Paths.Default, b.SetURLPathDefault)
	for _, p := range c.Paths.Allow {
		b.AddAllowedURLPath(p)
	}
	for _, p := range c.Paths.Deny {
		b.AddDeniedURLPath(p)
	}

	for _, sc := range c.Static {
		addrs := make([]netip.Addr, 0, len(sc.Addrs))
		for _, s := range sc.Addrs {
			a, err := xnet.ParseAddr(s)
			if err != nil {
				b.fail(fmt.Errorf("%w: %s: %w", ErrInvalidStaticMapping, sc.Host, err))
				break
			}
			addrs = append(addrs, a)
		}
		b.AddStaticMapping(sc.Host, addrs...)
	}
	return b
}

// Build 等价于 c.Builder().Build()。
func (c Config) Build() (*Policy, error) {
	return c.Builder().Build()
}

func setDefault(b *Builder, s string, set func(Verdict) *Builder) {
	if s == "" {
		return
	}
	v, err := ParseVerdict(s)
	if err != nil {
		b.fail(err)
		return
	}
	set(v)
}

func addPorts(b *Builder, specs []string, add func(lo, hi uint16) *Builder) {
	for _, s := range specs {
		p, err := ParsePortRange(s)
		if err != nil {
			b.fail(err)
			return
		}
		add(p.Lo, p.Hi)
	}
}

func (c Config) clone() Config {
	out := c
	out.Hosts = c.Hosts.clone()
	out.Ports = c.Ports.clone()
	out.IPs.ListConfig = c.IPs.ListConfig.clone()
	out.IPs.Blocked = slices.Clone(c.IPs.Blocked)
	out.Schemes = c.Schemes.clone()
	out.Methods = c.Methods.clone()
	out.Paths = c.Paths.clone()
	if c.Static != nil {
		out.Static = make([]StaticConfig, len(c.Static))
		for i, sc := range c.Static {
			out.Static[i] = StaticConfig{Host: sc.Host, Addrs: slices.Clone(sc.Addrs)}
		}
	}
	return out
}

func (l ListConfig) clone() ListConfig {
	return ListConfig{Default: l.Default, Allow: slices.Clone(l.Allow), Deny: slices.Clone(l.Deny)}
}

// LoadConfig 从 xconf 配置的 path 节点反序列化策略配置并构建策略。
// path 为空字符串时使用整个配置文档。
func LoadConfig(cfg xconf.Config, path string) (*Policy, error) {
	var c Config
	if err := cfg.Unmarshal(path, &c); err != nil {
		return nil, err
	}
	return c.Build()
}
