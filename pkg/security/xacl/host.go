package xacl

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

const (
	maxHostLength  = 253
	maxLabelLength = 63
)

// hostProfile 查找用 IDNA 配置，放宽 STD3 限制以接受 "_" 开头的服务标签。
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
	idna.BidiRule(),
)

// NormalizeHost 将主机名规范化为比较用的 ASCII 形式：
// 去除首尾空白和末尾的 "."，IDNA 转为 punycode，转小写，并校验标签语法。
//
// 最后一个标签为数字（如 "127.1"、"0x7f.1"）的主机名被拒绝：
// 部分解析器会把它当作简写 IPv4，与规则比较时语义不可靠。
func NormalizeHost(host string) (string, error) {
	h := strings.TrimSuffix(strings.TrimSpace(host), ".")
	if h == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if strings.ContainsAny(h, "/\\:@?#[]% *") {
		return "", fmt.Errorf("%w: %q contains reserved characters", ErrInvalidHost, host)
	}
	ascii, err := hostProfile.ToASCII(h)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidHost, host, err)
	}
	ascii = strings.ToLower(ascii)
	if err := validateHostname(ascii); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidHost, host, err)
	}
	return ascii, nil
}

func validateHostname(h string) error {
	if len(h) > maxHostLength {
		return fmt.Errorf("longer than %d bytes", maxHostLength)
	}
	labels := strings.Split(h, ".")
	for _, label := range labels {
		if label == "" || len(label) > maxLabelLength {
			return fmt.Errorf("label length must be 1-%d", maxLabelLength)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("label %q starts or ends with '-'", label)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return fmt.Errorf("label %q contains %q", label, c)
			}
		}
	}
	if isNumericLabel(labels[len(labels)-1]) {
		return fmt.Errorf("numeric final label %q", labels[len(labels)-1])
	}
	return nil
}

// isNumericLabel 报告标签是否为十进制数字或 0x 十六进制数字。
func isNumericLabel(label string) bool {
	digits := label
	hex := false
	if len(label) >= 2 && label[0] == '0' && label[1] == 'x' {
		digits, hex = label[2:], true
		if digits == "" {
			return true
		}
	}
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		switch {
		case c >= '0' && c <= '9':
		case hex && c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// HostPattern 主机规则。
//
// 精确规则只匹配同名主机；通配规则（"*.example.com" 或 ".example.com"）
// 匹配 example.com 本身及其任意层级子域，但不匹配 notexample.com。
type HostPattern struct {
	name     string
	wildcard bool
}

// ParseHostPattern 解析主机规则。IP 字面量不是合法的主机规则，应使用 IP 范围规则。
func ParseHostPattern(s string) (HostPattern, error) {
	raw := strings.TrimSpace(s)
	wildcard := false
	switch {
	case strings.HasPrefix(raw, "*."):
		raw, wildcard = raw[2:], true
	case strings.HasPrefix(raw, "."):
		raw, wildcard = raw[1:], true
	}
	if _, err := xnet.ParseAddr(raw); err == nil {
		return HostPattern{}, fmt.Errorf("%w: %q is an IP literal, use an IP range rule", ErrInvalidHostPattern, s)
	}
	name, err := NormalizeHost(raw)
	if err != nil {
		return HostPattern{}, fmt.Errorf("%w: %w", ErrInvalidHostPattern, err)
	}
	return HostPattern{name: name, wildcard: wildcard}, nil
}

// MustParseHostPattern 与 ParseHostPattern 相同，失败时 panic。
func MustParseHostPattern(s string) HostPattern {
	p, err := ParseHostPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Name 返回规范化后的主机名（不含通配前缀）。
func (p HostPattern) Name() string { return p.name }

// Wildcard 报告是否为通配规则。
func (p HostPattern) Wildcard() bool { return p.wildcard }

// String 返回规则文本，通配规则带 "*." 前缀。
func (p HostPattern) String() string {
	if p.wildcard {
		return "*." + p.name
	}
	return p.name
}

// Matches 报告规范化主机名 host 是否命中规则。
func (p HostPattern) Matches(host string) bool {
	if host == p.name {
		return true
	}
	return p.wildcard && strings.HasSuffix(host, "."+p.name)
}

// Covers 报告 p 是否匹配 q 所能匹配的全部主机。
func (p HostPattern) Covers(q HostPattern) bool {
	if !p.wildcard {
		return !q.wildcard && q.name == p.name
	}
	return p.Matches(q.name)
}

// hostRules 按精确名和通配后缀索引的主机规则表。
type hostRules struct {
	exact map[string]HostPattern
	wild  map[string]HostPattern
}

func newHostRules(patterns []HostPattern) hostRules {
	r := hostRules{
		exact: make(map[string]HostPattern),
		wild:  make(map[string]HostPattern),
	}
	for _, p := range patterns {
		if p.wildcard {
			r.wild[p.name] = p
		} else {
			r.exact[p.name] = p
		}
	}
	return r
}

// match 优先返回精确规则，其次返回最长的通配后缀。
func (r hostRules) match(host string) (HostPattern, bool) {
	if p, ok := r.exact[host]; ok {
		return p, true
	}
	if len(r.wild) == 0 {
		return HostPattern{}, false
	}
	for name := host; ; {
		if p, ok := r.wild[name]; ok {
			return p, true
		}
		i := strings.IndexByte(name, '.')
		if i < 0 {
			return HostPattern{}, false
		}
		name = name[i+1:]
	}
}
