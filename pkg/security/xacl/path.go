package xacl

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeURLPath 将 URL 路径规范化为比较用的形式：
// 空路径视为 "/"，移除 "." 与 ".." 段并合并重复的 "/"，保留末尾的 "/"。
//
// 输入应是已解码的路径（url.URL.Path）。不以 "/" 开头或包含控制字符的路径被拒绝。
func NormalizeURLPath(p string) (string, error) {
	if p == "" {
		return "/", nil
	}
	if p[0] != '/' {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURLPath, p)
	}
	for i := 0; i < len(p); i++ {
		if c := p[i]; c < 0x20 || c == 0x7f {
			return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidURLPath, p)
		}
	}
	clean := path.Clean(p)
	if clean != "/" && strings.HasSuffix(p, "/") {
		clean += "/"
	}
	return clean, nil
}

// segmentKind 路径规则段的类型。
type segmentKind uint8

const (
	segLiteral segmentKind = iota
	// {name}：匹配恰好一个非空段
	segParam
	// {*name}：匹配剩余的一个或多个段，只能位于末尾
	segCatchAll
)

type pathSegment struct {
	kind  segmentKind
	value string
}

// PathPattern URL 路径规则。
//
//	/api/v1/health        精确匹配
//	/api/v1/users/{id}    {id} 匹配一个非空段
//	/static/{*rest}       {*rest} 匹配剩余的非空路径
//
// 规则按段比较，不做前缀匹配："/admin" 不匹配 "/admin/users"，需要时写 "/admin/{*rest}"。
type PathPattern struct {
	raw      string
	segments []pathSegment
}

// ParsePathPattern 解析路径规则。规则中的字面段同样经过 [NormalizeURLPath] 规范化。
func ParsePathPattern(s string) (PathPattern, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw[0] != '/' {
		return PathPattern{}, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPathPattern, s)
	}
	norm, err := NormalizeURLPath(raw)
	if err != nil {
		return PathPattern{}, fmt.Errorf("%w: %w", ErrInvalidPathPattern, err)
	}
	parts := strings.Split(norm[1:], "/")
	segs := make([]pathSegment, 0, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return PathPattern{}, fmt.Errorf("%w: %q: %w", ErrInvalidPathPattern, s, err)
		}
		if seg.kind == segCatchAll && i != len(parts)-1 {
			return PathPattern{}, fmt.Errorf("%w: %q: catch-all must be the last segment", ErrInvalidPathPattern, s)
		}
		segs = append(segs, seg)
	}
	return PathPattern{raw: norm, segments: segs}, nil
}

func parseSegment(part string) (pathSegment, error) {
	open := strings.IndexByte(part, '{')
	end := strings.IndexByte(part, '}')
	if open < 0 && end < 0 {
		return pathSegment{kind: segLiteral, value: part}, nil
	}
	if open != 0 || end != len(part)-1 {
		return pathSegment{}, fmt.Errorf("parameter %q must span the whole segment", part)
	}
	name := part[1 : len(part)-1]
	kind := segParam
	if strings.HasPrefix(name, "*") {
		name, kind = name[1:], segCatchAll
	}
	if name == "" || strings.ContainsAny(name, "{}*") {
		return pathSegment{}, fmt.Errorf("invalid parameter name in %q", part)
	}
	return pathSegment{kind: kind, value: name}, nil
}

// MustParsePathPattern 与 ParsePathPattern 相同，失败时 panic。
func MustParsePathPattern(s string) PathPattern {
	p, err := ParsePathPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String 返回规范化后的规则文本。
func (p PathPattern) String() string { return p.raw }

// dynamic 报告规则是否含参数段。
func (p PathPattern) dynamic() bool {
	for _, s := range p.segments {
		if s.kind != segLiteral {
			return true
		}
	}
	return false
}

// Matches 报告规范化路径 urlPath 是否命中规则。
func (p PathPattern) Matches(urlPath string) bool {
	if urlPath == "" || urlPath[0] != '/' {
		return false
	}
	parts := strings.Split(urlPath[1:], "/")
	for i, seg := range p.segments {
		if seg.kind == segCatchAll {
			return i < len(parts) && strings.Join(parts[i:], "/") != ""
		}
		if i >= len(parts) {
			return false
		}
		switch seg.kind {
		case segLiteral:
			if parts[i] != seg.value {
				return false
			}
		case segParam:
			if parts[i] == "" {
				return false
			}
		}
	}
	return len(parts) == len(p.segments)
}

// Covers 报告 p 是否匹配 q 所能匹配的全部路径。
func (p PathPattern) Covers(q PathPattern) bool {
	for i, ps := range p.segments {
		if i >= len(q.segments) {
			return false
		}
		qs := q.segments[i]
		switch ps.kind {
		case segCatchAll:
			// catch-all 不匹配空的剩余路径
			return i < len(q.segments)-1 || qs.kind != segLiteral || qs.value != ""
		case segParam:
			if qs.kind == segCatchAll || qs.kind == segLiteral && qs.value == "" {
				return false
			}
		case segLiteral:
			if qs.kind != segLiteral || qs.value != ps.value {
				return false
			}
		}
	}
	return len(p.segments) == len(q.segments)
}

// pathRules 路径规则表：静态规则按路径索引，含参数的规则按添加顺序逐个匹配。
type pathRules struct {
	exact   map[string]PathPattern
	dynamic []PathPattern
}

func newPathRules(patterns []PathPattern) pathRules {
	r := pathRules{exact: make(map[string]PathPattern)}
	for _, p := range patterns {
		if p.dynamic() {
			r.dynamic = append(r.dynamic, p)
		} else {
			r.exact[p.raw] = p
		}
	}
	return r
}

// match 优先返回静态规则。
func (r pathRules) match(urlPath string) (PathPattern, bool) {
	if p, ok := r.exact[urlPath]; ok {
		return p, true
	}
	for _, p := range r.dynamic {
		if p.Matches(urlPath) {
			return p, true
		}
	}
	return PathPattern{}, false
}
