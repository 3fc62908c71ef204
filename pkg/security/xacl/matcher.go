package xacl

import (
	"fmt"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

// ruleLookup 一个规则列表的查询接口。
type ruleLookup[V any, R fmt.Stringer] interface {
	match(v V) (R, bool)
}

// matcher 主机、端口、IP、scheme、方法共用的判定算法：
//
//  1. 命中拒绝规则 → ExplicitDeny
//  2. block 钩子命中（仅 IP 使用：被屏蔽的地址分类）→ ReservedCategory
//  3. 命中允许规则 → ExplicitAllow
//  4. 默认裁决 → DefaultAllow / DefaultDeny
//
// 输入规范化由调用方完成，无法规范化的输入在进入 matcher 之前即被判为 InvalidInput。
type matcher[V any, R fmt.Stringer] struct {
	subject Subject
	allow   ruleLookup[V, R]
	deny    ruleLookup[V, R]
	def     Verdict
	block   func(V) (xnet.Category, bool)
}

func (m *matcher[V, R]) decide(v V, value string) Decision {
	d := Decision{Subject: m.subject, Value: value}
	if r, ok := m.deny.match(v); ok {
		d.Reason, d.Rule = ExplicitDeny, r.String()
		return d
	}
	if m.block != nil {
		if c, ok := m.block(v); ok {
			d.Reason, d.Category = ReservedCategory, c
			return d
		}
	}
	if r, ok := m.allow.match(v); ok {
		d.Allowed, d.Reason, d.Rule = true, ExplicitAllow, r.String()
		return d
	}
	if m.def == Allow {
		d.Allowed, d.Reason = true, DefaultAllow
	} else {
		d.Reason = DefaultDeny
	}
	return d
}

// token scheme 与 HTTP 方法规则。
type token string

func (t token) String() string { return string(t) }

// tokenRules 精确匹配的字符串规则表。
type tokenRules map[string]struct{}

func newTokenRules(tokens []string) tokenRules {
	r := make(tokenRules, len(tokens))
	for _, t := range tokens {
		r[t] = struct{}{}
	}
	return r
}

func (r tokenRules) match(v string) (token, bool) {
	_, ok := r[v]
	return token(v), ok
}
