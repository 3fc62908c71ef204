package xacl

import (
	"fmt"
	"strings"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

// Verdict 匹配器在没有规则命中时采用的默认裁决。
type Verdict uint8

const (
	// Deny 默认拒绝。
	Deny Verdict = iota
	// Allow 默认允许。
	Allow
)

// String 返回 "allow" 或 "deny"。
func (v Verdict) String() string {
	if v == Allow {
		return "allow"
	}
	return "deny"
}

// ParseVerdict 解析 "allow"/"deny"（大小写不敏感）。
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
	}
}

// Subject 判定针对的请求要素。
type Subject uint8

// 判定主体。
const (
	SubjectHost Subject = iota
	SubjectPort
	SubjectIP
	SubjectScheme
	SubjectMethod
	SubjectURL
	SubjectPath
)

var subjectNames = [...]string{
	SubjectHost:   "host",
	SubjectPort:   "port",
	SubjectIP:     "ip",
	SubjectScheme: "scheme",
	SubjectMethod: "method",
	SubjectURL:    "url",
	SubjectPath:   "path",
}

// String 返回主体名称。
func (s Subject) String() string {
	if int(s) < len(subjectNames) {
		return subjectNames[s]
	}
	return fmt.Sprintf("subject(%d)", uint8(s))
}

// Reason 判定原因。
//
// 零值为 [InvalidInput]，因此零值 [Decision] 是一次拒绝。
type Reason uint8

// 判定原因。
const (
	// InvalidInput 输入无法规范化，无论默认裁决如何都拒绝。
	InvalidInput Reason = iota
	// ExplicitAllow 命中允许规则。
	ExplicitAllow
	// DefaultAllow 无规则命中，默认允许。
	DefaultAllow
	// ExplicitDeny 命中拒绝规则。
	ExplicitDeny
	// DefaultDeny 无规则命中，默认拒绝。
	DefaultDeny
	// ReservedCategory IP 属于被屏蔽的非全局分类。
	ReservedCategory
	// ResolutionExhausted 解析结果全部被过滤。
	ResolutionExhausted
)

var reasonNames = [...]string{
	InvalidInput:        "invalid-input",
	ExplicitAllow:       "explicit-allow",
	DefaultAllow:        "default-allow",
	ExplicitDeny:        "explicit-deny",
	DefaultDeny:         "default-deny",
	ReservedCategory:    "reserved-category",
	ResolutionExhausted: "resolution-exhausted",
}

// String 返回原因名称。
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Decision 一次访问控制判定。
//
// 判定本身不是错误；需要在传输边界中止请求时调用 [Decision.Err]。
type Decision struct {
	// Allowed 是否放行。
	Allowed bool

	// Reason 判定原因。
	Reason Reason

	// Subject 判定针对的要素。
	Subject Subject

	// Value 参与判定的规范化取值（主机名、端口、IP 等）。
	Value string

	// Rule 命中的规则文本，仅 ExplicitAllow/ExplicitDeny 时非空。
	Rule string

	// Category 命中的地址分类，仅 ReservedCategory 时有效。
	Category xnet.Category

	// Provisional 为 true 表示尚未校验解析后的 IP，连接前必须经过解析守卫。
	Provisional bool
}

// String 返回形如 "deny ip 10.0.0.1 (reserved-category: private)" 的描述。
func (d Decision) String() string {
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	var detail string
	switch {
	case d.Reason == ReservedCategory:
		detail = d.Category.String()
	case d.Rule != "":
		detail = d.Rule
	}

	var b strings.Builder
	b.WriteString(verdict)
	b.WriteByte(' ')
	b.WriteString(d.Subject.String())
	if d.Value != "" {
		b.WriteByte(' ')
		b.WriteString(d.Value)
	}
	b.WriteString(" (")
	b.WriteString(d.Reason.String())
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	b.WriteByte(')')
	if d.Provisional {
		b.WriteString(" [provisional]")
	}
	return b.String()
}

// Err 拒绝时返回 [*DeniedError]，放行时返回 nil。
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}

func invalid(subject Subject, value string) Decision {
	return Decision{Subject: subject, Value: value, Reason: InvalidInput}
}
