package xacl

import (
	"errors"
	"fmt"
	"strings"
)

// 规则构建相关错误。
var (
	// ErrInvalidHost 表示无法规范化的主机名。
	ErrInvalidHost = errors.New("xacl: invalid host")

	// ErrInvalidHostPattern 表示无效的主机规则（含 IP 字面量）。
	ErrInvalidHostPattern = errors.New("xacl: invalid host pattern")

	// ErrInvalidPortRange 表示无效的端口范围（须满足 1 <= lo <= hi <= 65535）。
	ErrInvalidPortRange = errors.New("xacl: invalid port range")

	// ErrInvalidIPRange 表示无效的 IP 范围。
	ErrInvalidIPRange = errors.New("xacl: invalid IP range")

	// ErrInvalidScheme 表示无效的 URL scheme。
	ErrInvalidScheme = errors.New("xacl: invalid scheme")

	// ErrInvalidMethod 表示无效的 HTTP 方法。
	ErrInvalidMethod = errors.New("xacl: invalid method")

	// ErrInvalidURLPath 表示无法规范化的 URL 路径。
	ErrInvalidURLPath = errors.New("xacl: invalid URL path")

	// ErrInvalidPathPattern 表示无效的路径规则。
	ErrInvalidPathPattern = errors.New("xacl: invalid path pattern")

	// ErrInvalidVerdict 表示无法识别的默认裁决（仅接受 allow/deny）。
	ErrInvalidVerdict = errors.New("xacl: invalid verdict")

	// ErrInvalidStaticMapping 表示无效的静态解析条目。
	ErrInvalidStaticMapping = errors.New("xacl: invalid static mapping")

	// ErrUnknownCategory 表示未定义的地址分类。
	ErrUnknownCategory = errors.New("xacl: unknown address category")

	// ErrDuplicateRule 表示同一列表中重复添加了相同规则。
	ErrDuplicateRule = errors.New("xacl: duplicate rule")

	// ErrOverlappingRule 表示同一列表中的范围相互重叠。
	ErrOverlappingRule = errors.New("xacl: overlapping rule")

	// ErrContradictoryRule 表示允许规则被拒绝规则完全覆盖，永远不会生效。
	ErrContradictoryRule = errors.New("xacl: allow rule fully shadowed by deny rules")

	// ErrNilPolicy 表示传入了 nil 策略。
	ErrNilPolicy = errors.New("xacl: nil policy")
)

// ErrDenied 是所有拒绝错误的哨兵值，[*DeniedError] 通过 errors.Is 匹配它。
var ErrDenied = errors.New("xacl: denied")

// DeniedError 在传输边界把拒绝判定转换为 error。
type DeniedError struct {
	// Decision 导致拒绝的判定。
	Decision Decision

	// Rejected 解析守卫中被逐个拒绝的候选地址判定，仅 ResolutionExhausted 时非空。
	Rejected []Decision
}

// Error 实现 error 接口。
func (e *DeniedError) Error() string {
	var b strings.Builder
	b.WriteString("xacl: denied: ")
	b.WriteString(e.Decision.String())
	if len(e.Rejected) > 0 {
		fmt.Fprintf(&b, " (%d candidates rejected, last: %s)", len(e.Rejected), e.Rejected[len(e.Rejected)-1])
	}
	return b.String()
}

// Is 使 errors.Is(err, ErrDenied) 成立。
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// AsDenied 从错误链中提取 [*DeniedError]。
func AsDenied(err error) (*DeniedError, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
