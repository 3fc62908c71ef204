package xacl

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// PortRange 端口闭区间，满足 1 <= Lo <= Hi <= 65535。
type PortRange struct {
	Lo, Hi uint16
}

// NewPortRange 创建端口范围。端口 0 不是合法的目标端口。
func NewPortRange(lo, hi uint16) (PortRange, error) {
	if lo == 0 || lo > hi {
		return PortRange{}, fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, lo, hi)
	}
	return PortRange{Lo: lo, Hi: hi}, nil
}

// ParsePortRange 解析 "443" 或 "8000-8080" 形式的端口范围。
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	loStr, hiStr, isRange := strings.Cut(s, "-")
	lo, err := parsePort(loStr)
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: %q", ErrInvalidPortRange, s)
	}
	hi := lo
	if isRange {
		if hi, err = parsePort(hiStr); err != nil {
			return PortRange{}, fmt.Errorf("%w: %q", ErrInvalidPortRange, s)
		}
	}
	return NewPortRange(lo, hi)
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// Contains 报告 port 是否在范围内。
func (p PortRange) Contains(port uint16) bool {
	return port >= p.Lo && port <= p.Hi
}

// String 单端口返回 "443"，范围返回 "8000-8080"。
func (p PortRange) String() string {
	if p.Lo == p.Hi {
		return strconv.Itoa(int(p.Lo))
	}
	return strconv.Itoa(int(p.Lo)) + "-" + strconv.Itoa(int(p.Hi))
}

func (p PortRange) bounds() Range[uint16] {
	return Range[uint16]{Lo: p.Lo, Hi: p.Hi}
}

func nextPort(p uint16) (uint16, bool) {
	if p == 65535 {
		return 0, false
	}
	return p + 1, true
}

func newPortSet(ranges []PortRange) (*RangeSet[uint16], error) {
	rs := make([]Range[uint16], len(ranges))
	for i, p := range ranges {
		rs[i] = p.bounds()
	}
	return NewRangeSet(cmp.Compare[uint16], nextPort, rs)
}

// portRules 基于 RangeSet 的端口规则表。
type portRules struct {
	set *RangeSet[uint16]
}

func (r portRules) match(port uint16) (PortRange, bool) {
	hit, ok := r.set.Contains(port)
	if !ok {
		return PortRange{}, false
	}
	return PortRange{Lo: hit.Lo, Hi: hit.Hi}, true
}
