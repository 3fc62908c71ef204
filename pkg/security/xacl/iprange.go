package xacl

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"

	"github.com/omeyang/xacl/pkg/util/xnet"
)

// IPRange IP 地址闭区间，两端同一地址族，不含 zone。
type IPRange struct {
	r netipx.IPRange
}

// ParseIPRange 解析 CIDR、单地址、点分掩码或 "from-to" 形式的 IP 范围。
// IPv4-mapped 输入归一化为 IPv4。
func ParseIPRange(s string) (IPRange, error) {
	r, err := xnet.ParseRange(s)
	if err != nil {
		return IPRange{}, fmt.Errorf("%w: %w", ErrInvalidIPRange, err)
	}
	return IPRange{r: r}, nil
}

// IPRangeFromPrefix 由前缀创建 IP 范围，主机位被清零。
func IPRangeFromPrefix(p netip.Prefix) (IPRange, error) {
	if !p.IsValid() {
		return IPRange{}, fmt.Errorf("%w: %s", ErrInvalidIPRange, p)
	}
	return ParseIPRange(p.String())
}

// From 返回起始地址。
func (r IPRange) From() netip.Addr { return r.r.From() }

// To 返回结束地址。
func (r IPRange) To() netip.Addr { return r.r.To() }

// Contains 报告 addr 是否在范围内。
func (r IPRange) Contains(addr netip.Addr) bool {
	return r.r.Contains(addr.WithZone("").Unmap())
}

// String 能表示为单个 CIDR 时返回前缀，否则返回 "from-to"。
func (r IPRange) String() string {
	return xnet.RangeString(r.r)
}

func (r IPRange) bounds() Range[netip.Addr] {
	return Range[netip.Addr]{Lo: r.r.From(), Hi: r.r.To()}
}

func compareAddr(a, b netip.Addr) int { return a.Compare(b) }

func nextAddr(a netip.Addr) (netip.Addr, bool) {
	n := a.Next()
	return n, n.IsValid()
}

func newIPSet(ranges []IPRange) (*RangeSet[netip.Addr], error) {
	rs := make([]Range[netip.Addr], len(ranges))
	for i, r := range ranges {
		rs[i] = r.bounds()
	}
	return NewRangeSet(compareAddr, nextAddr, rs)
}

// ipRules 基于 RangeSet 的 IP 规则表。
// NAT64/6to4 地址未直接命中时，再以内嵌的 IPv4 地址查询一次。
type ipRules struct {
	set *RangeSet[netip.Addr]
}

func (r ipRules) match(ip netip.Addr) (IPRange, bool) {
	if hit, ok := r.set.Contains(ip); ok {
		return IPRange{r: netipx.IPRangeFrom(hit.Lo, hit.Hi)}, true
	}
	if v4, ok := xnet.Embedded(ip); ok {
		if hit, ok := r.set.Contains(v4); ok {
			return IPRange{r: netipx.IPRangeFrom(hit.Lo, hit.Hi)}, true
		}
	}
	return IPRange{}, false
}
