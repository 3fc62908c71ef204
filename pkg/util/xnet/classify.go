package xnet

import (
	"net/netip"

	"go4.org/netipx"
)

// categoryTable 每个分类对应的地址块。exclude 中的地址从该分类中剔除。
var categoryTable = [numCategories]struct {
	include []string
	exclude []string
}{
	Unspecified:   {include: []string{"0.0.0.0/8", "::/128"}},
	Loopback:      {include: []string{"127.0.0.0/8", "::1/128"}},
	PrivateUse:    {include: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}},
	SharedAddress: {include: []string{"100.64.0.0/10"}},
	LinkLocal:     {include: []string{"169.254.0.0/16", "fe80::/10"}},
	UniqueLocal:   {include: []string{"fc00::/7"}},
	Multicast:     {include: []string{"224.0.0.0/4", "ff00::/8"}},
	Broadcast:     {include: []string{"255.255.255.255/32"}},
	Documentation: {include: []string{
		"192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24",
		"2001:db8::/32", "3fff::/20",
	}},
	Benchmarking:       {include: []string{"198.18.0.0/15", "2001:2::/48"}},
	ProtocolAssignment: {include: []string{"192.0.0.0/24", "2001::/23"}},
	Reserved: {
		include: []string{
			"240.0.0.0/4",    // Class E
			"192.88.99.0/24", // 6to4 中继任播（RFC 7526 废弃）
			"100::/64",       // 丢弃前缀
			"64:ff9b:1::/48", // 本地 NAT64
			"fec0::/10",      // 站点本地（RFC 3879 废弃）
			"::/96",          // IPv4 兼容地址（RFC 4291 废弃）
		},
		exclude: []string{"255.255.255.255/32", "::/128", "::1/128"},
	},
}

// categorySets 由 categoryTable 在包初始化时构建。
var categorySets = buildCategorySets()

var (
	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	sixToFour   = netip.MustParsePrefix("2002::/16")
)

func buildCategorySets() [numCategories]*netipx.IPSet {
	var sets [numCategories]*netipx.IPSet
	for c, t := range categoryTable {
		var b netipx.IPSetBuilder
		for _, p := range t.include {
			b.AddPrefix(netip.MustParsePrefix(p))
		}
		for _, p := range t.exclude {
			b.RemovePrefix(netip.MustParsePrefix(p))
		}
		set, err := b.IPSet()
		if err != nil {
			panic("xnet: build category table: " + err.Error())
		}
		sets[c] = set
	}
	return sets
}

// Classify 返回 addr 所属的全部非全局分类。
//
// 规则：
//   - 无效地址返回空集
//   - zone 被忽略
//   - IPv4-mapped IPv6（::ffff:a.b.c.d）与 a.b.c.d 分类完全一致
//   - NAT64（64:ff9b::/96）与 6to4（2002::/16）地址同时计入内嵌 IPv4 的分类
//
// 返回空集表示地址全局可达。
func Classify(addr netip.Addr) Categories {
	if !addr.IsValid() {
		return 0
	}
	addr = addr.WithZone("").Unmap()
	s := lookupCategories(addr)
	if v4, ok := Embedded(addr); ok {
		s |= lookupCategories(v4)
	}
	return s
}

func lookupCategories(addr netip.Addr) Categories {
	var s Categories
	for c, set := range categorySets {
		if set.Contains(addr) {
			s |= 1 << c
		}
	}
	return s
}

// Embedded 返回 NAT64 或 6to4 地址中内嵌的 IPv4 地址。
// IPv4-mapped 地址不在此列，由 [netip.Addr.Unmap] 处理。
func Embedded(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, false
	}
	addr = addr.WithZone("")
	b := addr.As16()
	switch {
	case nat64Prefix.Contains(addr):
		return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
	case sixToFour.Contains(addr):
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	default:
		return netip.Addr{}, false
	}
}

// IsGlobal 报告 addr 是否全局可达（有效且不属于任何分类）。
func IsGlobal(addr netip.Addr) bool {
	return addr.IsValid() && Classify(addr).IsEmpty()
}

// CategoryPrefixes 返回分类 c 覆盖的前缀列表，用于展示。
func CategoryPrefixes(c Category) []netip.Prefix {
	if !c.IsValid() {
		return nil
	}
	return categorySets[c].Prefixes()
}
