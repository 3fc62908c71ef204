package xnet

import (
	"fmt"
	"math/bits"
	"strings"
)

// Category 非全局可达地址的分类。
//
// 分类之间不互斥：2001:2::1 同时属于 [Benchmarking] 和 [ProtocolAssignment]。
type Category uint8

// 地址分类常量，取值顺序即 [Categories.List] 的输出顺序。
const (
	// Unspecified 0.0.0.0/8 与 ::。
	Unspecified Category = iota
	// Loopback 127.0.0.0/8 与 ::1。
	Loopback
	// PrivateUse RFC 1918 私有地址。
	PrivateUse
	// SharedAddress 100.64.0.0/10 运营商级 NAT 共享地址（RFC 6598）。
	SharedAddress
	// LinkLocal 169.254.0.0/16 与 fe80::/10。
	LinkLocal
	// UniqueLocal fc00::/7（RFC 4193）。
	UniqueLocal
	// Multicast 224.0.0.0/4 与 ff00::/8。
	Multicast
	// Broadcast 255.255.255.255。
	Broadcast
	// Documentation 文档示例地址（RFC 5737、RFC 3849、RFC 9637）。
	Documentation
	// Benchmarking 基准测试地址 198.18.0.0/15 与 2001:2::/48。
	Benchmarking
	// ProtocolAssignment IETF 协议分配地址 192.0.0.0/24 与 2001::/23。
	ProtocolAssignment
	// Reserved 其余 IANA 保留、废弃或仅本地使用的地址块。
	Reserved

	numCategories
)

var categoryNames = [numCategories]string{
	Unspecified:        "unspecified",
	Loopback:           "loopback",
	PrivateUse:         "private",
	SharedAddress:      "shared",
	LinkLocal:          "link-local",
	UniqueLocal:        "unique-local",
	Multicast:          "multicast",
	Broadcast:          "broadcast",
	Documentation:      "documentation",
	Benchmarking:       "benchmarking",
	ProtocolAssignment: "protocol-assignment",
	Reserved:           "reserved",
}

// categoryAliases 配置文件中常见的别名写法。
var categoryAliases = map[string]Category{
	"private-use":    PrivateUse,
	"shared-address": SharedAddress,
	"cgnat":          SharedAddress,
	"ula":            UniqueLocal,
	"benchmark":      Benchmarking,
	"ietf":           ProtocolAssignment,
}

// IsValid 报告 c 是否为已定义的分类。
func (c Category) IsValid() bool {
	return c < numCategories
}

// String 返回分类的小写名称，未定义的分类返回 "category(N)"。
func (c Category) String() string {
	if !c.IsValid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// ParseCategory 解析分类名称（大小写不敏感，接受 "-" 或 "_" 作为分隔符）。
func ParseCategory(name string) (Category, error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	if c, ok := categoryAliases[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// Categories 分类位集合，零值为空集。
type Categories uint16

// AllCategories 包含全部已定义分类的集合。
const AllCategories = Categories(1<<numCategories - 1)

// CategoriesOf 返回由 cs 组成的集合，忽略未定义的分类。
func CategoriesOf(cs ...Category) Categories {
	var s Categories
	return s.With(cs...)
}

// Has 报告 c 是否在集合中。
func (s Categories) Has(c Category) bool {
	return c.IsValid() && s&(1<<c) != 0
}

// With 返回加入 cs 后的新集合。
func (s Categories) With(cs ...Category) Categories {
	for _, c := range cs {
		if c.IsValid() {
			s |= 1 << c
		}
	}
	return s
}

// Without 返回移除 cs 后的新集合。
func (s Categories) Without(cs ...Category) Categories {
	for _, c := range cs {
		if c.IsValid() {
			s &^= 1 << c
		}
	}
	return s
}

// Intersect 返回 s 与 o 的交集。
func (s Categories) Intersect(o Categories) Categories {
	return s & o
}

// IsEmpty 报告集合是否为空。
func (s Categories) IsEmpty() bool {
	return s&AllCategories == 0
}

// Len 返回集合中的分类数量。
func (s Categories) Len() int {
	return bits.OnesCount16(uint16(s & AllCategories))
}

// First 返回集合中取值最小的分类。
func (s Categories) First() (Category, bool) {
	s &= AllCategories
	if s == 0 {
		return 0, false
	}
	return Category(bits.TrailingZeros16(uint16(s))), true
}

// List 按取值顺序返回集合中的分类。
func (s Categories) List() []Category {
	out := make([]Category, 0, s.Len())
	for c := range numCategories {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String 返回 "|" 连接的分类名称，空集返回 "none"。
func (s Categories) String() string {
	list := s.List()
	if len(list) == 0 {
		return "none"
	}
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.String()
	}
	return strings.Join(names, "|")
}

// ParseCategories 解析分类名称列表。
// "all" 表示全部分类，"none" 表示空集；两者可与具体名称混用，按出现顺序累积。
func ParseCategories(names []string) (Categories, error) {
	var s Categories
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "all":
			s = AllCategories
			continue
		case "none":
			s = 0
			continue
		}
		c, err := ParseCategory(name)
		if err != nil {
			return 0, err
		}
		s = s.With(c)
	}
	return s, nil
}
