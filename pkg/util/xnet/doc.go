// Package xnet 提供 IP 地址分类与范围解析。
//
// xnet 基于 Go 标准库 [net/netip] 和社区库 [go4.org/netipx] 构建，
// 是出站访问控制判断 IP 是否全局可达的基础。
//
// # 地址分类
//
// [Classify] 返回地址所属的全部非全局分类（[Categories] 位集合）：
//
//	addr := netip.MustParseAddr("::ffff:10.1.2.3")
//	fmt.Println(xnet.Classify(addr))                  // private
//	fmt.Println(xnet.IsGlobal(netip.MustParseAddr("1.1.1.1"))) // true
//
// 分类之间不互斥，例如 2001:2::1 同时属于 benchmarking 与 protocol-assignment。
// 每个分类由一个 [*netipx.IPSet] 表示，查询为 O(log n)。
//
// IPv4-mapped IPv6 在分类前被 Unmap，与对应 IPv4 的结果完全一致。
// NAT64（64:ff9b::/96）与 6to4（2002::/16）地址会额外计入内嵌 IPv4 的分类，
// 因此 64:ff9b::7f00:1 与 127.0.0.1 一样属于 loopback。
//
// # 范围解析
//
// [ParseRange] 支持单 IP、CIDR、点分掩码和显式范围四种写法，
// 拒绝 zone ID，统一将 IPv4-mapped 输入归一化为 IPv4：
//
//	r, _ := xnet.ParseRange("::ffff:192.168.1.0/120")
//	fmt.Println(xnet.RangeString(r)) // 192.168.1.0/24
//
// # 错误处理
//
// 预定义错误变量支持 errors.Is 判断：[ErrInvalidAddress]、[ErrInvalidRange]、
// [ErrUnknownCategory]。
package xnet
