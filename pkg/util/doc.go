// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xnet: IP 地址工具库，基于 net/netip + go4.org/netipx 的地址分类、解析与区间运算
//
// 设计原则：
//   - 只依赖 net/netip 值类型，不使用 net.IP 切片
//   - IPv4-mapped IPv6 地址统一按 IPv4 处理
package util
