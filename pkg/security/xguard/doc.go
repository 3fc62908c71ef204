// Package xguard 把 xacl 策略接入出站连接，防御 SSRF 与 DNS 重绑定。
//
// # 判定时机
//
// 一次出站连接经过三道判定：
//
//   - preconnect：DNS 查询之前判定主机与端口（[Guard.PreConnect]），拒绝的主机不会产生任何解析流量
//   - resolve：逐个判定解析出的地址（[Guard.OnResolved]），只连接放行的地址
//   - dial：connect(2) 之前由 net.Dialer.ControlContext 复核内核实际使用的远端地址（[Guard.CheckAddr]）
//
// 守卫不缓存判定，也不缓存解析结果：每次拨号都重新解析、重新判定，
// 攻击者无法利用 TTL 为 0 的记录在判定与连接之间切换地址。
//
// # 使用
//
//	guard, err := xguard.New(holder, xguard.WithLogger(logger), xguard.WithRecorder(rec))
//	if err != nil {
//		return err
//	}
//	client := xguard.NewClient(guard.NewDialer())
//
// [NewClient] 同时启用请求判定（方法、scheme）、重定向判定与拨号判定。
// 只需要拨号判定时使用 [NewTransport]。
//
// # outline-sdk 集成
//
// [Dialer.StreamDialer] 实现 transport.StreamDialer，按 Happy Eyeballs v2 并行解析 IPv4 与 IPv6。
// [DNSResolver] 把 outline-sdk 的 dns.Resolver（UDP、TCP、DoH）适配为 [Resolver]，
// 可以绕过系统解析器直接向指定 DNS 服务器查询。
package xguard
