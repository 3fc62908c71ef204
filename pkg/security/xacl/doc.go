// Package xacl 提供出站请求的访问控制判定，用于防御 SSRF 与 DNS 重绑定。
//
// # 核心概念
//
//   - [Builder]：累积并校验规则，Build 生成不可变的 [Policy]
//   - [Policy]：主机、端口、IP、scheme、HTTP 方法、URL 路径六个匹配器，可被任意 goroutine 并发使用
//   - [Decision]：一次判定的结果，拒绝不是错误，需要时通过 [Decision.Err] 转换
//   - [Holder]：可原子替换的当前策略，配合 [XConfProvider] 实现配置热更新
//
// # 判定顺序
//
// 每个匹配器使用相同的算法：
//
//  1. 命中拒绝规则 → 拒绝（explicit-deny）
//  2. IP 属于被屏蔽的地址分类 → 拒绝（reserved-category），仅 IP 匹配器
//  3. 命中允许规则 → 放行（explicit-allow）
//  4. 默认裁决（default-allow / default-deny）
//
// 无法规范化的输入一律拒绝（invalid-input），与默认裁决无关。
//
// 设计决策: 地址分类屏蔽不能被 IP 允许规则豁免。允许 10.0.0.0/8 之前必须先
// UnblockCategories(xnet.PrivateUse)，这样一条过宽的允许规则不会意外打开回环或链路本地地址。
//
// # 两阶段判定
//
// [Policy.Evaluate] 按主机 → 端口 → IP 顺序判定，遇到第一个拒绝即返回。
// 未提供 IP 且主机是域名时结果标记为 Provisional，只表示可以进行 DNS 解析；
// 建立连接前必须由 xguard 对每一个解析出的地址重新判定。主机为 IP 字面量时结果是最终判定。
//
// [Policy.IsURLAllowed] 在此之前判定 scheme 与 URL 路径。
//
// # 规范化
//
//   - 主机名：IDNA 转 punycode、小写、去掉末尾的 "."；最后一个标签为数字的主机名被拒绝
//   - IP：去除 zone，IPv4-mapped IPv6 按对应 IPv4 判定；NAT64 与 6to4 地址同时按内嵌 IPv4 判定
//   - scheme 小写，HTTP 方法大写
//   - URL 路径：解码后移除 "." 与 ".." 段、合并重复的 "/"
//
// # 默认策略
//
// 主机默认允许；端口默认拒绝并预置 80、443；IP 默认允许但屏蔽全部非全局地址分类；
// scheme 仅允许 http、https；方法默认拒绝并预置全部标准方法；URL 路径默认允许。
// 预置项被拒绝规则覆盖时自动移除，用户规则被拒绝规则完全覆盖时 Build 返回 [ErrContradictoryRule]。
package xacl
