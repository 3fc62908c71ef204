// Package xconf 提供配置文件的加载、反序列化与热重载，基于 koanf 实现。
//
// # 设计理念
//
// xconf 定位为最小化配置加载器，只负责文件/字节数据的加载、反序列化和热重载。
// 字段校验与默认值注入由使用方完成，例如 xacl.Config 在 Build 时校验全部规则。
//
//   - 工厂函数：New, NewFromBytes
//   - Client() 暴露底层 koanf 实例
//   - 增值功能：并发安全的 Reload、按内容变化递增的 Revision、文件监视
//
// # 支持的格式
//
//   - YAML（默认）：.yaml, .yml
//   - JSON：.json
//
// # 并发安全
//
// Reload 通过互斥锁串行执行，解析成功后使用 atomic.Pointer 原子替换 koanf 实例；
// 解析失败时旧实例保持不变。Client 与 Unmarshal 无锁读取当前实例。
//
// Client() 返回的指针在 Reload 之后仍可使用，但内容已过期，不要长期缓存。
//
// # Unmarshal
//
// Unmarshal 使用 mapstructure 的弱类型转换，YAML 中的 8080 可以写入 string 字段。
// MustUnmarshal 是包级函数，适用于启动阶段的必要配置：
//
//	xconf.MustUnmarshal(cfg, "acl", &aclConfig)
//
// # 配置监视
//
// Watch 基于 fsnotify 监视文件所在目录，内置防抖，兼容 vim/emacs 的原子写入。
// 写入内容与当前内容相同时不触发回调。从字节数据创建的 Config 不支持监视。
package xconf
