// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持 lumberjack 文件轮转
//   - xmetrics: 访问控制判定的指标与链路追踪（OpenTelemetry）
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 指标标签只包含有限取值，主机名与 IP 只出现在 span 属性中
//   - 未配置时退化为 no-op，不影响判定路径
package observability
