// Package xlog 提供基于 log/slog 的结构化日志。
//
// # 接口
//
// [Logger] 强制传入 context，只接受 slog.Attr：
//
//	logger.Warn(ctx, "resolution exhausted", xlog.Host(host), xlog.Addrs(addrs))
//
// [Leveler] 与 [Logger] 分离，[Builder.Build] 返回二者的组合 [LoggerWithLevel]，
// 派生的 With/WithGroup Logger 与父级共享同一个 LevelVar。
//
// # 构建
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xacl/guard.log", xlog.WithMaxSize(100)).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// SetRotation 使用 lumberjack 按大小轮转，默认 500MB、保留 7 个、30 天、gzip 压缩。
//
// # 错误处理
//
// 日志写入失败不会返回给调用方，也不会 panic。需要感知时通过 [Builder.SetOnError]
// 接入告警。未注入 Logger 的组件使用 [Discard]。
package xlog
