// Package xmetrics 记录出站访问控制的判定指标与追踪。
//
// # 接口
//
// 业务代码只依赖 [Recorder]：
//
//	rec, _ := xmetrics.NewOTelRecorder()
//	rec.RecordDecision(ctx, xmetrics.StagePreConnect, decision)
//
//	ctx, span := xmetrics.Start(ctx, rec, xmetrics.StageDial, host)
//	conn, err := dial(ctx)
//	span.End(err)
//
// 未配置时使用 [NoopRecorder]。
//
// # 指标命名
//
//   - xacl.decision.total：属性 stage / subject / verdict / reason
//   - xacl.operation.duration：属性 stage / status（ok、denied、error）
//
// 主机名和 IP 属于高基数取值，只出现在 span 属性与事件中，不进入指标。
package xmetrics
