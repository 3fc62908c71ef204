package xmetrics

import (
	"context"

	"github.com/omeyang/xacl/pkg/security/xacl"
)

// Stage 判定发生的阶段。
type Stage string

const (
	// StagePreConnect 解析前的主机与端口判定。
	StagePreConnect Stage = "preconnect"
	// StageResolve 解析结果的逐个地址判定。
	StageResolve Stage = "resolve"
	// StageDial 套接字连接前对实际远端地址的复核。
	StageDial Stage = "dial"
)

// Status 受保护操作的结果状态。
type Status string

const (
	// StatusOK 操作成功。
	StatusOK Status = "ok"
	// StatusDenied 操作被访问控制拒绝。
	StatusDenied Status = "denied"
	// StatusError 操作因其它原因失败（解析失败、连接超时等）。
	StatusError Status = "error"
)

// StatusOf 根据错误推导状态：nil 为 ok，拒绝错误为 denied，其它为 error。
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case isDenied(err):
		return StatusDenied
	default:
		return StatusError
	}
}

func isDenied(err error) bool {
	_, ok := xacl.AsDenied(err)
	return ok
}

// Span 一次受保护的操作（解析或拨号）。
type Span interface {
	// End 结束操作并记录结果，多次调用只记录一次。
	End(err error)
}

// Recorder 记录访问控制判定与受保护操作。
type Recorder interface {
	// RecordDecision 记录一次判定。
	RecordDecision(ctx context.Context, stage Stage, d xacl.Decision)

	// Start 开始一次受保护的操作，host 为目标主机。
	Start(ctx context.Context, stage Stage, host string) (context.Context, Span)
}

// NoopRecorder 是空实现。
type NoopRecorder struct{}

// RecordDecision 空实现。
func (NoopRecorder) RecordDecision(context.Context, Stage, xacl.Decision) {}

// Start 返回 ctx 与空操作。
func (NoopRecorder) Start(ctx context.Context, _ Stage, _ string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// NoopSpan 是空操作实现。
type NoopSpan struct{}

// End 空实现。
func (NoopSpan) End(error) {}

// Start 使用 r 开始操作。nil Recorder 或自定义实现返回 nil 值时兜底为空实现，
// 保证返回非 nil 的 context 与 Span。
func Start(ctx context.Context, r Recorder, stage Stage, host string) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := r.Start(ctx, stage, host)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}
