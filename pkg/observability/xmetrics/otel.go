package xmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xacl/pkg/security/xacl"
)

const (
	defaultInstrumentationName = "github.com/omeyang/xacl/pkg/security/xguard"

	// MetricDecisionTotal 判定计数，属性 stage/subject/verdict/reason。
	MetricDecisionTotal = "xacl.decision.total"
	// MetricOperationDuration 受保护操作耗时（秒），属性 stage/status。
	MetricOperationDuration = "xacl.operation.duration"
)

// 指标与 span 属性名。
const (
	AttrStage   = "stage"
	AttrSubject = "subject"
	AttrVerdict = "verdict"
	AttrReason  = "reason"
	AttrStatus  = "status"
	AttrHost    = "host"
)

type otelConfig struct {
	instrumentationName string
	tracerProvider      trace.TracerProvider
	meterProvider       metric.MeterProvider
}

// Option 定义 OTel Recorder 的配置选项。
type Option func(*otelConfig)

// WithInstrumentationName 设置 instrumentation 名称，空值忽略。
func WithInstrumentationName(name string) Option {
	return func(cfg *otelConfig) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithTracerProvider 设置 TracerProvider，nil 忽略。
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.tracerProvider = provider
		}
	}
}

// WithMeterProvider 设置 MeterProvider，nil 忽略。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

// NewOTelRecorder 创建基于 OpenTelemetry 的 Recorder，默认使用全局 Provider。
func NewOTelRecorder(opts ...Option) (*OTelRecorder, error) {
	cfg := &otelConfig{
		instrumentationName: defaultInstrumentationName,
		tracerProvider:      otel.GetTracerProvider(),
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		if opt == nil {
			return nil, ErrNilOption
		}
		opt(cfg)
	}

	meter := cfg.meterProvider.Meter(cfg.instrumentationName)
	decisions, err := meter.Int64Counter(
		MetricDecisionTotal,
		metric.WithDescription("outbound access control decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateCounter, err)
	}
	duration, err := meter.Float64Histogram(
		MetricOperationDuration,
		metric.WithDescription("guarded resolve and dial duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateHistogram, err)
	}

	return &OTelRecorder{
		tracer:    cfg.tracerProvider.Tracer(cfg.instrumentationName),
		decisions: decisions,
		duration:  duration,
	}, nil
}

// OTelRecorder 基于 OpenTelemetry 的 [Recorder]。
type OTelRecorder struct {
	tracer    trace.Tracer
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

var _ Recorder = (*OTelRecorder)(nil)

// RecordDecision 计数一次判定，并在当前 span 上添加事件。
//
// 属性只包含低基数取值，主机名与 IP 不进入指标。
func (r *OTelRecorder) RecordDecision(ctx context.Context, stage Stage, d xacl.Decision) {
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	attrs := [4]attribute.KeyValue{
		attribute.String(AttrStage, string(stage)),
		attribute.String(AttrSubject, d.Subject.String()),
		attribute.String(AttrVerdict, verdict),
		attribute.String(AttrReason, d.Reason.String()),
	}
	r.decisions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attrs[:]...))

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("xacl.decision", trace.WithAttributes(append(attrs[:],
			attribute.String("value", d.Value),
			attribute.String("rule", d.Rule),
		)...))
	}
}

// Start 开始一个名为 "xacl.<stage>" 的客户端 span。
func (r *OTelRecorder) Start(ctx context.Context, stage Stage, host string) (context.Context, Span) {
	ctx, span := r.tracer.Start(ctx, "xacl."+string(stage),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrStage, string(stage)),
			attribute.String(AttrHost, host),
		),
	)
	return ctx, &otelSpan{
		span:     span,
		recorder: r,
		ctx:      ctx,
		stage:    stage,
		start:    time.Now(),
	}
}

type otelSpan struct {
	span     trace.Span
	recorder *OTelRecorder
	ctx      context.Context
	stage    Stage
	start    time.Time
	endOnce  sync.Once
}

func (s *otelSpan) End(err error) {
	s.endOnce.Do(func() {
		status := StatusOf(err)
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, string(status))
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
		s.span.SetAttributes(attribute.String(AttrStatus, string(status)))
		s.span.End()

		// 请求 ctx 已取消时指标仍需记录
		s.recorder.duration.Record(context.WithoutCancel(s.ctx), time.Since(s.start).Seconds(),
			metric.WithAttributes(
				attribute.String(AttrStage, string(s.stage)),
				attribute.String(AttrStatus, string(status)),
			))
	})
}
