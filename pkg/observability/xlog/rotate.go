package xlog

import (
	"fmt"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值
const (
	DefaultMaxSizeMB  = 500
	DefaultMaxBackups = 7
	DefaultMaxAgeDays = 30
)

type rotateOptions struct {
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
	localTime  bool
}

// RotateOption 配置日志文件轮转
type RotateOption func(*rotateOptions)

// WithMaxSize 单个文件的最大大小（MB），超过后轮转
func WithMaxSize(mb int) RotateOption {
	return func(o *rotateOptions) { o.maxSizeMB = mb }
}

// WithMaxBackups 保留的历史文件数量，0 表示不按数量清理
func WithMaxBackups(n int) RotateOption {
	return func(o *rotateOptions) { o.maxBackups = n }
}

// WithMaxAge 历史文件保留天数，0 表示不按时间清理
func WithMaxAge(days int) RotateOption {
	return func(o *rotateOptions) { o.maxAgeDays = days }
}

// WithCompress 是否 gzip 压缩历史文件，默认开启
func WithCompress(enable bool) RotateOption {
	return func(o *rotateOptions) { o.compress = enable }
}

// WithLocalTime 历史文件名中的时间戳是否使用本地时间，默认 UTC
func WithLocalTime(enable bool) RotateOption {
	return func(o *rotateOptions) { o.localTime = enable }
}

func newRotateWriter(filename string, opts ...RotateOption) (*lumberjack.Logger, error) {
	if filename == "" {
		return nil, ErrEmptyFilename
	}
	o := rotateOptions{
		maxSizeMB:  DefaultMaxSizeMB,
		maxBackups: DefaultMaxBackups,
		maxAgeDays: DefaultMaxAgeDays,
		compress:   true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxSizeMB <= 0 || o.maxBackups < 0 || o.maxAgeDays < 0 {
		return nil, fmt.Errorf("%w: size=%dMB backups=%d age=%dd",
			ErrInvalidRotation, o.maxSizeMB, o.maxBackups, o.maxAgeDays)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Clean(filename),
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     o.maxAgeDays,
		Compress:   o.compress,
		LocalTime:  o.localTime,
	}, nil
}
