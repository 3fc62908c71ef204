package xlog

import "errors"

var (
	// ErrUnknownLevel 无法识别的日志级别
	ErrUnknownLevel = errors.New("xlog: unknown level")

	// ErrUnknownFormat 无法识别的输出格式（仅支持 text、json）
	ErrUnknownFormat = errors.New("xlog: unknown format")

	// ErrNilOutput 输出目标为 nil
	ErrNilOutput = errors.New("xlog: nil output")

	// ErrEmptyFilename 轮转文件名为空
	ErrEmptyFilename = errors.New("xlog: empty rotation filename")

	// ErrInvalidRotation 轮转参数无效
	ErrInvalidRotation = errors.New("xlog: invalid rotation options")
)
