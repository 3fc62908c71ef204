package xnet

import "errors"

var (
	// ErrInvalidAddress 表示无效的 IP 地址字符串。
	ErrInvalidAddress = errors.New("xnet: invalid IP address")

	// ErrInvalidRange 表示无效的 IP 范围格式。
	ErrInvalidRange = errors.New("xnet: invalid IP range")

	// ErrUnknownCategory 表示无法识别的地址分类名称。
	ErrUnknownCategory = errors.New("xnet: unknown address category")
)
