package xguard

import "errors"

var (
	// ErrNilSource 表示未提供策略来源。
	ErrNilSource = errors.New("xguard: nil policy source")

	// ErrNilResolver 表示传入了 nil 解析器。
	ErrNilResolver = errors.New("xguard: nil resolver")

	// ErrInvalidAddress 表示无法解析的 host:port。
	ErrInvalidAddress = errors.New("xguard: invalid address")

	// ErrUnsupportedNetwork 表示不支持的网络类型（仅支持 tcp 与 udp 族）。
	ErrUnsupportedNetwork = errors.New("xguard: unsupported network")

	// ErrNoAddress 表示解析成功但没有返回任何地址。
	ErrNoAddress = errors.New("xguard: no address")

	// ErrTooManyRedirects 表示重定向次数超过上限。
	ErrTooManyRedirects = errors.New("xguard: too many redirects")
)
