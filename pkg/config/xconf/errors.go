package xconf

import "errors"

// 配置加载和监视相关错误。
var (
	// ErrEmptyPath 表示配置文件路径为空。
	ErrEmptyPath = errors.New("xconf: empty config path")

	// ErrUnsupportedFormat 表示不支持的配置格式。
	ErrUnsupportedFormat = errors.New("xconf: unsupported config format")

	// ErrLoadFailed 表示读取配置文件失败。
	ErrLoadFailed = errors.New("xconf: failed to load config")

	// ErrParseFailed 表示配置内容解析失败。
	ErrParseFailed = errors.New("xconf: failed to parse config")

	// ErrUnmarshalFailed 表示配置反序列化失败。
	ErrUnmarshalFailed = errors.New("xconf: failed to unmarshal config")

	// ErrNotFromFile 表示对从字节数据创建的配置执行了 Reload 或 Watch。
	ErrNotFromFile = errors.New("xconf: config was not created from a file")

	// ErrNilCallback 表示 Watch 的回调为 nil。
	ErrNilCallback = errors.New("xconf: nil watch callback")

	// ErrInvalidDebounce 表示防抖时间不是正数。
	ErrInvalidDebounce = errors.New("xconf: debounce must be positive")
)
