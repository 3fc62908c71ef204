package xconf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

// 支持的配置格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 配置接口。基础读取直接使用 Client() 返回的 koanf 实例。
type Config interface {
	// Client 返回当前 koanf 实例。Reload 后旧实例仍可读，但内容已过期。
	Client() *koanf.Koanf

	// Unmarshal 将 path 节点反序列化到 target，path 为空时反序列化整个文档。
	Unmarshal(path string, target any) error

	// Reload 重新读取配置文件。内容未变化时不替换实例，解析失败时保留旧实例。
	// 从字节数据创建的 Config 返回 [ErrNotFromFile]。
	Reload() error

	// Revision 返回内容版本号，每次加载到不同内容时递增，初始为 1。
	Revision() uint64

	// Path 返回配置文件路径，从字节数据创建时为空。
	Path() string

	// Format 返回配置格式。
	Format() Format
}

// Option 配置选项。
type Option func(*options)

type options struct {
	delim string
	tag   string
}

// WithDelim 设置键路径分隔符，默认 "."。
func WithDelim(delim string) Option {
	return func(o *options) { o.delim = delim }
}

// WithTag 设置反序列化使用的结构体标签，默认 "koanf"。
func WithTag(tag string) Option {
	return func(o *options) { o.tag = tag }
}

type koanfConfig struct {
	k        atomic.Pointer[koanf.Koanf]
	revision atomic.Uint64

	path   string
	format Format
	opts   options

	reloadMu sync.Mutex // 串行化 Reload，防止旧内容覆盖新内容
	raw      []byte     // 最近一次加载的原始内容，受 reloadMu 保护
}

// New 从文件创建配置，格式由扩展名决定（.yaml/.yml/.json）。空文件得到空配置。
func New(path string, opts ...Option) (Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return newConfig(data, path, format, opts)
}

// NewFromBytes 从字节数据创建配置，适用于 K8s ConfigMap 或内嵌默认配置。
func NewFromBytes(data []byte, format Format, opts ...Option) (Config, error) {
	if format != FormatYAML && format != FormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return newConfig(data, "", format, opts)
}

func newConfig(data []byte, path string, format Format, opts []Option) (*koanfConfig, error) {
	c := &koanfConfig{
		path:   path,
		format: format,
		opts:   options{delim: ".", tag: "koanf"},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	k, err := c.parse(data)
	if err != nil {
		return nil, err
	}
	c.k.Store(k)
	c.raw = data
	c.revision.Store(1)
	return c, nil
}

func (c *koanfConfig) parse(data []byte) (*koanf.Koanf, error) {
	k := koanf.New(c.opts.delim)
	if len(data) == 0 {
		return k, nil
	}
	var parser koanf.Parser = yaml.Parser()
	if c.format == FormatJSON {
		parser = json.Parser()
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return k, nil
}

func (c *koanfConfig) Client() *koanf.Koanf {
	return c.k.Load()
}

func (c *koanfConfig) Unmarshal(path string, target any) error {
	err := c.k.Load().UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: c.opts.tag})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

func (c *koanfConfig) Reload() error {
	if c.path == "" {
		return ErrNotFromFile
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	if bytes.Equal(data, c.raw) {
		return nil
	}
	k, err := c.parse(data)
	if err != nil {
		return err
	}
	c.k.Store(k)
	c.raw = data
	c.revision.Add(1)
	return nil
}

func (c *koanfConfig) Revision() uint64 { return c.revision.Load() }

func (c *koanfConfig) Path() string { return c.path }

func (c *koanfConfig) Format() Format { return c.format }

// MustUnmarshal 与 Config.Unmarshal 相同，失败时 panic。适用于启动阶段的必要配置。
func MustUnmarshal(cfg Config, path string, target any) {
	if err := cfg.Unmarshal(path, target); err != nil {
		panic(err)
	}
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}
