package xconf

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type aclDoc struct {
	Hosts struct {
		Default string   `koanf:"default"`
		Allow   []string `koanf:"allow"`
	} `koanf:"hosts"`
	Ports []string `koanf:"ports"`
}

func TestNew_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "acl.yaml", `
hosts:
  default: deny
  allow: ["*.example.com", "api.test"]
ports: [80, 443]
`)
	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, FormatYAML, cfg.Format())
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, uint64(1), cfg.Revision())
	assert.Equal(t, "deny", cfg.Client().String("hosts.default"))

	var doc aclDoc
	require.NoError(t, cfg.Unmarshal("", &doc))
	assert.Equal(t, "deny", doc.Hosts.Default)
	assert.Equal(t, []string{"*.example.com", "api.test"}, doc.Hosts.Allow)
	// 弱类型转换：YAML 整数写入 string 切片
	assert.Equal(t, []string{"80", "443"}, doc.Ports)
}

func TestNew_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "acl.json", `{"hosts": {"default": "allow"}}`)
	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, cfg.Format())
	assert.Equal(t, "allow", cfg.Client().String("hosts.default"))
}

func TestNew_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"empty path", "", ErrEmptyPath},
		{"unknown extension", writeFile(t, dir, "acl.toml", "a = 1"), ErrUnsupportedFormat},
		{"missing file", filepath.Join(dir, "missing.yaml"), ErrLoadFailed},
		{"bad yaml", writeFile(t, dir, "bad.yaml", "hosts: [unterminated"), ErrParseFailed},
		{"bad json", writeFile(t, dir, "bad.json", "{"), ErrParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yml", "")
	cfg, err := New(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Client().Keys())
}

func TestNewFromBytes(t *testing.T) {
	cfg, err := NewFromBytes([]byte("hosts:\n  default: deny\n"), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, cfg.Path())
	assert.Equal(t, "deny", cfg.Client().String("hosts.default"))
	assert.ErrorIs(t, cfg.Reload(), ErrNotFromFile)

	_, err = NewFromBytes([]byte("a=1"), Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOptions(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
	}
	cfg, err := NewFromBytes([]byte(`{"app": {"name": "xacl"}}`), FormatJSON, WithDelim("/"), WithTag("json"))
	require.NoError(t, err)
	assert.Equal(t, "xacl", cfg.Client().String("app/name"))

	var d doc
	require.NoError(t, cfg.Unmarshal("app", &d))
	assert.Equal(t, "xacl", d.Name)
}

func TestUnmarshal_Error(t *testing.T) {
	cfg, err := NewFromBytes([]byte("ports: {a: 1}\n"), FormatYAML)
	require.NoError(t, err)

	var target struct {
		Ports []int `koanf:"ports"`
	}
	err = cfg.Unmarshal("", &target)
	assert.ErrorIs(t, err, ErrUnmarshalFailed)
	assert.Panics(t, func() { MustUnmarshal(cfg, "", &target) })
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acl.yaml", "hosts:\n  default: allow\n")
	cfg, err := New(path)
	require.NoError(t, err)

	// 内容未变化：版本号不变
	require.NoError(t, cfg.Reload())
	assert.Equal(t, uint64(1), cfg.Revision())

	writeFile(t, dir, "acl.yaml", "hosts:\n  default: deny\n")
	require.NoError(t, cfg.Reload())
	assert.Equal(t, uint64(2), cfg.Revision())
	assert.Equal(t, "deny", cfg.Client().String("hosts.default"))

	// 解析失败：保留旧内容
	writeFile(t, dir, "acl.yaml", "hosts: [")
	err = cfg.Reload()
	assert.ErrorIs(t, err, ErrParseFailed)
	assert.Equal(t, uint64(2), cfg.Revision())
	assert.Equal(t, "deny", cfg.Client().String("hosts.default"))

	require.NoError(t, os.Remove(path))
	assert.ErrorIs(t, cfg.Reload(), ErrLoadFailed)
}

func TestReload_Concurrent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acl.yaml", "v: 0\n")
	cfg, err := New(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := cfg.Reload(); err != nil && !errors.Is(err, ErrParseFailed) {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			_ = cfg.Client().String("v")
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1), cfg.Revision())
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
	}
	for path, want := range tests {
		got, err := detectFormat(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := detectFormat("noext")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
