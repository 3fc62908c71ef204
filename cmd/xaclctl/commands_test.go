package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xacl/pkg/observability/xlog"
	"github.com/omeyang/xacl/pkg/security/xacl"
)

// runCLI 以给定参数运行应用，返回退出码与标准输出、标准错误内容。
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	app := createApp()
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	code := runApp(context.Background(), app, append([]string{"xaclctl"}, args...))
	return code, stdout.String(), stderr.String()
}

// writePolicy 把策略文档写入临时 YAML 文件并返回路径。
func writePolicy(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func testEnv(t *testing.T, p *xacl.Policy) (*env, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &env{policy: p, logger: xlog.Discard(), out: &out, close: func() error { return nil }}, &out
}

func TestCheck_URL(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  []string
	}{
		{"metadata endpoint", []string{"check", "--url", "http://169.254.169.254/latest/meta-data/"}, 1,
			[]string{"deny ip 169.254.169.254", "link-local"}},
		{"public https", []string{"check", "--url", "https://example.com/"}, 0,
			[]string{"allow", "[provisional]", "尚未校验解析结果"}},
		{"non-default port", []string{"check", "-u", "https://example.com:6379/"}, 1,
			[]string{"deny port 6379 (default-deny)"}},
		{"denied method", []string{"check", "--url", "https://example.com/", "--method", "PROPFIND"}, 1,
			[]string{"deny method PROPFIND (default-deny)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, _ := runCLI(t, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCheck_HostPortIP(t *testing.T) {
	code, out, _ := runCLI(t, "check", "--host", "api.example.com", "--port", "443", "--ip", "10.0.0.1")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "deny ip 10.0.0.1 (reserved-category: private)")

	code, out, _ = runCLI(t, "check", "--host", "api.example.com", "--ip", "1.1.1.1")
	assert.Equal(t, 0, code)
	assert.Equal(t, "allow ip 1.1.1.1 (default-allow)\n", out)

	code, out, _ = runCLI(t, "check", "--ip", "::ffff:127.0.0.1", "--port", "80")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "loopback")

	// IP 字面量主机已经过 IP 判定，不再提示需要校验解析结果
	code, out, _ = runCLI(t, "check", "--host", "1.1.1.1")
	assert.Equal(t, 0, code)
	assert.Equal(t, "allow ip 1.1.1.1 (default-allow)\n", out)

	code, out, _ = runCLI(t, "check", "--host", "10.0.0.1")
	assert.Equal(t, 1, code)
	assert.Equal(t, "deny ip 10.0.0.1 (reserved-category: private)\n", out)
}

func TestCheck_WithPolicyFile(t *testing.T) {
	path := writePolicy(t, `
hosts:
  deny: ["*.internal"]
ips:
  blocked_categories: [private]
paths:
  deny: ["/admin/{*rest}"]
`)
	code, out, _ := runCLI(t, "--policy", path, "check", "--host", "vault.internal")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "explicit-deny: *.internal")

	code, _, _ = runCLI(t, "-p", path, "check", "--host", "localhost.example.com", "--ip", "127.0.0.1")
	assert.Equal(t, 0, code)

	code, out, _ = runCLI(t, "-p", path, "check", "--ip", "192.168.1.1", "--port", "80")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "private")

	code, out, _ = runCLI(t, "-p", path, "check", "--url", "https://example.com/admin/users")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "deny path /admin/users (explicit-deny: /admin/{*rest})")
}

func TestCheck_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no target", []string{"check"}},
		{"url and host", []string{"check", "--url", "https://example.com/", "--host", "example.com"}},
		{"bad ip", []string{"check", "--ip", "999.1.1.1"}},
		{"bad log level", []string{"--log-level", "loud", "check", "--host", "example.com"}},
		{"unknown flag", []string{"check", "--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, 2, code)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := loadPolicy("", "")
	require.NoError(t, err)
	assert.True(t, p.IsPortAllowed(443).Allowed)

	_, err = loadPolicy(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	path := writePolicy(t, "acl:\n  ports:\n    allow: [\"8443\"]\n")
	p, err = loadPolicy(path, "acl")
	require.NoError(t, err)
	assert.True(t, p.IsPortAllowed(8443).Allowed)
	assert.False(t, p.IsPortAllowed(443).Allowed)

	bad := writePolicy(t, "ports:\n  allow: [\"99999\"]\n")
	_, err = loadPolicy(bad, "")
	assert.Error(t, err)

	code, _, stderr := runCLI(t, "--policy", bad, "check", "--host", "example.com")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "构建策略")
}

func TestCategories(t *testing.T) {
	code, out, _ := runCLI(t, "categories")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "* loopback")
	assert.Contains(t, out, "127.0.0.0/8")
	assert.Contains(t, out, "100.64.0.0/10")

	path := writePolicy(t, "ips:\n  blocked_categories: [private]\n")
	_, out, _ = runCLI(t, "-p", path, "cat")
	assert.Contains(t, out, "* private")
	assert.Contains(t, out, "  loopback")

	code, out, _ = runCLI(t, "categories", "100.64.0.1", "64:ff9b::a00:1", "8.8.8.8")
	assert.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "shared")
	assert.Contains(t, lines[1], "(10.0.0.1)")
	assert.Contains(t, lines[1], "private")
	assert.Contains(t, lines[2], "none")
	assert.Contains(t, lines[2], "allow")

	code, _, _ = runCLI(t, "categories", "not-an-ip")
	assert.Equal(t, 2, code)
}

// resolverFunc 把函数适配为解析器。
type resolverFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

func (f resolverFunc) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	return f(ctx, network, host)
}

func TestResolve(t *testing.T) {
	p := xacl.NewBuilder().
		AddDeniedHost("*.internal").
		AddStaticMapping("static.example.com", netip.MustParseAddr("1.1.1.1")).
		MustBuild()
	e, out := testEnv(t, p)

	lookupErr := errors.New("servfail")
	r := resolverFunc(func(_ context.Context, network, host string) ([]netip.Addr, error) {
		assert.Equal(t, "ip", network)
		switch host {
		case "mixed.example.com":
			return []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("93.184.216.34")}, nil
		case "rebind.example.com":
			return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
		case "empty.example.com":
			return nil, nil
		case "xn--bcher-kva.example.com":
			return []netip.Addr{netip.MustParseAddr("8.8.8.8")}, nil
		default:
			return nil, lookupErr
		}
	})

	hosts := []string{
		"mixed.example.com",
		"rebind.example.com",
		"db.internal",
		"static.example.com",
		"9.9.9.9",
		"empty.example.com",
		"bücher.example.com",
		"broken.example.com",
	}
	err := cmdResolve(context.Background(), e, r, hosts, 443, 3)
	var exitErr *exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.code)

	blocks := strings.Split(out.String(), "\n"+"  => ")
	require.Len(t, blocks, len(hosts)+1)
	text := out.String()
	assert.Contains(t, text, "mixed.example.com\n  deny ip 10.0.0.1 (reserved-category: private)\n  allow ip 93.184.216.34 (default-allow)\n  => 1/2 admitted\n")
	assert.Contains(t, text, "rebind.example.com\n  deny ip 127.0.0.1 (reserved-category: loopback)\n  => xacl: denied")
	assert.Contains(t, text, "db.internal\n  => xacl: denied: deny host db.internal (explicit-deny: *.internal)")
	assert.Contains(t, text, "static.example.com\n  allow ip 1.1.1.1 (default-allow)\n  => 1/1 admitted")
	assert.Contains(t, text, "9.9.9.9\n  allow ip 9.9.9.9 (default-allow)\n  => 1/1 admitted")
	assert.Contains(t, text, "empty.example.com\n  => xguard: ")
	assert.Contains(t, text, "bücher.example.com\n  allow ip 8.8.8.8 (default-allow)")
	assert.Contains(t, text, "broken.example.com\n  => lookup broken.example.com: servfail")
}

func TestResolve_AllAdmitted(t *testing.T) {
	e, out := testEnv(t, xacl.DefaultPolicy())
	r := resolverFunc(func(context.Context, string, string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("2606:4700::1111")}, nil
	})
	require.NoError(t, cmdResolve(context.Background(), e, r, []string{"one.one.one.one"}, 443, 0))
	assert.Equal(t, "one.one.one.one\n  allow ip 2606:4700::1111 (default-allow)\n  => 1/1 admitted\n", out.String())
}

func TestResolve_UsageErrors(t *testing.T) {
	code, _, _ := runCLI(t, "resolve")
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "resolve", "--dns", "", "10.0.0.1")
	assert.Equal(t, 1, code)

	code, _, _ = runCLI(t, "resolve", "--dns", "not a server::", "example.com")
	assert.Equal(t, 2, code)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello from loopback")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t)

	code, out, _ := runCLI(t, "fetch", srv.URL+"/")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "blocked: deny")

	path := writePolicy(t, `
ports:
  default: allow
ips:
  blocked_categories: [private, link-local, shared]
`)
	code, out, _ = runCLI(t, "-p", path, "fetch", srv.URL+"/")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "hello from loopback")

	code, out, _ = runCLI(t, "-p", path, "fetch", "--max-body", "5", srv.URL+"/")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasSuffix(out, "\nhello"), out)

	code, out, _ = runCLI(t, "-p", path, "fetch", "-m", "DELETE", srv.URL+"/")
	assert.Equal(t, 0, code, out)
}

func TestFetch_Errors(t *testing.T) {
	code, _, _ := runCLI(t, "fetch")
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "fetch", "https://a.example.com/", "https://b.example.com/")
	assert.Equal(t, 2, code)

	code, out, _ := runCLI(t, "fetch", "-m", "PROPFIND", "https://example.com/")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "blocked: deny method PROPFIND")

	code, _, _ = runCLI(t, "fetch", "-m", "BAD METHOD", "https://example.com/")
	assert.Equal(t, 2, code)
}

func TestIsCLIUsageError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"flag provided but not defined: -x", true},
		{`Required flag "url" not set`, true},
		{"No help topic for 'bogus'", true},
		{"connection refused", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isCLIUsageError(errors.New(tt.msg)), tt.msg)
	}
}

func TestExitCode(t *testing.T) {
	app := createApp()
	var stderr bytes.Buffer
	app.ErrWriter = &stderr

	assert.Equal(t, 3, exitCode(app, &exitError{code: 3}))
	assert.Equal(t, 2, exitCode(app, usagef("bad %s", "input")))
	assert.Contains(t, stderr.String(), "参数错误: bad input")
	assert.Equal(t, 1, exitCode(app, errors.New("boom")))
	assert.Contains(t, stderr.String(), "错误: boom")
	assert.Equal(t, "exit status 3", (&exitError{code: 3}).Error())
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, Version)
}

// syncBuffer 并发安全的输出缓冲，watch 回调在监视 goroutine 中写入。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch(t *testing.T) {
	path := writePolicy(t, "ports:\n  allow: [\"443\"]\n")
	policy, err := loadPolicy(path, "")
	require.NoError(t, err)

	out := &syncBuffer{}
	e := &env{policy: policy, logger: xlog.Discard(), out: out, close: func() error { return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cmdWatch(ctx, e, path, "", []string{"http://example.com:8080/"}, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "watching "+path)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "http://example.com:8080/: deny port 8080")

	require.NoError(t, os.WriteFile(path, []byte("ports:\n  allow: [\"443\", \"8080\"]\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "reloaded (revision 2)")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "http://example.com:8080/: allow")

	require.NoError(t, os.WriteFile(path, []byte("ports:\n  allow: [\"not-a-port\"]\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "reload failed")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_RequiresPolicy(t *testing.T) {
	code, _, _ := runCLI(t, "watch")
	assert.Equal(t, 2, code)
}
