package xguard

import (
	"fmt"
	"net/http"

	"github.com/omeyang/xacl/pkg/observability/xlog"
	"github.com/omeyang/xacl/pkg/security/xacl"
)

// maxRedirects 与 net/http 默认客户端保持一致。
const maxRedirects = 10

// NewTransport 返回使用 d 拨号的 http.Transport。
//
// 基于 http.DefaultTransport 的副本，环境变量代理被关闭，连接总是直达经过判定的地址。
func NewTransport(d *Dialer) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = d.DialContext
	return t
}

// roundTripper 在发出请求前判定方法、scheme、主机与端口。
type roundTripper struct {
	guard *Guard
	next  http.RoundTripper
}

// RoundTripper 包装 next，请求发出前按 [xacl.Policy.IsRequestAllowed] 判定。
//
// 这一层只做快速拒绝，地址判定仍由 next 使用的 [Dialer] 完成。
func (g *Guard) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{guard: g, next: next}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	d := rt.guard.Policy().IsRequestAllowed(req.Method, req.URL.String())
	if !d.Allowed {
		rt.guard.logger.Warn(req.Context(), "request denied",
			xlog.Method(req.Method), xlog.Host(req.URL.Host), decisionAttr(d))
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, d.Err()
	}
	return rt.next.RoundTrip(req)
}

// CheckRedirect 返回 http.Client.CheckRedirect 钩子，对每一跳重定向重新判定。
func CheckRedirect(src xacl.Source) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: %d", ErrTooManyRedirects, len(via))
		}
		return src.Snapshot().IsRequestAllowed(req.Method, req.URL.String()).Err()
	}
}

// NewClient 返回受保护的 http.Client：请求判定、重定向判定与拨号判定全部启用。
func NewClient(d *Dialer) *http.Client {
	return &http.Client{
		Transport:     d.guard.RoundTripper(NewTransport(d)),
		CheckRedirect: CheckRedirect(d.guard.src),
	}
}
