package xacl

import (
	"fmt"
	"net/http"
	"strings"
)

// StandardMethods 默认允许的 HTTP 方法。
var StandardMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
	http.MethodTrace,
}

// DefaultSchemes 默认允许的 URL scheme。
var DefaultSchemes = []string{"http", "https"}

// defaultSchemePorts URL 未指定端口时按 scheme 推断的端口。
var defaultSchemePorts = map[string]uint16{
	"http":  80,
	"ws":    80,
	"https": 443,
	"wss":   443,
}

// NormalizeScheme 转小写并按 RFC 3986 校验 scheme 语法。
func NormalizeScheme(s string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidScheme)
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidScheme, s)
		}
	}
	return v, nil
}

// NormalizeMethod 转大写并按 RFC 9110 token 语法校验 HTTP 方法。
func NormalizeMethod(m string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(m))
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMethod)
	}
	for i := 0; i < len(v); i++ {
		if !isTokenChar(v[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidMethod, m)
		}
	}
	return v, nil
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
