package xlog

import (
	"log/slog"
	"net/netip"
	"time"
)

// 常用属性 Key，判定日志与 CLI 输出共用同一套字段名。
const (
	KeyError      = "error"
	KeyStack      = "stack"
	KeyDuration   = "duration"
	KeyCount      = "count"
	KeyComponent  = "component"
	KeyOperation  = "operation"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatusCode = "status_code"

	// KeyHost 目标主机名
	KeyHost = "host"
	// KeyPort 目标端口
	KeyPort = "port"
	// KeyAddr 单个 IP 地址
	KeyAddr = "addr"
	// KeyAddrs IP 地址列表
	KeyAddrs = "addrs"
)

// Err 创建错误属性。err 为 nil 时返回空属性，slog 会忽略它。
//
//	if err != nil {
//	    logger.Error(ctx, "dial failed", xlog.Err(err))
//	}
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 创建操作名属性
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Count 创建计数属性
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// StatusCode 创建 HTTP 状态码属性
func StatusCode(code int) slog.Attr {
	return slog.Int(KeyStatusCode, code)
}

// Method 创建 HTTP 方法属性
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Path 创建请求路径属性
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Host 创建主机名属性
func Host(h string) slog.Attr {
	return slog.String(KeyHost, h)
}

// Port 创建端口属性
func Port(p uint16) slog.Attr {
	return slog.Int(KeyPort, int(p))
}

// Addr 创建 IP 地址属性。无效地址返回空属性。
func Addr(a netip.Addr) slog.Attr {
	if !a.IsValid() {
		return slog.Attr{}
	}
	return slog.String(KeyAddr, a.String())
}

// Addrs 创建 IP 地址列表属性
func Addrs(as []netip.Addr) slog.Attr {
	ss := make([]string, len(as))
	for i, a := range as {
		ss[i] = a.String()
	}
	return slog.Any(KeyAddrs, ss)
}
