package xnet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// ParseAddr 解析单个 IP 地址，接受 URL 形式的方括号（"[::1]"）。
// 结果去除 zone 并将 IPv4-mapped IPv6 归一化为 IPv4。
func ParseAddr(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = s[1 : len(s)-1]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return addr.WithZone("").Unmap(), nil
}

// ParseRange 从字符串解析 IP 范围。支持 4 种格式：
//   - 单 IP: "192.168.1.1"
//   - CIDR: "192.168.1.0/24"（主机位被清零）
//   - 掩码: "192.168.1.0/255.255.255.0"（仅 IPv4）
//   - 范围: "192.168.1.1-192.168.1.100"
//
// 输入会自动去除首尾空白字符。IPv4-mapped IPv6 统一归一化为纯 IPv4，
// 使四种格式的输出地址族一致。
func ParseRange(s string) (netipx.IPRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netipx.IPRange{}, fmt.Errorf("%w: empty input", ErrInvalidRange)
	}

	// 设计决策: 拒绝包含 IPv6 zone ID 的输入（如 fe80::1%eth0）。
	// netipx.IPRange/IPSet 会静默丢弃 zone 信息，规则与查询将无法对齐。
	if strings.Contains(s, "%") {
		return netipx.IPRange{}, fmt.Errorf("%w: IPv6 zone ID is not supported: %s", ErrInvalidRange, s)
	}

	if idx := strings.Index(s, "-"); idx >= 0 {
		return parseExplicitRange(s[:idx], s[idx+1:])
	}

	if idx := strings.Index(s, "/"); idx >= 0 {
		addrPart := strings.TrimSpace(s[:idx])
		maskStr := strings.TrimSpace(s[idx+1:])
		if strings.Contains(maskStr, ".") {
			return parseRangeWithMask(addrPart, maskStr)
		}
		prefix, err := netip.ParsePrefix(addrPart + "/" + maskStr)
		if err != nil {
			return netipx.IPRange{}, fmt.Errorf("%w: invalid CIDR: %w", ErrInvalidRange, err)
		}
		prefix, err = unmapPrefix(prefix)
		if err != nil {
			return netipx.IPRange{}, err
		}
		return netipx.RangeOfPrefix(prefix.Masked()), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	addr = addr.Unmap()
	return netipx.IPRangeFrom(addr, addr), nil
}

// unmapPrefix 将 ::ffff:0:0/96 之内的前缀转换为等价的 IPv4 前缀。
// 前缀长度小于 96 时跨越映射区间边界，无法表示为 IPv4，返回错误。
func unmapPrefix(p netip.Prefix) (netip.Prefix, error) {
	if !p.Addr().Is4In6() {
		return p, nil
	}
	if p.Bits() < 96 {
		return netip.Prefix{}, fmt.Errorf("%w: IPv4-mapped prefix shorter than /96: %s", ErrInvalidRange, p)
	}
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96), nil
}

// parseExplicitRange 解析 "start-end" 形式的范围，两端须为同一地址族且 start <= end。
func parseExplicitRange(startStr, endStr string) (netipx.IPRange, error) {
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)
	start, err := netip.ParseAddr(startStr)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: invalid range start: %s", ErrInvalidRange, startStr)
	}
	end, err := netip.ParseAddr(endStr)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: invalid range end: %s", ErrInvalidRange, endStr)
	}
	r := netipx.IPRangeFrom(start.Unmap(), end.Unmap())
	if !r.IsValid() {
		return netipx.IPRange{}, fmt.Errorf("%w: %s-%s", ErrInvalidRange, startStr, endStr)
	}
	return r, nil
}

// parseRangeWithMask 解析掩码格式的 IP 范围（仅 IPv4），包含掩码连续性校验。
// 非连续掩码（如 "255.0.255.0"）会返回 ErrInvalidRange。
func parseRangeWithMask(addrStr, maskStr string) (netipx.IPRange, error) {
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: invalid address: %w", ErrInvalidRange, err)
	}
	mask, err := netip.ParseAddr(maskStr)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: invalid mask: %w", ErrInvalidRange, err)
	}
	addr, mask = addr.Unmap(), mask.Unmap()
	if !addr.Is4() || !mask.Is4() {
		return netipx.IPRange{}, fmt.Errorf("%w: mask notation only supports IPv4", ErrInvalidRange)
	}

	addrB, maskB := addr.As4(), mask.As4()
	addrUint := binary.BigEndian.Uint32(addrB[:])
	maskUint := binary.BigEndian.Uint32(maskB[:])

	// 合法掩码为前缀全 1 后缀全 0。
	inverted := ^maskUint
	if inverted&(inverted+1) != 0 {
		return netipx.IPRange{}, fmt.Errorf("%w: non-contiguous mask: %s", ErrInvalidRange, maskStr)
	}

	start := addrUint & maskUint
	end := start | inverted
	return netipx.IPRangeFrom(addrFromUint32(start), addrFromUint32(end)), nil
}

func addrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// ParseRanges 从字符串切片解析并合并为 [*netipx.IPSet]。
// 每个字符串使用 [ParseRange] 解析，结果自动合并去重。
// 空切片或 nil 返回空的 IPSet。
func ParseRanges(strs []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, s := range strs {
		r, err := ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("parse range %q: %w", s, err)
		}
		b.AddRange(r)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build IPSet: %w", err)
	}
	return set, nil
}

// RangeString 返回范围的紧凑表示：能表示为单个 CIDR 时返回前缀（单地址返回地址本身），
// 否则返回 "from-to"。
func RangeString(r netipx.IPRange) string {
	if !r.IsValid() {
		return "invalid"
	}
	if r.From() == r.To() {
		return r.From().String()
	}
	if p, ok := r.Prefix(); ok {
		return p.String()
	}
	return r.From().String() + "-" + r.To().String()
}
