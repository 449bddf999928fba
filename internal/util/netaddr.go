package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DetectRouteIP returns the local address the OS would use to reach target.
// A UDP "connection" is opened, which sends no packets, and its local end is
// read back. Falls back to an interface scan if that yields nothing usable.
func DetectRouteIP(target string) (netip.Addr, error) {
	host := strings.TrimPrefix(target, "https://")
	host = strings.TrimPrefix(host, "http://")
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "80")
	}

	conn, err := net.DialTimeout("udp4", host, 5*time.Second)
	if err != nil {
		log.Debug().Err(err).Str("target", host).Msg("route probe failed, falling back to interface scan")
		return DetectInterfaceIP()
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return DetectInterfaceIP()
	}
	ip, ok := netip.AddrFromSlice(udp.IP)
	if !ok || ip.Unmap().IsUnspecified() || ip.Unmap().IsLoopback() {
		log.Debug().Str("ip", udp.IP.String()).Msg("route probe returned unusable IP, falling back to interface scan")
		return DetectInterfaceIP()
	}
	return ip.Unmap(), nil
}

// DetectInterfaceIP returns the first non-loopback IPv4 interface address.
func DetectInterfaceIP() (netip.Addr, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipNet.IP.To4()); ok {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no usable IPv4 interface address")
}

// DefaultPublicIPServices return the caller's address as plain text.
var DefaultPublicIPServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// DetectPublicIP asks each service in turn for this host's public IPv4
// address and returns the first valid answer.
func DetectPublicIP(ctx context.Context, services []string) (netip.Addr, error) {
	if len(services) == 0 {
		services = DefaultPublicIPServices
	}
	client := &http.Client{Timeout: 5 * time.Second}

	var lastErr error
	for _, u := range services {
		ip, err := fetchPublicIP(ctx, client, u)
		if err == nil {
			return ip, nil
		}
		log.Debug().Err(err).Str("url", u).Msg("public IP fetch failed")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return netip.Addr{}, fmt.Errorf("public IP detection failed: %w", lastErr)
}

func fetchPublicIP(ctx context.Context, client *http.Client, url string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return netip.Addr{}, err
	}

	ip, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid answer %q: %w", strings.TrimSpace(string(body)), err)
	}
	if !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	return ip, nil
}

// IsPrivateIP reports whether ip is loopback, link-local or RFC1918.
func IsPrivateIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}
