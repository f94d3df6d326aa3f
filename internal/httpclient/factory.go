// Package httpclient builds the HTTP clients used for probing and adapts them
// to the probe engine's request function.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
)

type SecureClientConfig struct {
	Timeout         time.Duration
	BlockPrivateIPs bool
	FollowRedirects bool
	MaxRedirects    int
	Proxy           string
}

func DefaultConfig() SecureClientConfig {
	return SecureClientConfig{
		Timeout:         10 * time.Second,
		BlockPrivateIPs: false,
		FollowRedirects: false,
		MaxRedirects:    5,
	}
}

func FromConfig(cfg config.HTTPConfig) SecureClientConfig {
	c := DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	c.BlockPrivateIPs = cfg.BlockPrivateIPs
	c.FollowRedirects = cfg.FollowRedirects
	c.Proxy = cfg.Proxy
	return c
}

// NewSecureClient creates an HTTP client with an overall timeout, an optional
// private-address block and a configurable redirect policy. Probing usually
// wants redirects left unfollowed so a 302 is reported as such.
func NewSecureClient(cfg SecureClientConfig) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !cfg.BlockPrivateIPs {
				return dialer.DialContext(ctx, network, addr)
			}
			ip, port, err := resolvePublic(ctx, addr)
			if err != nil {
				return nil, fmt.Errorf("SSRF protection: %w", err)
			}
			// Dial the checked address so a second lookup cannot rebind it.
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if cfg.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	}

	return client, nil
}

func resolvePublic(ctx context.Context, addr string) (net.IP, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", err
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, "", fmt.Errorf("blocked private IP: %s (%s)", ip, host)
		}
	}
	if len(ips) == 0 {
		return nil, "", fmt.Errorf("no addresses for %s", host)
	}
	return ips[0], port, nil
}

// isPrivateIP checks if an IP address is private, loopback, link-local or unspecified
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// CloseBody drains and closes a response body so the connection can be reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
