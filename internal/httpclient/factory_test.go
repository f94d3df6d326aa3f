package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.HTTPConfig{Timeout: 3 * time.Second, BlockPrivateIPs: true})
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.True(t, cfg.BlockPrivateIPs)
	assert.False(t, cfg.FollowRedirects)

	client, err := NewSecureClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.Timeout)
}

func TestNewSecureClientRejectsBadProxy(t *testing.T) {
	_, err := NewSecureClient(SecureClientConfig{Proxy: "://bad"})
	assert.Error(t, err)
}

func TestSSRFProtectionBlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewSecureClient(SecureClientConfig{Timeout: 5 * time.Second, BlockPrivateIPs: true})
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected SSRF protection to block the loopback test server")
	}
	assert.Contains(t, err.Error(), "SSRF protection")
}

func TestRedirectsAreNotFollowedByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewSecureClient(DefaultConfig())
	require.NoError(t, err)

	resp, err := client.Get(server.URL + "/start")
	require.NoError(t, err)
	defer CloseBody(resp)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"93.184.216.34", false},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, isPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestRequestFuncSendsIdentityAndReadsBody(t *testing.T) {
	var gotUA, gotCookie, gotStatic string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotStatic = r.Header.Get("X-Static")
		if r.URL.Query().Get("id") == "3" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(strings.Repeat("a", 64)))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewSecureClient(DefaultConfig())
	require.NoError(t, err)

	fn := NewRequestFunc(client, RequestOptions{
		UserAgent:    "paramhunt/test",
		Headers:      map[string]string{"X-Static": "1", "Cookie": "static"},
		Identity:     Identity{Name: "attacker", Headers: map[string]string{"Cookie": "session=attacker"}},
		MaxBodyBytes: 16,
	})

	resp, err := fn(context.Background(), server.URL+"/users?id=3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Body, 16, "body is truncated to MaxBodyBytes")
	assert.Equal(t, "paramhunt/test", gotUA)
	assert.Equal(t, "session=attacker", gotCookie)
	assert.Equal(t, "1", gotStatic)

	resp, err = fn(context.Background(), server.URL+"/users?id=4")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequestFuncWrapsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client, err := NewSecureClient(DefaultConfig())
	require.NoError(t, err)

	_, err = NewRequestFunc(client, RequestOptions{})(context.Background(), addr+"/users?id=1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransport))
}

func TestRequestFuncDrivesProbeEngine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "3":
			w.WriteHeader(http.StatusOK)
		case "4":
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	client, err := NewSecureClient(DefaultConfig())
	require.NoError(t, err)

	engine := probe.NewEngine(probe.Options{RequestTimeout: 50 * time.Millisecond})
	results, err := engine.Run(context.Background(), probe.Plan{
		Template: server.URL + "/users?id={}",
		Start:    1,
		End:      5,
	}, NewRequestFunc(client, RequestOptions{}))
	require.NoError(t, err)

	var got []probe.Verdict
	for _, r := range results {
		got = append(got, r.Verdict)
	}
	assert.Equal(t, []probe.Verdict{
		probe.VerdictForbidden,
		probe.VerdictForbidden,
		probe.VerdictAccessible,
		probe.VerdictProbeFailed,
		probe.VerdictForbidden,
	}, got)
}
