package util

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPublicIP_FallsThroughServices(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not an ip</html>"))
	}))
	defer garbage.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("203.0.113.7\n"))
	}))
	defer good.Close()

	ip, err := DetectPublicIP(context.Background(), []string{broken.URL, garbage.URL, good.URL})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.7"), ip)
}

func TestDetectPublicIP_RejectsIPv6(t *testing.T) {
	v6 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("2001:db8::1"))
	}))
	defer v6.Close()

	_, err := DetectPublicIP(context.Background(), []string{v6.URL})
	assert.Error(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"::ffff:192.168.1.1", true},
		{"203.0.113.7", false},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivateIP(netip.MustParseAddr(tt.ip)))
		})
	}
}

func TestEnsureTLSCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	require.NoError(t, EnsureTLSCert(certFile, keyFile, "127.0.0.1", "localhost"))
	_, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	before, err := os.Stat(certFile)
	require.NoError(t, err)

	// Existing files are left alone.
	require.NoError(t, EnsureTLSCert(certFile, keyFile))
	after, err := os.Stat(certFile)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)
	assert.NotEmpty(t, info.GoVersion)

	usage := GetResourceUsage()
	assert.Positive(t, usage.Goroutines)
}
