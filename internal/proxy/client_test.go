package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keypool-dev/geminipool/internal/store"
)

func TestNewHTTPClientDirect(t *testing.T) {
	tests := []struct {
		name string
		ps   *store.ProxySettings
	}{
		{name: "nil settings", ps: nil},
		{name: "disabled", ps: &store.ProxySettings{Enabled: false, Type: "http", Host: "h", Port: 8080}},
		{name: "missing host", ps: &store.ProxySettings{Enabled: true, Type: "http", Port: 8080}},
		{name: "socks4 unsupported", ps: &store.ProxySettings{Enabled: true, Type: "socks4", Host: "h", Port: 1080}},
		{name: "unknown type", ps: &store.ProxySettings{Enabled: true, Type: "telepathy", Host: "h", Port: 1080}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newHTTPClient(tt.ps)
			if client.Transport != nil {
				t.Fatalf("Transport = %#v, want nil (direct)", client.Transport)
			}
			if client.Timeout != attemptTimeout {
				t.Fatalf("Timeout = %v, want %v", client.Timeout, attemptTimeout)
			}
		})
	}
}

func TestNewHTTPClientHTTPProxy(t *testing.T) {
	client := newHTTPClient(&store.ProxySettings{
		Enabled:  true,
		Type:     "http",
		Host:     "127.0.0.1",
		Port:     3128,
		Username: "user",
		Password: "pass",
	})
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport.Proxy == nil {
		t.Fatalf("Transport = %#v, want proxied http.Transport", client.Transport)
	}

	req := httptest.NewRequest("GET", "https://generativelanguage.googleapis.com/v1beta/models", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("Proxy() error = %v", err)
	}
	if proxyURL.Host != "127.0.0.1:3128" || proxyURL.Scheme != "http" {
		t.Fatalf("proxy url = %s", proxyURL)
	}
	if proxyURL.User == nil || proxyURL.User.Username() != "user" {
		t.Fatalf("proxy url credentials = %v", proxyURL.User)
	}
}

func TestNewHTTPClientSOCKS5(t *testing.T) {
	client := newHTTPClient(&store.ProxySettings{
		Enabled: true,
		Type:    "socks5",
		Host:    "127.0.0.1",
		Port:    1080,
	})
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport.DialContext == nil {
		t.Fatalf("Transport = %#v, want dialer-backed http.Transport", client.Transport)
	}
}
