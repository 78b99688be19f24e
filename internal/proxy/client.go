package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	xproxy "golang.org/x/net/proxy"

	"github.com/keypool-dev/geminipool/internal/store"
)

// attemptTimeout is the wall-clock ceiling for a single upstream attempt.
const attemptTimeout = 60 * time.Second

// newHTTPClient builds the HTTP client for one upstream attempt, honoring the
// current egress proxy settings. It is constructed per attempt so a settings
// change takes effect without a restart.
func newHTTPClient(ps *store.ProxySettings) *http.Client {
	client := &http.Client{Timeout: attemptTimeout}
	if ps == nil || !ps.Enabled || ps.Host == "" || ps.Port <= 0 {
		return client
	}

	switch ps.Type {
	case "http", "https":
		proxyURL := &url.URL{
			Scheme: ps.Type,
			Host:   net.JoinHostPort(ps.Host, fmt.Sprintf("%d", ps.Port)),
		}
		if ps.Username != "" && ps.Password != "" {
			proxyURL.User = url.UserPassword(ps.Username, ps.Password)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	case "socks5":
		var auth *xproxy.Auth
		if ps.Username != "" && ps.Password != "" {
			auth = &xproxy.Auth{User: ps.Username, Password: ps.Password}
		}
		addr := net.JoinHostPort(ps.Host, fmt.Sprintf("%d", ps.Port))
		dialer, err := xproxy.SOCKS5("tcp", addr, auth, xproxy.Direct)
		if err != nil {
			log.Errorf("create SOCKS5 dialer failed, using direct connection: %v", err)
			return client
		}
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if contextDialer, ok := dialer.(xproxy.ContextDialer); ok {
					return contextDialer.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "socks4":
		// golang.org/x/net/proxy has no SOCKS4 dialer; the setting is kept
		// for schema compatibility but connections go direct.
		log.Warn("socks4 egress proxy is not supported, using direct connection")
	default:
		log.Warnf("unknown egress proxy type %q, using direct connection", ps.Type)
	}
	return client
}
