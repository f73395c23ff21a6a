package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultGatewayTimeout = 120 * time.Second

// gatewayTransport is shared by every gateway client so Claude, OpenAI,
// image and video calls reuse one connection pool.
var gatewayTransport = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

// SharedHTTPClient returns a client on the shared gateway transport. The
// timeout covers a whole exchange; zero means defaultGatewayTimeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &http.Client{Timeout: timeout, Transport: gatewayTransport()}
}
