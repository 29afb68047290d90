// Package httpclient configures the HTTP client used to call tile servers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent identifies the cache to tile servers; public OSM servers
// reject requests without one.
const DefaultUserAgent = "tilecache/1.0 (+https://github.com/stenvall/tilecache)"

// NewOutbound creates a new outbound http client. A non-positive timeout
// leaves the deadline to the request context.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &http.Client{Transport: transport}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c
}
