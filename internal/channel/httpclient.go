package channel

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns a pooled client for Bot API calls. The overall
// timeout must exceed the long-poll timeout, or every idle poll would fail.
func newHTTPClient(pollTimeout time.Duration) *http.Client {
	timeout := pollTimeout + 15*time.Second
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
