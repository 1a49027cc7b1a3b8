// Package httputil holds the shared outbound HTTP client used by the
// translation and generation backends.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// SharedClient returns an HTTP client with connection pooling tuned for
// repeated calls to the same API hosts. Use this instead of creating
// individual clients per backend.
func SharedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
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
