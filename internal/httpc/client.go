// Package httpc builds the HTTP clients used for every outbound service call.
// All clients carry an explicit timeout; http.DefaultClient is never used.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Transport defaults shared by every client.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

var sharedTransport = newTransport()

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns a client with the given overall timeout.
// Clients share one pooled transport. A non-positive timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// Or returns c when non-nil, otherwise a fresh client with the given timeout.
func Or(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return NewClient(timeout)
}
