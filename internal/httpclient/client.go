package httpclient

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/http2"
)

const defaultIdlePerHost = 32

// Options configure the shared client.
type Options struct {
	Timeout time.Duration // per-request timeout, 0 disables
	// IdleConnsPerHost should be at least the number of concurrent workers so
	// keep-alive connections are reused instead of churned.
	IdleConnsPerHost int
	// H2C speaks HTTP/2 over cleartext with prior knowledge.
	H2C bool
}

// NewClient returns a client safe for concurrent use by every worker of a run.
// It carries its own cookie jar so a login performed once is visible to all
// later requests.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout < 0 {
		timeout = 0
	}
	perHost := opts.IdleConnsPerHost
	if perHost < defaultIdlePerHost {
		perHost = defaultIdlePerHost
	}

	// cookiejar.New only fails on a non-nil PublicSuffixList.
	jar, _ := cookiejar.New(nil)

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var transport http.RoundTripper
	if opts.H2C {
		transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
		}
	} else {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          perHost * 2,
			MaxIdleConnsPerHost:   perHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		Jar:       jar,
	}
}
