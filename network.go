package alwaysoffline

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Network performs the requests that leave the agent. *http.Client satisfies it.
type Network interface {
	Do(req *http.Request) (*http.Response, error)
}

// NetworkConfig holds the transport options of the default network client.
// There is no overall request timeout, a hanging fetch only blocks its own request.
type NetworkConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	// ServerName overrides the TLS server name, e.g. when the scope origin is just an IP address.
	ServerName string
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         30 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewNetwork creates the HTTP client used for network fetches.
// Redirects are not followed; they are handed back to the browser.
func NewNetwork(config *NetworkConfig) *http.Client {
	if config == nil {
		cfg := DefaultNetworkConfig()
		config = &cfg
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if config.ServerName != "" {
		transport.TLSClientConfig = &tls.Config{
			ServerName: config.ServerName,
		}
	}
	return &http.Client{
		Transport: transport,
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// RequestMode is the fetch mode of an intercepted request, as sent by browsers in `Sec-Fetch-Mode`.
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

const fetchModeHeader = "Sec-Fetch-Mode"

// requestMode defaults to no-cors, the mode of plain subresource loads.
func requestMode(r *http.Request) RequestMode {
	switch mode := RequestMode(strings.ToLower(r.Header.Get(fetchModeHeader))); mode {
	case ModeNavigate, ModeSameOrigin, ModeNoCORS, ModeCORS:
		return mode
	}
	return ModeNoCORS
}

func isNavigation(r *http.Request) bool {
	return requestMode(r) == ModeNavigate
}

// ResponseType classifies a network response the way a browser exposes it to a worker.
type ResponseType string

const (
	TypeBasic          ResponseType = "basic"
	TypeCORS           ResponseType = "cors"
	TypeOpaque         ResponseType = "opaque"
	TypeOpaqueRedirect ResponseType = "opaqueredirect"
	TypeError          ResponseType = "error"
)

// responseType classifies res, the response to a request for target made in the given mode.
func responseType(scope, target *url.URL, mode RequestMode, res *http.Response) ResponseType {
	if res == nil {
		return TypeError
	}
	if isRedirect(res.StatusCode) {
		return TypeOpaqueRedirect
	}
	if origin(target) == origin(scope) {
		return TypeBasic
	}
	if mode == ModeNoCORS {
		return TypeOpaque
	}
	if allow := res.Header.Get("Access-Control-Allow-Origin"); allow == "*" || allow == origin(scope) {
		return TypeCORS
	}
	return TypeOpaque
}

// origin serializes the origin of u, omitting default ports.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return scheme + "://" + host
}

func isRedirect(statusCode int) bool {
	if statusCode == 301 ||
		statusCode == 302 ||
		statusCode == 303 ||
		statusCode == 307 ||
		statusCode == 308 {
		return true
	}
	return false
}

// forwardRequest creates the outgoing request for an intercepted one.
func forwardRequest(ctx context.Context, r *http.Request, target *url.URL) (*http.Request, error) {
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	req.Header.Del(clientIDHeader)
	return req, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
