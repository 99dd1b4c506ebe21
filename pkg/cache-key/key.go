package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// CacheKeyer derives request identities for one scope.
// Relative request URLs are resolved against the scope, so that `/index.html`
// and `https://app.example/index.html` share a key.
type CacheKeyer struct {
	// Scope of the keyer, i.e. the origin (and base path) of the application.
	Scope *url.URL
}

func NewCacheKeyer(scope *url.URL) CacheKeyer {
	return CacheKeyer{Scope: scope}
}

// Resolve returns the absolute URL of the request target, without fragment.
func (c CacheKeyer) Resolve(u *url.URL) *url.URL {
	resolved := *u
	if !resolved.IsAbs() && c.Scope != nil {
		resolved = *c.Scope.ResolveReference(u)
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	// host names are case insensitive
	resolved.Host = strings.ToLower(resolved.Host)
	return &resolved
}

// GetKey returns the cache key for a request.
// Only GET requests can be keyed, everything else returns ErrorMethodNotSupported.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return c.URLKey(r.URL), nil
}

// URLKey returns the cache key for a GET of the given (possibly relative) URL.
func (c CacheKeyer) URLKey(u *url.URL) string {
	return http.MethodGet + methodSeparator + c.Resolve(u).String()
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
