// Package rfc9211 builds the Cache-Status response header field (RFC 9211).
package rfc9211

import "fmt"

// CacheName identifies this cache in the header field.
const CacheName = "AlwaysOffline"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// The response was stored by the cache.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response was served from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := CacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
	case StatusFwd:
		reason := cs.FwdReason
		if reason == "" {
			reason = FwdReasonMiss
		}
		status = fmt.Sprintf("%s; fwd=%s", status, reason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
