package alwaysoffline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/always-offline/cache"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"
	"github.com/always-cache/always-offline/rfc9211"
)

const offlineFallbackDetail = "offline-fallback"

// fetch decides how to source the response of an intercepted request:
//   - non-GET: not handled, the host passes the request through
//   - navigation: network first, the offline document if the network fails
//   - anything else: cache first, storing eligible network responses
func (w *Worker) fetch(ev *FetchEvent) {
	if ev.Request.Method != http.MethodGet {
		return
	}
	if isNavigation(ev.Request) {
		ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return w.networkFirst(ctx, ev)
		})
		return
	}
	ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
		return w.cacheFirst(ctx, ev)
	})
}

// networkFirst returns the live response as is. Only when the network cannot be reached
// the stored offline document is used; without one the event settles with no response.
func (w *Worker) networkFirst(ctx context.Context, ev *FetchEvent) (*http.Response, error) {
	res, err := w.network(ctx, ev.Request)
	if err == nil {
		ev.CacheStatus.Forward(rfc9211.FwdReasonRequest)
		fetchTotal.WithLabelValues(sourceNetwork).Inc()
		return res, nil
	}
	w.log.Warn().Err(err).Str("url", ev.Request.URL.String()).Msg("Navigation failed, serving offline document")
	cached := w.match(ctx, w.reg.keyer.URLKey(w.offline))
	if cached == nil {
		w.log.Debug().Str("offline", w.offline.String()).Msg("Offline document not stored")
		fetchTotal.WithLabelValues(sourceError).Inc()
		return nil, nil
	}
	ev.CacheStatus.Hit()
	ev.CacheStatus.Detail = offlineFallbackDetail
	fetchTotal.WithLabelValues(sourceFallback).Inc()
	return cached, nil
}

// cacheFirst serves stored responses without revalidation.
// On a miss the network response is returned, and eligible responses are duplicated
// so that one copy is written to the cache after the other has been handed out.
func (w *Worker) cacheFirst(ctx context.Context, ev *FetchEvent) (*http.Response, error) {
	key, err := w.reg.keyer.GetKey(ev.Request)
	if err != nil {
		return nil, err
	}
	if cached := w.match(ctx, key); cached != nil {
		ev.CacheStatus.Hit()
		fetchTotal.WithLabelValues(sourceCache).Inc()
		return cached, nil
	}

	requestTime := time.Now()
	res, err := w.network(ctx, ev.Request)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Fetch failed")
		fetchTotal.WithLabelValues(sourceError).Inc()
		return nil, err
	}
	ev.CacheStatus.Forward(rfc9211.FwdReasonUriMiss)
	fetchTotal.WithLabelValues(sourceNetwork).Inc()

	if !w.cacheable(ev.Request, res) {
		cacheWriteTotal.WithLabelValues("skipped").Inc()
		return res, nil
	}
	clone, err := serializer.Clone(res)
	if err != nil {
		fetchTotal.WithLabelValues(sourceError).Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	responseTime := time.Now()
	ev.CacheStatus.Stored = true
	ev.WaitUntil(func(ctx context.Context) error {
		w.put(ctx, key, serializer.TimedResponse{
			Response:     clone,
			RequestTime:  requestTime,
			ResponseTime: responseTime,
		})
		return nil
	})
	return res, nil
}

// cacheable reports whether a network response may be stored:
// status 200, and either same-origin or CORS approved.
func (w *Worker) cacheable(req *http.Request, res *http.Response) bool {
	if res == nil || res.StatusCode != http.StatusOK {
		return false
	}
	switch responseType(w.reg.scope, w.reg.keyer.Resolve(req.URL), requestMode(req), res) {
	case TypeBasic, TypeCORS:
		return true
	}
	return false
}

// network fetches the intercepted request from the network.
func (w *Worker) network(ctx context.Context, r *http.Request) (*http.Response, error) {
	req, err := forwardRequest(ctx, r, w.reg.keyer.Resolve(r.URL))
	if err != nil {
		return nil, err
	}
	return w.reg.network.Do(req)
}

// match looks the key up in all caches. Lookup errors count as a miss.
func (w *Worker) match(ctx context.Context, key string) *http.Response {
	b, err := w.storage().Match(ctx, key)
	if err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil
	}
	if b == nil {
		return nil
	}
	sRes, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil
	}
	if sRes.Response.Request == nil {
		if req, err := w.reg.keyer.GetRequestFromKey(key); err == nil {
			sRes.Response.Request = req
		}
	}
	return sRes.Response
}

// put writes a response into the cache of the worker. Failures are only logged.
func (w *Worker) put(ctx context.Context, key string, sRes serializer.TimedResponse) {
	bytes, err := serializer.StoredResponseToBytes(sRes)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
		cacheWriteTotal.WithLabelValues("failed").Inc()
		return
	}
	c, err := w.storage().Open(ctx, w.Version())
	if err == nil {
		err = c.Put(ctx, cache.Entry{Key: key, Bytes: bytes})
	}
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		cacheWriteTotal.WithLabelValues("failed").Inc()
		return
	}
	cacheWriteTotal.WithLabelValues("stored").Inc()
	w.log.Trace().Str("key", key).Msg("Cache write")
}
