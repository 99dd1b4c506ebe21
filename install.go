package alwaysoffline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/always-cache/always-offline/cache"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"

	"golang.org/x/sync/errgroup"
)

// install caches the app shell. On success the worker asks to skip waiting.
func (w *Worker) install(ev *ExtendableEvent) {
	w.log.Info().Msg("Installing")
	ev.WaitUntil(func(ctx context.Context) error {
		w.log.Debug().Int("assets", len(w.assets)).Msg("Caching app shell")
		if err := w.addAll(ctx); err != nil {
			w.log.Error().Err(err).Msg("Caching failed")
			installTotal.WithLabelValues("failed").Inc()
			return err
		}
		w.log.Info().Msg("App shell cached successfully")
		installTotal.WithLabelValues("succeeded").Inc()
		w.SkipWaiting()
		return nil
	})
}

// addAll fetches every asset and then stores all of them in the cache of the worker.
// If any fetch fails nothing is stored, and a cache created for a failed write is removed again.
func (w *Worker) addAll(ctx context.Context) error {
	entries := make([]cache.Entry, len(w.assets))
	seen := make(map[string]bool, len(w.assets))
	for i, u := range w.assets {
		key := w.reg.keyer.URLKey(u)
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, u)
		}
		seen[key] = true
		entries[i].Key = key
	}

	// the first failure cancels the fetches still in flight
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range w.assets {
		g.Go(func() error {
			b, err := w.fetchAsset(gctx, u)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", u, err)
			}
			entries[i].Bytes = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	storage := w.storage()
	existed, err := storage.Has(ctx, w.Version())
	if err != nil {
		return fmt.Errorf("check cache %s: %w", w.Version(), err)
	}
	c, err := storage.Open(ctx, w.Version())
	if err != nil {
		return err
	}
	if err := c.PutAll(ctx, entries); err != nil {
		if !existed {
			// the write may have failed because ctx is done
			if _, delErr := storage.Delete(context.WithoutCancel(ctx), w.Version()); delErr != nil {
				w.log.Warn().Err(delErr).Msg("Could not remove partially created cache")
			}
		}
		return err
	}
	w.log.Trace().Int("entries", len(entries)).Str("cache", c.Name()).Msg("Cache write")
	return nil
}

// fetchAsset requests a manifest asset in cors mode and serializes the response.
// Only ok responses that are same-origin or CORS approved are accepted.
func (w *Worker) fetchAsset(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(fetchModeHeader, string(ModeCORS))
	requestTime := time.Now()
	res, err := w.reg.network.Do(req)
	if err != nil {
		return nil, err
	}
	body := res.Body
	defer body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, res.StatusCode)
	}
	if t := responseType(w.reg.scope, u, ModeCORS, res); t != TypeBasic && t != TypeCORS {
		return nil, ErrCrossOrigin
	}
	return serializer.StoredResponseToBytes(serializer.TimedResponse{
		Response:     res,
		RequestTime:  requestTime,
		ResponseTime: time.Now(),
	})
}
