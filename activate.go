package alwaysoffline

import (
	"context"
	"fmt"
	"sync"
)

// activate deletes the caches of every other version and then claims the open clients.
// Deletions run concurrently; a failed deletion is logged and does not stop the others.
func (w *Worker) activate(ev *ExtendableEvent) {
	w.log.Info().Msg("Activating")
	ev.WaitUntil(func(ctx context.Context) error {
		names, err := w.storage().Keys(ctx)
		if err != nil {
			return fmt.Errorf("list caches: %w", err)
		}
		var wg sync.WaitGroup
		for _, name := range names {
			if name == w.Version() {
				continue
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				w.log.Info().Str("cache", name).Msg("Clearing old cache")
				if _, err := w.storage().Delete(ctx, name); err != nil {
					w.log.Error().Err(err).Str("cache", name).Msg("Could not delete old cache")
					cacheDeleteTotal.WithLabelValues("failed").Inc()
					return
				}
				cacheDeleteTotal.WithLabelValues("deleted").Inc()
			}(name)
		}
		wg.Wait()

		w.log.Info().Msg("Claiming clients")
		return w.Claim(ctx)
	})
}
