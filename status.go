package alwaysoffline

import "context"

// WorkerInfo describes one worker slot of a registration.
type WorkerInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   string `json:"state"`
}

// CacheInfo describes one cache of the storage.
type CacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	// Current is set for the cache of the active worker.
	Current bool `json:"current"`
}

// RegistrationStatus is a snapshot of a registration.
type RegistrationStatus struct {
	Scope      string       `json:"scope"`
	Installing *WorkerInfo  `json:"installing,omitempty"`
	Waiting    *WorkerInfo  `json:"waiting,omitempty"`
	Active     *WorkerInfo  `json:"active,omitempty"`
	Clients    []ClientInfo `json:"clients"`
	Caches     []CacheInfo  `json:"caches"`
}

func workerInfo(w *Worker) *WorkerInfo {
	if w == nil {
		return nil
	}
	return &WorkerInfo{
		ID:      w.ID(),
		Version: w.Version(),
		State:   w.State().String(),
	}
}

// Status reports the worker slots, the clients and the caches of the registration.
func (r *Registration) Status(ctx context.Context) (RegistrationStatus, error) {
	r.mu.RLock()
	status := RegistrationStatus{
		Scope:      r.scope.String(),
		Installing: workerInfo(r.installing),
		Waiting:    workerInfo(r.waiting),
		Active:     workerInfo(r.active),
	}
	r.mu.RUnlock()
	status.Clients = r.Clients()

	names, err := r.storage.Keys(ctx)
	if err != nil {
		return status, err
	}
	status.Caches = make([]CacheInfo, 0, len(names))
	for _, name := range names {
		// a cache deleted since Keys is skipped, never recreated
		c, ok, err := r.storage.Lookup(ctx, name)
		if err != nil {
			return status, err
		}
		if !ok {
			continue
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return status, err
		}
		status.Caches = append(status.Caches, CacheInfo{
			Name:    name,
			Entries: len(keys),
			Current: status.Active != nil && status.Active.Version == name,
		})
	}
	return status, nil
}
