package alwaysoffline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/always-cache/always-offline/cache"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultOfflineDocument is served to navigations when the network is unreachable.
const DefaultOfflineDocument = "/index.html"

// Manifest is the deploy-time configuration of one worker version.
type Manifest struct {
	// Version is the cache generation identifier. It names the cache of the worker
	// and must change whenever Assets change.
	Version string `yaml:"version" json:"version"`
	// Assets are absolute or scope-relative URLs cached on install.
	Assets []string `yaml:"manifest" json:"manifest"`
	// Offline is the document served to navigations while offline.
	// It must be one of the assets. Defaults to DefaultOfflineDocument.
	Offline string `yaml:"offline" json:"offline"`
}

// State is the lifecycle state of a worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Worker is one version of the caching agent.
// Its handlers react to the install, activate and fetch events dispatched by its Registration.
type Worker struct {
	id       string
	manifest Manifest
	assets   []*url.URL
	offline  *url.URL
	reg      *Registration
	log      zerolog.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
	activated   chan struct{}
	stopped     chan struct{}
}

func newWorker(reg *Registration, m Manifest) (*Worker, error) {
	if m.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	if m.Offline == "" {
		m.Offline = DefaultOfflineDocument
	}
	offline, err := url.Parse(m.Offline)
	if err != nil {
		return nil, fmt.Errorf("%w: offline document: %v", ErrInvalidManifest, err)
	}
	offlineKey := reg.keyer.URLKey(offline)

	w := &Worker{
		id:        uuid.NewString(),
		manifest:  m,
		offline:   offline,
		reg:       reg,
		activated: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	hasOffline := false
	for _, asset := range m.Assets {
		u, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q: %v", ErrInvalidManifest, asset, err)
		}
		if reg.keyer.URLKey(u) == offlineKey {
			hasOffline = true
		}
		w.assets = append(w.assets, reg.keyer.Resolve(u))
	}
	if !hasOffline {
		return nil, fmt.Errorf("%w: offline document %s is not in the manifest", ErrInvalidManifest, m.Offline)
	}
	w.log = reg.log.With().
		Str("version", m.Version).
		Str("worker", w.id).
		Logger()
	return w, nil
}

// ID uniquely identifies the worker instance.
func (w *Worker) ID() string {
	return w.id
}

// Version is the cache generation identifier of the worker.
func (w *Worker) Version() string {
	return w.manifest.Version
}

// Manifest returns the manifest the worker was created from, with the offline document defaulted.
func (w *Worker) Manifest() Manifest {
	return w.manifest
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == s {
		return
	}
	w.log.Debug().Str("from", w.state.String()).Str("to", s.String()).Msg("Worker state change")
	w.state = s
	switch s {
	case StateActivated:
		close(w.activated)
	case StateRedundant:
		close(w.stopped)
	}
}

// SkipWaiting makes the worker supersede the active worker as soon as it is installed,
// without waiting for the clients of the active worker to close.
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skipWaiting = true
}

func (w *Worker) skipsWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// Claim makes the worker the controller of every open client of its registration.
// Only the active worker may claim clients.
func (w *Worker) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.reg.Active() != w {
		return ErrNotActive
	}
	if s := w.State(); s != StateActivating && s != StateActivated {
		return ErrNotActive
	}
	claimed := w.reg.clients.claim(w)
	w.log.Debug().Int("clients", claimed).Msg("Claimed clients")
	return nil
}

// storage is the cache storage shared by all workers of the registration.
func (w *Worker) storage() cache.Storage {
	return w.reg.storage
}

// waitActivated blocks fetch dispatch until the worker has finished activating.
func (w *Worker) waitActivated(ctx context.Context) error {
	select {
	case <-w.activated:
		return nil
	case <-w.stopped:
		select {
		case <-w.activated:
			return nil
		default:
			return ErrNotActive
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchFetch runs the fetch handler for req once the worker is activated.
func (w *Worker) dispatchFetch(req *http.Request, clientID string) (*FetchEvent, error) {
	if err := w.waitActivated(req.Context()); err != nil {
		return nil, err
	}
	ev := newFetchEvent(req, clientID)
	w.fetch(ev)
	return ev, nil
}
