package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/always-cache/always-offline/cache"
	cachekey "github.com/always-cache/always-offline/pkg/cache-key"
	"github.com/always-cache/always-offline/rfc9211"

	"github.com/rs/zerolog"
)

type Config struct {
	// Scope of the registration, i.e. the origin (and optional base path) of the application.
	// Relative request URLs and manifest entries are resolved against it.
	Scope url.URL
	// Storage for the caches of all worker versions.
	Storage cache.Storage
	// Network performs the fetches. A client created with NewNetwork(nil) is used if nil.
	Network Network
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Registration hosts the workers of one scope.
// It dispatches lifecycle events to new worker versions and fetch events to the
// worker controlling the client of a request.
type Registration struct {
	scope   *url.URL
	storage cache.Storage
	network Network
	keyer   cachekey.CacheKeyer
	clients *clients
	log     zerolog.Logger

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker

	// serializes install and activation sequences
	updateMu sync.Mutex
	// outstanding fetch event tasks
	pending sync.WaitGroup
}

// NewRegistration creates an empty registration. Workers are added with Register.
func NewRegistration(config Config) (*Registration, error) {
	if config.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if !config.Scope.IsAbs() || config.Scope.Host == "" {
		return nil, fmt.Errorf("scope must be an absolute URL: %q", config.Scope.String())
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logger = logger.With().
		Str("scope", config.Scope.String()).
		Logger()

	network := config.Network
	if network == nil {
		network = NewNetwork(nil)
	}

	scope := config.Scope
	return &Registration{
		scope:   &scope,
		storage: config.Storage,
		network: network,
		keyer:   cachekey.NewCacheKeyer(&scope),
		clients: newClients(),
		log:     logger,
	}, nil
}

// Register installs a new worker version.
// After a successful install the worker waits until it may activate: right away if it
// skips waiting, if there is no active worker or if the active worker controls no clients,
// otherwise once the last client of the active worker is released.
// A failed install leaves the worker redundant and the registration unchanged.
func (r *Registration) Register(ctx context.Context, m Manifest) (*Worker, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	w, err := newWorker(r, m)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	w.setState(StateInstalling)
	// cancelling ctx aborts the install, which then fails like any other
	ev := newExtendableEvent(ctx)
	w.install(ev)
	if err := ev.Wait(); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		w.setState(StateRedundant)
		return nil, fmt.Errorf("install %s: %w", m.Version, err)
	}
	w.setState(StateInstalled)

	r.mu.Lock()
	r.installing = nil
	replaced := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if replaced != nil {
		replaced.setState(StateRedundant)
	}

	r.tryActivate(ctx)
	return w, nil
}

// tryActivate activates the waiting worker if nothing holds it back.
// The caller must hold updateMu.
func (r *Registration) tryActivate(ctx context.Context) {
	r.mu.RLock()
	waiting, active := r.waiting, r.active
	r.mu.RUnlock()
	if waiting == nil {
		return
	}
	if active != nil && !waiting.skipsWaiting() {
		if n := r.clients.controlledBy(active); n > 0 {
			waiting.log.Info().Int("clients", n).Msg("Waiting for clients of the active worker to close")
			return
		}
	}
	r.activate(ctx, waiting, active)
}

// activate promotes w over old and runs its activate handler.
// The worker is activated even if its handler fails.
func (r *Registration) activate(ctx context.Context, w, old *Worker) {
	r.mu.Lock()
	r.waiting = nil
	r.active = w
	r.mu.Unlock()
	if old != nil {
		n := r.clients.replace(old, w)
		old.log.Debug().Int("clients", n).Msg("Superseded")
		old.setState(StateRedundant)
	}

	w.setState(StateActivating)
	// once started, activation runs to completion
	ev := newExtendableEvent(context.WithoutCancel(ctx))
	w.activate(ev)
	if err := ev.Wait(); err != nil {
		w.log.Error().Err(err).Msg("Activation failed")
	}
	w.setState(StateActivated)
	w.log.Info().Msg("Activated")
}

// Active returns the active worker, nil if there is none.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker that waits for activation, nil if there is none.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// ReleaseClient forgets a client, e.g. when its page was closed, and reports whether it was known.
// Releasing the last client of the active worker activates a waiting worker.
func (r *Registration) ReleaseClient(ctx context.Context, id string) bool {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	if !r.clients.release(id) {
		return false
	}
	r.log.Debug().Str("client", id).Msg("Client released")
	r.tryActivate(ctx)
	return true
}

// Clients lists the known clients.
func (r *Registration) Clients() []ClientInfo {
	return r.clients.list()
}

// ServeHTTP implements the http.Handler interface.
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer r.recover(w, req)

	id := clientID(req)
	var controller *Worker
	if isNavigation(req) {
		controller = r.clients.navigate(id, r.Active())
	} else {
		controller = r.clients.controllerOf(id)
	}
	if controller == nil {
		cs := rfc9211.CacheStatus{}
		cs.Forward(rfc9211.FwdReasonBypass)
		r.escapeHatch(w, req, cs)
		return
	}

	ev, err := controller.dispatchFetch(req, id)
	if err != nil {
		if req.Context().Err() != nil {
			return
		}
		controller.log.Warn().Err(err).Msg("Could not dispatch fetch event")
		cs := rfc9211.CacheStatus{}
		cs.Forward(rfc9211.FwdReasonBypass)
		r.escapeHatch(w, req, cs)
		return
	}
	r.track(ev)

	if !ev.Responded() {
		cs := rfc9211.CacheStatus{}
		if req.Method != http.MethodGet {
			cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			cs.Forward(rfc9211.FwdReasonBypass)
		}
		r.escapeHatch(w, req, cs)
		return
	}

	res, err := ev.Response(req.Context())
	if err != nil {
		controller.log.Warn().Err(err).Str("url", req.URL.String()).Msg("Fetch event failed")
		r.sendError(w, req, ev.CacheStatus)
		return
	}
	r.send(w, req, res, ev.CacheStatus)
}

// Drain waits until every task of the dispatched fetch events, e.g. a cache write, has finished.
func (r *Registration) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registration) track(ev *FetchEvent) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if err := ev.Wait(); err != nil {
			r.log.Trace().Err(err).Msg("Fetch event settled with error")
		}
	}()
}

// escapeHatch forwards the request to the network as if there was no worker.
func (r *Registration) escapeHatch(w http.ResponseWriter, req *http.Request, cs rfc9211.CacheStatus) {
	r.log.Trace().Msgf("passing through %s", req.URL.String())
	fetchTotal.WithLabelValues(sourcePassthrough).Inc()
	out, err := forwardRequest(req.Context(), req, r.keyer.Resolve(req.URL))
	if err != nil {
		r.log.Error().Err(err).Msg("Could not create network request")
		r.sendError(w, req, cs)
		return
	}
	res, err := r.network.Do(out)
	if err != nil {
		r.log.Warn().Err(err).Str("url", out.URL.String()).Msg("Network request failed")
		r.sendError(w, req, cs)
		return
	}
	r.send(w, req, res, cs)
}

func (r *Registration) send(w http.ResponseWriter, req *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	if res.Body != nil {
		bytesWritten, err := io.Copy(w, res.Body)
		if err != nil {
			r.log.Error().Err(err).Msg("Could not write response body to client")
		}
		r.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
	r.logRequest(req, res.StatusCode, cs)
}

func (r *Registration) sendError(w http.ResponseWriter, req *http.Request, cs rfc9211.CacheStatus) {
	w.Header().Set("Cache-Status", cs.String())
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	r.logRequest(req, http.StatusBadGateway, cs)
}

// recover passes the request through if handling it panicked.
func (r *Registration) recover(w http.ResponseWriter, req *http.Request) {
	if p := recover(); p != nil {
		r.log.Error().Interface("panic", p).Str("url", req.URL.String()).Msg("Request handling panicked")
		cs := rfc9211.CacheStatus{}
		cs.Forward(rfc9211.FwdReasonBypass)
		r.escapeHatch(w, req, cs)
	}
}

func (r *Registration) logRequest(req *http.Request, status int, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	r.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("client", clientID(req)).
		Int("code", status).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}
