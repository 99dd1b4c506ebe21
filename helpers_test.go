package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/always-cache/always-offline/cache"

	"github.com/rs/zerolog"
)

var errOffline = errors.New("network unreachable")

var shellManifest = []string{"/", "/index.html", "/manifest.json"}

// testNetwork records every request and can be switched offline.
type testNetwork struct {
	client *http.Client

	mu       sync.Mutex
	offline  bool
	requests []string
}

func (n *testNetwork) Do(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.requests = append(n.requests, req.Method+" "+req.URL.String())
	offline := n.offline
	n.mu.Unlock()
	if offline {
		return nil, errOffline
	}
	return n.client.Do(req)
}

func (n *testNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *testNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

// spyStorage counts every storage access.
type spyStorage struct {
	cache.Storage
	calls atomic.Int64
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	s.calls.Add(1)
	return s.Storage.Open(ctx, name)
}

func (s *spyStorage) Has(ctx context.Context, name string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Has(ctx, name)
}

func (s *spyStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Delete(ctx, name)
}

func (s *spyStorage) Keys(ctx context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.Storage.Keys(ctx)
}

func (s *spyStorage) Match(ctx context.Context, key string) ([]byte, error) {
	s.calls.Add(1)
	return s.Storage.Match(ctx, key)
}

// failingDeleteStorage refuses to delete one cache.
type failingDeleteStorage struct {
	cache.Storage
	fail string
}

func (s failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if name == s.fail {
		return false, errors.New("delete refused")
	}
	return s.Storage.Delete(ctx, name)
}

// blockingDeleteStorage holds every deletion until release is closed.
type blockingDeleteStorage struct {
	cache.Storage
	started chan string
	release chan struct{}
}

func (s *blockingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.started <- name
	<-s.release
	return s.Storage.Delete(ctx, name)
}

// staleKeysStorage lists caches that have already been deleted, as a Keys call
// racing with an activation would.
type staleKeysStorage struct {
	cache.Storage
	stale []string
}

func (s *staleKeysStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.Storage.Keys(ctx)
	return append(names, s.stale...), err
}

var errWriteRefused = errors.New("write refused")

// failingWriteStorage refuses every cache write while failWrites is set.
type failingWriteStorage struct {
	cache.Storage
	failWrites atomic.Bool
}

func (s *failingWriteStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return failingWriteCache{Cache: c, s: s}, nil
}

type failingWriteCache struct {
	cache.Cache
	s *failingWriteStorage
}

func (c failingWriteCache) Put(ctx context.Context, entry cache.Entry) error {
	if c.s.failWrites.Load() {
		return errWriteRefused
	}
	return c.Cache.Put(ctx, entry)
}

func (c failingWriteCache) PutAll(ctx context.Context, entries []cache.Entry) error {
	if c.s.failWrites.Load() {
		return errWriteRefused
	}
	return c.Cache.PutAll(ctx, entries)
}

// newOrigin serves a small application. Every response of `/` is numbered.
func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	var homeCount atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "home %d", homeCount.Add(1))
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("index"))
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"app"}`))
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Write([]byte("console.log('app')"))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.html", http.StatusFound)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("submitted"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newThirdParty serves cross-origin assets, with CORS approval if allowOrigin is set.
func newThirdParty(t *testing.T, allowOrigin string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		}
		w.Write([]byte("third party " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRegistration(t *testing.T, origin *httptest.Server, storage cache.Storage) (*Registration, *testNetwork) {
	t.Helper()
	scope, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	network := &testNetwork{client: NewNetwork(nil)}
	logger := zerolog.Nop()
	reg, err := NewRegistration(Config{
		Scope:   *scope,
		Storage: storage,
		Network: network,
		Logger:  &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg, network
}

func register(t *testing.T, reg *Registration, version string, assets ...string) *Worker {
	t.Helper()
	w, err := reg.Register(context.Background(), Manifest{Version: version, Assets: assets})
	if err != nil {
		t.Fatalf("Register %s: %v", version, err)
	}
	return w
}

func serve(reg *Registration, method, target, client string, mode RequestMode) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(clientIDHeader, client)
	if mode != "" {
		req.Header.Set(fetchModeHeader, string(mode))
	}
	rr := httptest.NewRecorder()
	reg.ServeHTTP(rr, req)
	return rr
}

func navigate(reg *Registration, target, client string) *httptest.ResponseRecorder {
	return serve(reg, http.MethodGet, target, client, ModeNavigate)
}

func drain(t *testing.T, reg *Registration) {
	t.Helper()
	if err := reg.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func cacheKeys(t *testing.T, storage cache.Storage, name string) []string {
	t.Helper()
	c, ok, err := storage.Lookup(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Cache %s does not exist", name)
	}
	keys, err := c.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func httptestRecord(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// nopWriter discards a response.
type nopWriter struct{}

func (nopWriter) Header() http.Header         { return http.Header{} }
func (nopWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nopWriter) WriteHeader(int)             {}
