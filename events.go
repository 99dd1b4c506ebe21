package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/always-cache/always-offline/rfc9211"
)

// ExtendableEvent is dispatched to a worker handler.
// The handler attaches asynchronous work with WaitUntil and the dispatcher awaits
// all of it with Wait before it considers the phase complete.
// WaitUntil must be called from the handler itself or from a task that is still running.
type ExtendableEvent struct {
	// context of every task of the event
	ctx  context.Context
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// newExtendableEvent creates an event whose tasks run with ctx.
// Cancelling ctx asks the tasks to stop; Wait still awaits them.
func newExtendableEvent(ctx context.Context) *ExtendableEvent {
	return &ExtendableEvent{ctx: ctx}
}

// WaitUntil extends the lifetime of the event until fn returns.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := runTask(e.ctx, fn); err != nil {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		}
	}()
}

// Wait blocks until every task attached to the event has finished and returns their joined errors.
// There is no way to stop waiting early: the outcome of a phase is only known once all of its work is done.
func (e *ExtendableEvent) Wait() error {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func runTask(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in event task: %v", p)
		}
	}()
	return fn(ctx)
}

// FetchEvent is dispatched for every request of a controlled client.
// A handler that does not call RespondWith leaves the request to the default
// network handling of the host.
type FetchEvent struct {
	*ExtendableEvent
	Request  *http.Request
	ClientID string
	// CacheStatus is set by the handler to describe where the response came from.
	CacheStatus rfc9211.CacheStatus

	once      sync.Once
	responded bool
	done      chan struct{}
	res       *http.Response
	err       error
}

// newFetchEvent creates the event for req. Its tasks, e.g. cache writes, outlive the request.
func newFetchEvent(req *http.Request, clientID string) *FetchEvent {
	return &FetchEvent{
		ExtendableEvent: newExtendableEvent(context.WithoutCancel(req.Context())),
		Request:         req,
		ClientID:        clientID,
		done:            make(chan struct{}),
	}
}

// RespondWith supplies the eventual response. Only the first call has an effect.
// fn runs with the request context; the event is extended until it returns.
func (e *FetchEvent) RespondWith(fn func(ctx context.Context) (*http.Response, error)) {
	first := false
	e.once.Do(func() { first = true })
	if !first {
		return
	}
	e.responded = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.done)
		err := runTask(e.Request.Context(), func(ctx context.Context) error {
			res, err := fn(ctx)
			e.res = res
			return err
		})
		e.err = err
	}()
}

// Responded reports whether the handler called RespondWith.
func (e *FetchEvent) Responded() bool {
	return e.responded
}

// Response waits for the response supplied with RespondWith.
// A settled response of nil without an error is reported as ErrNoResponse.
func (e *FetchEvent) Response(ctx context.Context) (*http.Response, error) {
	if !e.responded {
		return nil, ErrNoResponse
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.res == nil {
		return nil, ErrNoResponse
	}
	return e.res, nil
}
