package alwaysoffline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitUntilJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	ev := newExtendableEvent(context.Background())
	ev.WaitUntil(func(ctx context.Context) error { return errA })
	ev.WaitUntil(func(ctx context.Context) error { return nil })
	ev.WaitUntil(func(ctx context.Context) error { return errB })

	err := ev.Wait()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Expected both errors, got %v", err)
	}
}

func TestWaitIncludesNestedTasks(t *testing.T) {
	var finished atomic.Bool
	ev := newExtendableEvent(context.Background())
	ev.WaitUntil(func(ctx context.Context) error {
		ev.WaitUntil(func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
		return nil
	})

	if err := ev.Wait(); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatalf("Wait returned before the nested task finished")
	}
}

func TestTaskPanicBecomesError(t *testing.T) {
	ev := newExtendableEvent(context.Background())
	ev.WaitUntil(func(ctx context.Context) error { panic("boom") })

	if err := ev.Wait(); err == nil {
		t.Fatalf("Expected panic to be reported")
	}
}

func TestFetchTasksOutliveRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := newFetchEvent(httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx), "tab")
	cancel()
	ev.WaitUntil(func(ctx context.Context) error { return ctx.Err() })

	if err := ev.Wait(); err != nil {
		t.Fatalf("Task saw cancelled context: %v", err)
	}
}

func TestWaitAwaitsCancelledTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	ev := newExtendableEvent(ctx)
	ev.WaitUntil(func(ctx context.Context) error {
		<-ctx.Done()
		// cleanup after cancellation still belongs to the event
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})
	cancel()

	if err := ev.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !finished.Load() {
		t.Fatalf("Wait returned before the cancelled task finished")
	}
}

func TestRespondWithFirstCallWins(t *testing.T) {
	ev := newFetchEvent(httptest.NewRequest(http.MethodGet, "/", nil), "tab")
	first := &http.Response{StatusCode: http.StatusOK}
	ev.RespondWith(func(ctx context.Context) (*http.Response, error) { return first, nil })
	ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	})

	res, err := ev.Response(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res != first {
		t.Fatalf("Response is %d, expected the first one", res.StatusCode)
	}
}

func TestResponseWithoutRespondWith(t *testing.T) {
	ev := newFetchEvent(httptest.NewRequest(http.MethodPost, "/", nil), "tab")

	if ev.Responded() {
		t.Fatalf("Event reports a response")
	}
	if _, err := ev.Response(context.Background()); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Expected ErrNoResponse, got %v", err)
	}
}

func TestRespondWithNilResponse(t *testing.T) {
	ev := newFetchEvent(httptest.NewRequest(http.MethodGet, "/", nil), "tab")
	ev.RespondWith(func(ctx context.Context) (*http.Response, error) { return nil, nil })

	if _, err := ev.Response(context.Background()); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Expected ErrNoResponse, got %v", err)
	}
}
