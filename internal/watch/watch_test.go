package watch

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeWatcher struct {
	evC  chan Event
	errC chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{evC: make(chan Event, 4), errC: make(chan error, 4)}
}

func (f *fakeWatcher) Events() <-chan Event { return f.evC }
func (f *fakeWatcher) Errors() <-chan error { return f.errC }
func (f *fakeWatcher) Close() error         { return nil }

func TestRunRecompilesImmediatelyAndOnEvent(t *testing.T) {
	w := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())

	var count int
	done := make(chan struct{})

	go func() {
		_ = Run(ctx, w, func() error {
			count++
			if count == 2 {
				close(done)
			}
			return nil
		}, func(error) {})
	}()

	w.evC <- Event{Path: "f.il.json"}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected two recompiles, got %d", count)
	}

	cancel()
}

func TestRunForwardsRecompileErrorsWithoutStopping(t *testing.T) {
	w := newFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gotErrs []error
	errCh := make(chan struct{}, 2)

	go func() {
		_ = Run(ctx, w, func() error {
			return errors.New("boom")
		}, func(err error) {
			gotErrs = append(gotErrs, err)
			errCh <- struct{}{}
		})
	}()

	<-errCh

	w.evC <- Event{Path: "f.il.json"}
	<-errCh

	if len(gotErrs) != 2 {
		t.Fatalf("expected 2 forwarded errors, got %d", len(gotErrs))
	}
}
