package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fmgram/pkg/fmgram"
)

func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *fmgram.Event, 2)
	_, err := bus.Subscribe(context.Background(), fmgram.InterestSet{
		Kinds: []fmgram.EventKind{fmgram.EventKindReactionAdded},
	}, fmgram.SubscriptionSpec{Name: "reactions"}, func(_ context.Context, event *fmgram.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e0", fmgram.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish e0 failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("e1", fmgram.EventKindReactionAdded)); err != nil {
		t.Fatalf("publish e1 failed: %v", err)
	}

	if event := waitEvent(t, received); event.ID != "e1" {
		t.Fatalf("event id = %s, want e1", event.ID)
	}
}

func TestEventBusSourceFilter(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	interest := fmgram.InterestSet{
		Sources: []fmgram.EventSource{{Platform: fmgram.PlatformTelegram, ID: "tg-backup"}},
	}
	received := make(chan *fmgram.Event, 2)
	if _, err := bus.Subscribe(context.Background(), interest, fmgram.SubscriptionSpec{Name: "backup"},
		func(_ context.Context, event *fmgram.Event) error {
			received <- event
			return nil
		}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	// Mutating the caller's slice must not affect matching.
	interest.Sources[0].ID = "tg-main"

	main := newTestEvent("from-main", fmgram.EventKindMessageCreated)
	backup := newTestEvent("from-backup", fmgram.EventKindMessageCreated)
	backup.Source.ID = "tg-backup"
	for _, event := range []*fmgram.Event{main, backup} {
		if err := bus.Publish(context.Background(), event); err != nil {
			t.Fatalf("publish %s failed: %v", event.ID, err)
		}
	}

	if event := waitEvent(t, received); event.ID != "from-backup" {
		t.Fatalf("event id = %s, want from-backup", event.ID)
	}
}

func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     fmgram.BackpressurePolicy
		wantEvents []string
		wantDrops  int
	}{
		{
			name:       "drop newest keeps queued oldest",
			policy:     fmgram.BackpressureDropNewest,
			wantEvents: []string{"e1", "e2"},
			wantDrops:  1,
		},
		{
			name:       "drop oldest keeps latest",
			policy:     fmgram.BackpressureDropOldest,
			wantEvents: []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var (
				mu        sync.Mutex
				processed []string
				drops     int
			)
			bus := NewEventBus(1, 1, time.Second, func(_ context.Context, _ string, err error) {
				if errors.Is(err, fmgram.ErrEventDropped) {
					mu.Lock()
					drops++
					mu.Unlock()
				}
			})
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			var first sync.Once
			_, err := bus.Subscribe(context.Background(), fmgram.InterestSet{}, fmgram.SubscriptionSpec{
				Name:         "policy",
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *fmgram.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1", fmgram.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			for _, id := range []string{"e2", "e3"} {
				if err := bus.Publish(context.Background(), newTestEvent(id, fmgram.EventKindMessageCreated)); err != nil {
					t.Fatalf("publish %s failed: %v", id, err)
				}
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			defer mu.Unlock()
			if diff := cmp.Diff(testCase.wantEvents, processed); diff != "" {
				t.Fatalf("processed mismatch (-want +got):\n%s", diff)
			}
			if drops != testCase.wantDrops {
				t.Fatalf("drops = %d, want %d", drops, testCase.wantDrops)
			}
		})
	}
}

func TestEventBusBlockPolicyPreservesOrder(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(1, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	var (
		mu        sync.Mutex
		processed []string
	)
	spec := fmgram.NewSerialSubscriptionSpec("serial", time.Second)
	spec.Buffer = 1
	if _, err := bus.Subscribe(context.Background(), fmgram.InterestSet{}, spec, func(_ context.Context, event *fmgram.Event) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		processed = append(processed, event.ID)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, id := range want {
		if err := bus.Publish(context.Background(), newTestEvent(id, fmgram.EventKindReactionAdded)); err != nil {
			t.Fatalf("publish %s failed: %v", id, err)
		}
	}

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, processed); diff != "" {
		t.Fatalf("processed mismatch (-want +got):\n%s", diff)
	}
}

func TestEventBusHandlerPanicIsReported(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := NewEventBus(4, 1, time.Second, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if _, err := bus.Subscribe(context.Background(), fmgram.InterestSet{}, fmgram.SubscriptionSpec{Name: "panics"},
		func(context.Context, *fmgram.Event) error {
			panic("boom")
		}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("e1", fmgram.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case err := <-reported:
		if err == nil {
			t.Fatal("reported nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestEventBusSubscribeRejectsUnknownBackpressure(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(1, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), fmgram.InterestSet{}, fmgram.SubscriptionSpec{
		Backpressure: "spill",
	}, noopHandler)
	if !errors.Is(err, fmgram.ErrInvalidSubscription) {
		t.Fatalf("subscribe error = %v, want %v", err, fmgram.ErrInvalidSubscription)
	}
}

func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", fmgram.EventKindMessageCreated)); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(context.Background(), fmgram.InterestSet{}, fmgram.SubscriptionSpec{}, noopHandler); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
}

func TestEventBusPublishInvalidEvent(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if err := bus.Publish(context.Background(), nil); !errors.Is(err, fmgram.ErrInvalidEvent) {
		t.Fatalf("nil publish error = %v, want %v", err, fmgram.ErrInvalidEvent)
	}
	event := newTestEvent("e1", fmgram.EventKindReactionAdded)
	event.Reaction = nil
	if err := bus.Publish(context.Background(), event); !errors.Is(err, fmgram.ErrInvalidEvent) {
		t.Fatalf("publish error = %v, want %v", err, fmgram.ErrInvalidEvent)
	}
}
