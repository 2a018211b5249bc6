package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fmgram/pkg/fmgram"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*fmgram.Event
	err    error
}

func (d *recordingDispatcher) Publish(_ context.Context, event *fmgram.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)

	return nil
}

func (d *recordingDispatcher) published() []*fmgram.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*fmgram.Event(nil), d.events...)
}

func testMessageUpdate(id string) Update {
	return Update{
		ID:         id,
		Type:       UpdateTypeMessage,
		OccurredAt: time.Unix(1_700_000_000, 0).UTC(),
		Chat:       ChatRef{ID: "500", Type: fmgram.ConversationTypeGroup},
		Actor:      ActorRef{ID: "42"},
		Message:    &MessagePayload{ID: "10", Text: "/np"},
	}
}

func TestDriverStartPublishesWithSource(t *testing.T) {
	t.Parallel()

	updates := make(chan Update, 3)
	updates <- testMessageUpdate("u1")
	updates <- Update{ID: "broken", Type: UpdateTypeMessage, Chat: ChatRef{ID: "500"}}
	updates <- testMessageUpdate("u2")
	close(updates)

	var (
		mu       sync.Mutex
		reported []error
	)
	driver, err := NewDriver(ChannelSource{Updates: updates}, NewDefaultDecoder(),
		WithName("tg-main"),
		WithErrorHandler(func(_ context.Context, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}
	if driver.Name() != "tg-main" {
		t.Fatalf("name = %s, want tg-main", driver.Name())
	}

	dispatcher := &recordingDispatcher{}
	if err := driver.Start(context.Background(), dispatcher); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := dispatcher.published()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	for _, event := range events {
		want := fmgram.EventSource{Platform: fmgram.PlatformTelegram, ID: "tg-main"}
		if event.Source != want {
			t.Fatalf("event %s source = %+v, want %+v", event.ID, event.Source, want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !strings.Contains(reported[0].Error(), "missing payload") {
		t.Fatalf("reported = %v, want one decode error", reported)
	}
}

func TestDriverStartPublishFailureStopsLoop(t *testing.T) {
	t.Parallel()

	updates := make(chan Update, 1)
	updates <- testMessageUpdate("u1")

	driver, err := NewDriver(ChannelSource{Updates: updates}, NewDefaultDecoder())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	err = driver.Start(context.Background(), &recordingDispatcher{err: fmgram.ErrSubscriptionClosed})
	if !errors.Is(err, fmgram.ErrSubscriptionClosed) {
		t.Fatalf("start error = %v, want %v", err, fmgram.ErrSubscriptionClosed)
	}
}

func TestDriverStartCanceledIsClean(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(ChannelSource{Updates: make(chan Update)}, NewDefaultDecoder())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := driver.Start(ctx, &recordingDispatcher{}); err != nil {
		t.Fatalf("start error = %v, want nil", err)
	}
	if err := driver.Start(ctx, nil); err == nil {
		t.Fatal("expected nil dispatcher error")
	}
}

func TestNewDriverValidatesDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewDriver(nil, NewDefaultDecoder()); err == nil {
		t.Fatal("expected nil source error")
	}
	if _, err := NewDriver(ChannelSource{}, nil); err == nil {
		t.Fatal("expected nil decoder error")
	}
}
