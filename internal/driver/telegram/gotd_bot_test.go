package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"fmgram/pkg/fmgram"

	"github.com/google/go-cmp/cmp"
	"github.com/gotd/td/tg"
)

type runOnlyClient struct{}

func (runOnlyClient) Run(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type recordingAnswerer struct {
	mu       sync.Mutex
	answered []int64
	err      error
}

func (a *recordingAnswerer) AnswerCallback(_ context.Context, queryID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answered = append(a.answered, queryID)

	return a.err
}

type panicMapper struct{}

func (panicMapper) Map(context.Context, gotdUpdateEnvelope) (Update, bool, error) {
	panic("bad envelope")
}

func callbackEnvelope(queryID int64) gotdUpdateEnvelope {
	query := &tg.UpdateBotCallbackQuery{QueryID: queryID, UserID: 42, Peer: &tg.PeerUser{UserID: 42}, MsgID: 5}
	query.SetData([]byte("➡️"))

	return gotdUpdateEnvelope{update: query, updateClass: query.TypeName()}
}

func TestGotdBotSourceAnswersCallbacksBeforeHandling(t *testing.T) {
	t.Parallel()

	updates := make(chan gotdUpdateEnvelope, 3)
	updates <- callbackEnvelope(1)
	updates <- gotdUpdateEnvelope{update: &tg.UpdateUserTyping{UserID: 42}}
	updates <- callbackEnvelope(2)
	close(updates)

	answerer := &recordingAnswerer{err: errors.New("query expired")}
	var reported []error
	source, err := NewGotdBotSource(runOnlyClient{}, updates, NewDefaultGotdUpdateMapper(), answerer,
		func(_ context.Context, err error) { reported = append(reported, err) })
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	var handled []string
	err = source.Consume(context.Background(), func(_ context.Context, update Update) error {
		answerer.mu.Lock()
		answeredCount := len(answerer.answered)
		answerer.mu.Unlock()
		if answeredCount != len(handled)+1 {
			t.Errorf("handler ran before callback %d was answered", update.Callback.QueryID)
		}
		handled = append(handled, update.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	if diff := cmp.Diff([]string{"tg:callback:42:1", "tg:callback:42:2"}, handled); diff != "" {
		t.Fatalf("handled mismatch (-want +got):\n%s", diff)
	}
	if len(reported) != 2 || !strings.Contains(reported[0].Error(), "answer callback 1") {
		t.Fatalf("reported = %v, want two answer errors", reported)
	}
}

func TestGotdBotSourceFatalErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mapper  GotdUpdateMapper
		handler UpdateHandler
		wantErr string
	}{
		{
			name:   "handler error",
			mapper: NewDefaultGotdUpdateMapper(),
			handler: func(context.Context, Update) error {
				return fmgram.ErrSubscriptionClosed
			},
			wantErr: "consume gotd update callback",
		},
		{
			name:    "mapper panic",
			mapper:  panicMapper{},
			handler: func(context.Context, Update) error { return nil },
			wantErr: "panic: bad envelope",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			updates := make(chan gotdUpdateEnvelope, 1)
			updates <- callbackEnvelope(1)
			source, err := NewGotdBotSource(runOnlyClient{}, updates, testCase.mapper, &recordingAnswerer{}, nil)
			if err != nil {
				t.Fatalf("new source failed: %v", err)
			}

			err = source.Consume(context.Background(), testCase.handler)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("consume error = %v, want containing %q", err, testCase.wantErr)
			}
		})
	}
}

func TestNewGotdBotSourceValidatesDependencies(t *testing.T) {
	t.Parallel()

	updates := make(chan gotdUpdateEnvelope)
	mapper := NewDefaultGotdUpdateMapper()
	answerer := &recordingAnswerer{}

	if _, err := NewGotdBotSource(nil, updates, mapper, answerer, nil); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := NewGotdBotSource(runOnlyClient{}, nil, mapper, answerer, nil); err == nil {
		t.Fatal("expected nil updates error")
	}
	if _, err := NewGotdBotSource(runOnlyClient{}, updates, nil, answerer, nil); err == nil {
		t.Fatal("expected nil mapper error")
	}
	if _, err := NewGotdBotSource(runOnlyClient{}, updates, mapper, nil, nil); err == nil {
		t.Fatal("expected nil answerer error")
	}
}
