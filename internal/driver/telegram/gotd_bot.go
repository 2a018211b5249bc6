package telegram

import (
	"context"
	"fmt"
)

// GotdBotClient abstracts a connected gotd bot session.
type GotdBotClient interface {
	// Run connects, authenticates and executes fn within the session lifetime.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// CallbackAnswerer acknowledges inline keyboard presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, queryID int64) error
}

// GotdBotSource wires gotd bot updates into UpdateSource.
type GotdBotSource struct {
	client       GotdBotClient
	updates      <-chan gotdUpdateEnvelope
	mapper       GotdUpdateMapper
	answerer     CallbackAnswerer
	onAsyncError func(context.Context, error)
}

// NewGotdBotSource creates a source backed by a gotd bot session.
func NewGotdBotSource(
	client GotdBotClient,
	updates <-chan gotdUpdateEnvelope,
	mapper GotdUpdateMapper,
	answerer CallbackAnswerer,
	onAsyncError func(context.Context, error),
) (*GotdBotSource, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("new gotd bot source: nil client")
	case updates == nil:
		return nil, fmt.Errorf("new gotd bot source: nil update stream")
	case mapper == nil:
		return nil, fmt.Errorf("new gotd bot source: nil mapper")
	case answerer == nil:
		return nil, fmt.Errorf("new gotd bot source: nil callback answerer")
	}
	if onAsyncError == nil {
		onAsyncError = func(context.Context, error) {}
	}

	return &GotdBotSource{
		client:       client,
		updates:      updates,
		mapper:       mapper,
		answerer:     answerer,
		onAsyncError: onAsyncError,
	}, nil
}

// Consume runs the bot session and forwards mapped updates to the handler.
// Callback presses are answered before the handler runs; answer failures are
// reported but do not stop the loop.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd bot updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		for {
			select {
			case <-runCtx.Done():
				return nil
			case envelope, ok := <-s.updates:
				if !ok {
					return nil
				}

				mapped, accepted, err := s.mapUpdateSafely(runCtx, envelope)
				if err != nil {
					return fmt.Errorf("map gotd update: %w", err)
				}
				if !accepted {
					continue
				}
				if mapped.Callback != nil {
					if err := s.answerer.AnswerCallback(runCtx, mapped.Callback.QueryID); err != nil {
						s.onAsyncError(runCtx, fmt.Errorf("answer callback %d: %w", mapped.Callback.QueryID, err))
					}
				}
				if err := handler(runCtx, mapped); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", mapped.Type, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd bot updates: %w", err)
	}

	return nil
}

func (s *GotdBotSource) mapUpdateSafely(
	ctx context.Context,
	envelope gotdUpdateEnvelope,
) (mapped Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update %s panic: %v", envelope.updateClass, recovered)
		}
	}()

	return s.mapper.Map(ctx, envelope)
}
