package driver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fmgram/pkg/fmgram"
)

type stubDriver struct {
	name string
}

func (d stubDriver) Name() string { return d.name }

func (stubDriver) Start(ctx context.Context, _ fmgram.EventDispatcher) error {
	<-ctx.Done()
	return nil
}

func (stubDriver) Shutdown(context.Context) error { return nil }

type stubSinkDispatcher struct {
	mu         sync.Mutex
	operations []string
	err        error
}

func (d *stubSinkDispatcher) record(operation string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.operations = append(d.operations, operation)

	return d.err
}

func (d *stubSinkDispatcher) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.operations...)
}

func (d *stubSinkDispatcher) SendMessage(
	_ context.Context,
	request fmgram.SendMessageRequest,
) (*fmgram.OutboundMessage, error) {
	if err := d.record("send"); err != nil {
		return nil, err
	}

	return &fmgram.OutboundMessage{ID: "m1", Target: request.Target}, nil
}

func (d *stubSinkDispatcher) EditMessage(context.Context, fmgram.EditMessageRequest) error {
	return d.record("edit")
}

func (d *stubSinkDispatcher) DeleteMessage(context.Context, fmgram.DeleteMessageRequest) error {
	return d.record("delete")
}

func (d *stubSinkDispatcher) AnnotateMessage(
	_ context.Context,
	request fmgram.AnnotateMessageRequest,
) ([]string, error) {
	if err := d.record("annotate"); err != nil {
		return nil, err
	}

	return append([]string(nil), request.Symbols...), nil
}

func (d *stubSinkDispatcher) RetractAnnotations(context.Context, fmgram.RetractAnnotationsRequest) error {
	return d.record("retract")
}

func stubBuilder(platform fmgram.Platform) BuilderFunc {
	return func(_ context.Context, definition Definition, _ *slog.Logger) (Runtime, error) {
		if definition.Name == "broken" {
			return Runtime{}, errors.New("broken build")
		}

		return Runtime{
			Source:         fmgram.EventSource{Platform: platform},
			Driver:         stubDriver{name: definition.Name},
			SinkDispatcher: &stubSinkDispatcher{},
		}, nil
	}
}

func TestNewRegistryValidatesDescriptors(t *testing.T) {
	t.Parallel()

	builder := stubBuilder(fmgram.PlatformTelegram)
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErr     string
	}{
		{
			name:        "empty type",
			descriptors: []Descriptor{{Platform: fmgram.PlatformTelegram, Builder: builder}},
			wantErr:     "empty descriptor type",
		},
		{
			name:        "empty platform",
			descriptors: []Descriptor{{Type: "telegram", Builder: builder}},
			wantErr:     "empty platform",
		},
		{
			name:        "nil builder",
			descriptors: []Descriptor{{Type: "telegram", Platform: fmgram.PlatformTelegram}},
			wantErr:     "nil builder",
		},
		{
			name: "duplicate type",
			descriptors: []Descriptor{
				{Type: "telegram", Platform: fmgram.PlatformTelegram, Builder: builder},
				{Type: "telegram", Platform: fmgram.PlatformTelegram, Builder: builder},
			},
			wantErr: "duplicate",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRegistry(testCase.descriptors)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, testCase.wantErr)
			}
		})
	}
}

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]Descriptor{
		{Type: "telegram", Platform: fmgram.PlatformTelegram, Builder: stubBuilder(fmgram.PlatformTelegram)},
		{Type: "mismatched", Platform: fmgram.PlatformTelegram, Builder: stubBuilder("matrix")},
	})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	runtimes, err := registry.BuildEnabled(context.Background(), []Definition{
		{Name: "tg-main", Type: "telegram", Enabled: true},
		{Name: "tg-off", Type: "telegram"},
		{Name: "broken", Type: "telegram"},
	}, slog.Default())
	if err != nil {
		t.Fatalf("build enabled failed: %v", err)
	}
	if len(runtimes) != 1 {
		t.Fatalf("runtimes = %d, want 1", len(runtimes))
	}
	want := fmgram.EventSource{Platform: fmgram.PlatformTelegram, ID: "tg-main"}
	if runtimes[0].Source != want {
		t.Fatalf("source = %+v, want %+v", runtimes[0].Source, want)
	}

	failures := []struct {
		name       string
		definition []Definition
		wantErr    string
	}{
		{name: "builder error", definition: []Definition{{Name: "broken", Type: "telegram", Enabled: true}}, wantErr: "broken build"},
		{name: "unknown type", definition: []Definition{{Name: "x", Type: "irc", Enabled: true}}, wantErr: "unsupported type"},
		{name: "platform mismatch", definition: []Definition{{Name: "x", Type: "mismatched", Enabled: true}}, wantErr: "source platform matrix"},
		{name: "empty name", definition: []Definition{{Type: "telegram", Enabled: true}}, wantErr: "empty name"},
		{
			name: "duplicate name",
			definition: []Definition{
				{Name: "tg", Type: "telegram", Enabled: true},
				{Name: "tg", Type: "telegram", Enabled: true},
			},
			wantErr: "duplicate name",
		},
	}
	for _, failure := range failures {
		if _, err := registry.BuildEnabled(context.Background(), failure.definition, slog.Default()); err == nil ||
			!strings.Contains(err.Error(), failure.wantErr) {
			t.Fatalf("%s: error = %v, want containing %q", failure.name, err, failure.wantErr)
		}
	}
}

func newTestComposite(t *testing.T, sinks ...fmgram.EventSink) (*CompositeSinkDispatcher, map[string]*stubSinkDispatcher) {
	t.Helper()

	stubs := make(map[string]*stubSinkDispatcher, len(sinks))
	runtimes := make([]Runtime, 0, len(sinks)+1)
	for _, sink := range sinks {
		stub := &stubSinkDispatcher{}
		stubs[sink.ID] = stub
		runtimes = append(runtimes, Runtime{
			Source:         fmgram.EventSource{Platform: sink.Platform, ID: sink.ID},
			Driver:         stubDriver{name: sink.ID},
			SinkDispatcher: stub,
		})
	}
	// Inbound-only runtimes are skipped.
	runtimes = append(runtimes, Runtime{Source: fmgram.EventSource{ID: "listener"}, Driver: stubDriver{name: "listener"}})

	composite, err := NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		t.Fatalf("new composite sink dispatcher failed: %v", err)
	}

	return composite, stubs
}

func TestCompositeSinkDispatcherRoutesByID(t *testing.T) {
	t.Parallel()

	composite, stubs := newTestComposite(t,
		fmgram.EventSink{Platform: fmgram.PlatformTelegram, ID: "tg-main"},
		fmgram.EventSink{Platform: fmgram.PlatformTelegram, ID: "tg-alt"},
	)

	ctx := context.Background()
	target := fmgram.OutboundTarget{
		Conversation: fmgram.Conversation{ID: "1", Type: fmgram.ConversationTypeGroup},
		Sink:         &fmgram.EventSink{ID: "tg-alt"},
	}
	if _, err := composite.SendMessage(ctx, fmgram.SendMessageRequest{Target: target, Text: "hi"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := composite.EditMessage(ctx, fmgram.EditMessageRequest{Target: target, MessageID: "m1", Text: "x"}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	controlIDs, err := composite.AnnotateMessage(ctx, fmgram.AnnotateMessageRequest{
		Target:    target,
		MessageID: "m1",
		Symbols:   []string{"◀️", "▶️"},
	})
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if err := composite.RetractAnnotations(ctx, fmgram.RetractAnnotationsRequest{
		Target:     target,
		MessageID:  "m1",
		ControlIDs: controlIDs,
	}); err != nil {
		t.Fatalf("retract failed: %v", err)
	}
	if err := composite.DeleteMessage(ctx, fmgram.DeleteMessageRequest{Target: target, MessageID: "m1"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if diff := cmp.Diff([]string{"◀️", "▶️"}, controlIDs); diff != "" {
		t.Fatalf("control ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"send", "edit", "annotate", "retract", "delete"}, stubs["tg-alt"].recorded()); diff != "" {
		t.Fatalf("tg-alt operations mismatch (-want +got):\n%s", diff)
	}
	if got := stubs["tg-main"].recorded(); len(got) != 0 {
		t.Fatalf("tg-main operations = %v, want none", got)
	}
}

func TestCompositeSinkDispatcherResolve(t *testing.T) {
	t.Parallel()

	conversation := fmgram.Conversation{ID: "1", Type: fmgram.ConversationTypeGroup}
	tests := []struct {
		name    string
		sinks   []fmgram.EventSink
		target  *fmgram.EventSink
		wantID  string
		wantErr string
	}{
		{
			name:   "single sink fallback",
			sinks:  []fmgram.EventSink{{Platform: fmgram.PlatformTelegram, ID: "tg-main"}},
			wantID: "tg-main",
		},
		{
			name: "missing sink with several configured",
			sinks: []fmgram.EventSink{
				{Platform: fmgram.PlatformTelegram, ID: "a"},
				{Platform: fmgram.PlatformTelegram, ID: "b"},
			},
			wantErr: "missing target sink",
		},
		{
			name:   "unique platform match",
			sinks:  []fmgram.EventSink{{Platform: fmgram.PlatformTelegram, ID: "tg-main"}},
			target: &fmgram.EventSink{Platform: fmgram.PlatformTelegram},
			wantID: "tg-main",
		},
		{
			name: "ambiguous platform",
			sinks: []fmgram.EventSink{
				{Platform: fmgram.PlatformTelegram, ID: "a"},
				{Platform: fmgram.PlatformTelegram, ID: "b"},
			},
			target:  &fmgram.EventSink{Platform: fmgram.PlatformTelegram},
			wantErr: "ambiguous sink",
		},
		{
			name:    "unknown id",
			sinks:   []fmgram.EventSink{{Platform: fmgram.PlatformTelegram, ID: "tg-main"}},
			target:  &fmgram.EventSink{ID: "tg-gone"},
			wantErr: "sink tg-gone not found",
		},
		{
			name:    "platform mismatch",
			sinks:   []fmgram.EventSink{{Platform: fmgram.PlatformTelegram, ID: "tg-main"}},
			target:  &fmgram.EventSink{Platform: "matrix", ID: "tg-main"},
			wantErr: "platform mismatch",
		},
		{
			name:    "no sinks",
			target:  &fmgram.EventSink{ID: "tg-main"},
			wantErr: "no sinks configured",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			composite, stubs := newTestComposite(t, testCase.sinks...)
			_, err := composite.SendMessage(context.Background(), fmgram.SendMessageRequest{
				Target: fmgram.OutboundTarget{Conversation: conversation, Sink: testCase.target},
				Text:   "hi",
			})
			if testCase.wantErr != "" {
				if !errors.Is(err, fmgram.ErrOutboundUnsupported) || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("error = %v, want %v containing %q", err, fmgram.ErrOutboundUnsupported, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if got := stubs[testCase.wantID].recorded(); len(got) != 1 {
				t.Fatalf("%s operations = %v, want one send", testCase.wantID, got)
			}
		})
	}
}

func TestCompositeSinkDispatcherPropagatesOutboundError(t *testing.T) {
	t.Parallel()

	composite, stubs := newTestComposite(t, fmgram.EventSink{Platform: fmgram.PlatformTelegram, ID: "tg-main"})
	stubs["tg-main"].err = &fmgram.OutboundError{Kind: fmgram.OutboundErrorKindRateLimited}

	err := composite.DeleteMessage(context.Background(), fmgram.DeleteMessageRequest{
		Target:    fmgram.OutboundTarget{Conversation: fmgram.Conversation{ID: "1", Type: fmgram.ConversationTypeGroup}},
		MessageID: "m1",
	})
	if _, ok := fmgram.AsOutboundRateLimit(err); !ok {
		t.Fatalf("error = %v, want rate limit", err)
	}
}

func TestCompositeSinkDispatcherListsSinks(t *testing.T) {
	t.Parallel()

	composite, _ := newTestComposite(t,
		fmgram.EventSink{Platform: fmgram.PlatformTelegram, ID: "tg-z"},
		fmgram.EventSink{Platform: "matrix", ID: "mx"},
		fmgram.EventSink{Platform: fmgram.PlatformTelegram, ID: "tg-a"},
	)

	all, err := composite.ListSinks(context.Background())
	if err != nil {
		t.Fatalf("list sinks failed: %v", err)
	}
	wantAll := []fmgram.EventSink{
		{Platform: "matrix", ID: "mx"},
		{Platform: fmgram.PlatformTelegram, ID: "tg-a"},
		{Platform: fmgram.PlatformTelegram, ID: "tg-z"},
	}
	if diff := cmp.Diff(wantAll, all); diff != "" {
		t.Fatalf("sinks mismatch (-want +got):\n%s", diff)
	}

	telegramSinks, err := composite.ListSinksByPlatform(context.Background(), fmgram.PlatformTelegram)
	if err != nil {
		t.Fatalf("list sinks by platform failed: %v", err)
	}
	if diff := cmp.Diff(wantAll[1:], telegramSinks); diff != "" {
		t.Fatalf("telegram sinks mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := composite.ListSinks(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("list canceled error = %v, want %v", err, context.Canceled)
	}
}

func TestNewCompositeSinkDispatcherRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	_, err := NewCompositeSinkDispatcher([]Runtime{
		{Source: fmgram.EventSource{ID: "tg"}, SinkDispatcher: &stubSinkDispatcher{}},
		{Source: fmgram.EventSource{ID: "tg"}, SinkDispatcher: &stubSinkDispatcher{}},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate sink id tg") {
		t.Fatalf("error = %v, want duplicate sink id", err)
	}
}
