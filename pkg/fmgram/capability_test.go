package fmgram

import (
	"testing"
	"time"
)

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	reaction := &Event{
		ID:           "evt-1",
		Kind:         EventKindReactionAdded,
		OccurredAt:   time.Unix(1, 0),
		Source:       EventSource{Platform: PlatformTelegram, ID: "tg-main"},
		Conversation: Conversation{ID: "100", Type: ConversationTypeGroup},
		Reaction:     &Reaction{MessageID: "7", Emoji: "▶️", Action: ReactionActionAdd},
	}
	command := &Event{
		ID:           "evt-2#command",
		Kind:         EventKindCommandReceived,
		OccurredAt:   time.Unix(1, 0),
		Conversation: Conversation{ID: "100", Type: ConversationTypeGroup},
		Command:      &CommandInvocation{Name: "recent"},
	}

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "kind match",
			interest: InterestSet{Kinds: []EventKind{EventKindReactionAdded}, RequireReaction: true},
			event:    reaction,
			want:     true,
		},
		{
			name:     "kind mismatch",
			interest: InterestSet{Kinds: []EventKind{EventKindReactionRemoved}},
			event:    reaction,
			want:     false,
		},
		{
			name:     "source filter match",
			interest: InterestSet{Sources: []EventSource{{ID: "tg-main"}}},
			event:    reaction,
			want:     true,
		},
		{
			name:     "source filter mismatch",
			interest: InterestSet{Sources: []EventSource{{ID: "tg-alt"}}},
			event:    reaction,
			want:     false,
		},
		{
			name:     "command name match",
			interest: InterestSet{RequireCommand: true, CommandNames: []string{"recent", "stats"}},
			event:    command,
			want:     true,
		},
		{
			name:     "command name filter rejects non command",
			interest: InterestSet{CommandNames: []string{"recent"}},
			event:    reaction,
			want:     false,
		},
		{
			name:     "nil event",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	declared := InterestSet{
		Kinds:          []EventKind{EventKindCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"link", "unlink"},
	}

	if !declared.Allows(InterestSet{
		Kinds:          []EventKind{EventKindCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"link"},
	}) {
		t.Fatal("Allows narrower filter = false, want true")
	}
	if declared.Allows(InterestSet{
		Kinds:          []EventKind{EventKindCommandReceived},
		RequireCommand: true,
	}) {
		t.Fatal("Allows filter without command names = true, want false")
	}
	if declared.Allows(InterestSet{
		Kinds:          []EventKind{EventKindReactionAdded},
		RequireCommand: true,
		CommandNames:   []string{"link"},
	}) {
		t.Fatal("Allows foreign kind = true, want false")
	}
}
