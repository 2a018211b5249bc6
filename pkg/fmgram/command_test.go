package fmgram

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommandCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		text          string
		wantMatched   bool
		wantErrSubstr string
		wantPrefix    CommandPrefix
		wantName      string
		wantMention   string
		wantTokens    []string
	}{
		{
			name:        "ordinary command with mention and tokens",
			text:        " /TopArtists@fmgram_bot 7d ",
			wantMatched: true,
			wantPrefix:  CommandPrefixOrdinary,
			wantName:    "topartists",
			wantMention: "fmgram_bot",
			wantTokens:  []string{"7d"},
		},
		{
			name:        "system command",
			text:        "~sweep --dry",
			wantMatched: true,
			wantPrefix:  CommandPrefixSystem,
			wantName:    "sweep",
			wantTokens:  []string{"--dry"},
		},
		{
			name:        "plain text",
			text:        "hello",
			wantMatched: false,
		},
		{
			name:          "missing command name",
			text:          "/",
			wantMatched:   true,
			wantErrSubstr: "missing command name",
		},
		{
			name:          "equals option format rejected",
			text:          "/lb --type=trackcount",
			wantMatched:   true,
			wantErrSubstr: "unsupported option format",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			candidate, matched, err := ParseCommandCandidate(testCase.text)
			if matched != testCase.wantMatched {
				t.Fatalf("matched = %v, want %v", matched, testCase.wantMatched)
			}
			if testCase.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !matched {
				return
			}
			if candidate.Prefix != testCase.wantPrefix {
				t.Fatalf("prefix = %q, want %q", candidate.Prefix, testCase.wantPrefix)
			}
			if candidate.Name != testCase.wantName {
				t.Fatalf("name = %q, want %q", candidate.Name, testCase.wantName)
			}
			if candidate.Mention != testCase.wantMention {
				t.Fatalf("mention = %q, want %q", candidate.Mention, testCase.wantMention)
			}
			if diff := cmp.Diff(testCase.wantTokens, candidate.Tokens); diff != "" {
				t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBindCommand(t *testing.T) {
	t.Parallel()

	spec := CommandSpec{
		Prefix:  CommandPrefixOrdinary,
		Name:    "topalbums",
		Aliases: []string{"ta", "tb"},
		Options: []CommandOptionSpec{
			{Name: "page", Alias: "p", HasValue: true},
			{Name: "compact", Alias: "c"},
		},
	}
	source := &Event{ID: "evt-1", Kind: EventKindMessageCreated, OccurredAt: time.Unix(1, 0)}

	tests := []struct {
		name          string
		text          string
		wantErrSubstr string
		want          CommandInvocation
	}{
		{
			name: "canonical name with value",
			text: "/topalbums 1m",
			want: CommandInvocation{
				Name:            "topalbums",
				Value:           "1m",
				Options:         []CommandOption{},
				SourceEventID:   "evt-1",
				SourceEventKind: EventKindMessageCreated,
				RawInput:        "/topalbums 1m",
			},
		},
		{
			name: "alias resolves to canonical name",
			text: "/TB -p 2 -c overall",
			want: CommandInvocation{
				Name:  "topalbums",
				Alias: "tb",
				Value: "overall",
				Options: []CommandOption{
					{Name: "page", Alias: "p", Value: "2", HasValue: true},
					{Name: "compact", Alias: "c"},
				},
				SourceEventID:   "evt-1",
				SourceEventKind: EventKindMessageCreated,
				RawInput:        "/TB -p 2 -c overall",
			},
		},
		{
			name: "negative number stays positional",
			text: "/ta -1",
			want: CommandInvocation{
				Name:            "topalbums",
				Alias:           "ta",
				Value:           "-1",
				Options:         []CommandOption{},
				SourceEventID:   "evt-1",
				SourceEventKind: EventKindMessageCreated,
				RawInput:        "/ta -1",
			},
		},
		{
			name:          "unknown option",
			text:          "/ta --limit 3",
			wantErrSubstr: "unknown option --limit",
		},
		{
			name:          "option missing value",
			text:          "/ta --page",
			wantErrSubstr: "requires a value",
		},
		{
			name:          "unrelated name",
			text:          "/toptracks",
			wantErrSubstr: "name mismatch",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			candidate, matched, err := ParseCommandCandidate(testCase.text)
			if !matched || err != nil {
				t.Fatalf("ParseCommandCandidate(%q) = matched %v err %v", testCase.text, matched, err)
			}
			got, err := BindCommand(candidate, spec, source)
			if testCase.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BindCommand failed: %v", err)
			}
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("invocation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandSpecValidateRejectsAliasCollision(t *testing.T) {
	t.Parallel()

	spec := CommandSpec{
		Prefix:  CommandPrefixOrdinary,
		Name:    "whoknows",
		Aliases: []string{"wk", "WhoKnows"},
	}
	if err := spec.Validate(); err == nil {
		t.Fatal("Validate = nil, want duplicate name error")
	}
}
