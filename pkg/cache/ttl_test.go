package cache

import (
	"testing"
	"time"
)

func TestDefaultTTLPolicy(t *testing.T) {
	t.Parallel()

	policy := DefaultTTLPolicy()
	tests := []struct {
		operation string
		want      time.Duration
	}{
		{operation: "user.getrecenttracks", want: 30 * time.Second},
		{operation: "user.gettopartists", want: 600 * time.Second},
		{operation: "User.GetInfo", want: 300 * time.Second},
		{operation: "artist.getinfo", want: time.Hour},
		{operation: "discogs.release", want: time.Hour},
		{operation: "library.getartists", want: DefaultFallbackTTL},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.operation, func(t *testing.T) {
			t.Parallel()

			if got := policy.TTL(testCase.operation); got != testCase.want {
				t.Fatalf("TTL(%s) = %s, want %s", testCase.operation, got, testCase.want)
			}
		})
	}
}

func TestNewTTLPolicyCopiesAndValidates(t *testing.T) {
	t.Parallel()

	table := map[string]time.Duration{"user.getinfo": time.Minute}
	policy, err := NewTTLPolicy(table, time.Second)
	if err != nil {
		t.Fatalf("NewTTLPolicy failed: %v", err)
	}
	table["user.getinfo"] = time.Hour
	if got := policy.TTL("user.getinfo"); got != time.Minute {
		t.Fatalf("TTL after caller mutation = %s, want 1m", got)
	}

	if _, err := NewTTLPolicy(map[string]time.Duration{"x": -time.Second}, time.Second); err == nil {
		t.Fatal("NewTTLPolicy(negative) error = nil, want error")
	}

	overridden, err := policy.WithOverrides(map[string]time.Duration{"user.getrecenttracks": 0})
	if err != nil {
		t.Fatalf("WithOverrides failed: %v", err)
	}
	if got := overridden.TTL("user.getrecenttracks"); got != 0 {
		t.Fatalf("overridden TTL = %s, want 0", got)
	}
	if got := overridden.TTL("user.getinfo"); got != time.Minute {
		t.Fatalf("inherited TTL = %s, want 1m", got)
	}
}

func TestTTLPolicyOverridesAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	// Map iteration order varies between constructions, so repeat enough
	// times for an order-dependent merge to show.
	for attempt := range 64 {
		policy, err := DefaultTTLPolicy().WithOverrides(map[string]time.Duration{
			"User.GetTopArtists": 0,
			"user.getInfo":       time.Minute,
		})
		if err != nil {
			t.Fatalf("attempt %d: WithOverrides failed: %v", attempt, err)
		}
		if got := policy.TTL("user.gettopartists"); got != 0 {
			t.Fatalf("attempt %d: TTL(user.gettopartists) = %s, want 0", attempt, got)
		}
		if got := policy.TTL("user.getinfo"); got != time.Minute {
			t.Fatalf("attempt %d: TTL(user.getinfo) = %s, want 1m", attempt, got)
		}
	}
}

func TestTTLPolicyRejectsConflictingOverrides(t *testing.T) {
	t.Parallel()

	_, err := DefaultTTLPolicy().WithOverrides(map[string]time.Duration{
		"user.getinfo": time.Minute,
		"USER.GETINFO": time.Hour,
	})
	if err == nil {
		t.Fatal("WithOverrides error = nil, want conflict")
	}
}
