package moderation

import (
	"testing"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

func TestTrustEvaluator(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	joined := func(days int) *time.Time {
		v := now.Add(-time.Duration(days) * 24 * time.Hour)
		return &v
	}
	almostThree := now.Add(-(72*time.Hour - time.Minute))

	tests := []struct {
		name     string
		joinedAt *time.Time
		messages int
		links    int
		want     db.TrustLevel
	}{
		{name: "no join date", joinedAt: nil, messages: 100, want: db.TrustNew},
		{name: "tenure and volume", joinedAt: joined(3), messages: 10, want: db.TrustTrusted},
		{name: "not enough messages", joinedAt: joined(10), messages: 9, want: db.TrustNew},
		{name: "partial day does not count", joinedAt: &almostThree, messages: 50, want: db.TrustNew},
		{name: "link violation overrides trusted", joinedAt: joined(30), messages: 500, links: 1, want: db.TrustSuspicious},
		{name: "link violation on newcomer", joinedAt: joined(0), messages: 1, links: 2, want: db.TrustSuspicious},
	}

	e := NewTrustEvaluator(DefaultTrustConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := db.NewUserState(1, 5, now)
			u.JoinedAt = tt.joinedAt
			u.MessageCount = tt.messages
			u.LinkViolations = tt.links
			if got := e.Evaluate(u, now); got != tt.want {
				t.Fatalf("Evaluate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTrustRefreshHonorsPin(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	u := db.NewUserState(1, 5, now)
	u.TrustLevel = db.TrustTrusted
	u.TrustPinned = true

	e := NewTrustEvaluator(DefaultTrustConfig())
	if e.Refresh(u, now) || u.TrustLevel != db.TrustTrusted {
		t.Fatalf("pinned level changed to %s", u.TrustLevel)
	}

	u.TrustPinned = false
	if !e.Refresh(u, now) || u.TrustLevel != db.TrustNew {
		t.Fatalf("unpinned level = %s, want new", u.TrustLevel)
	}
}
