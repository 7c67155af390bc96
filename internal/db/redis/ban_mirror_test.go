package redis

import (
	"testing"
	"time"
)

func TestBanEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(90 * time.Minute)
	past := now.Add(-time.Second)

	tests := []struct {
		name      string
		until     *time.Time
		wantValue string
		wantTTL   time.Duration
		wantOK    bool
	}{
		{name: "permanent", until: nil, wantValue: "permanent", wantTTL: 0, wantOK: true},
		{name: "timed", until: &future, wantValue: "2024-01-01T13:30:00Z", wantTTL: 90 * time.Minute, wantOK: true},
		{name: "expired", until: &past, wantOK: false},
		{name: "expires now", until: &now, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ttl, ok := banEntry(tt.until, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if value != tt.wantValue || ttl != tt.wantTTL {
				t.Fatalf("got (%q, %s), want (%q, %s)", value, ttl, tt.wantValue, tt.wantTTL)
			}
		})
	}
}
