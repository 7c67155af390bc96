// Package redis mirrors ban state into Redis so that services without access
// to the moderation database can reject banned users cheaply. The mirror is
// write-only here; readers live outside this process.
//
//	Key:   <prefix><user id>
//	Value: RFC3339 expiry, or "permanent"
//	TTL:   remaining ban duration, none for permanent bans
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const permanentValue = "permanent"

type BanMirror struct {
	client *goredis.Client
	prefix string
}

func NewBanMirror(ctx context.Context, url, prefix string) (*BanMirror, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &BanMirror{client: client, prefix: prefix}, nil
}

func (m *BanMirror) key(userID int64) string {
	return m.prefix + strconv.FormatInt(userID, 10)
}

func (m *BanMirror) SetBan(ctx context.Context, userID int64, until *time.Time, now time.Time) error {
	value, ttl, ok := banEntry(until, now)
	if !ok {
		return m.ClearBan(ctx, userID)
	}
	if err := m.client.Set(ctx, m.key(userID), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set ban: %w", err)
	}
	return nil
}

func (m *BanMirror) ClearBan(ctx context.Context, userID int64) error {
	if err := m.client.Del(ctx, m.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear ban: %w", err)
	}
	return nil
}

func (m *BanMirror) Close() error {
	return m.client.Close()
}

// banEntry computes the stored value and TTL. ok is false when the ban is
// already over and the key should be removed instead.
func banEntry(until *time.Time, now time.Time) (value string, ttl time.Duration, ok bool) {
	if until == nil {
		return permanentValue, 0, true
	}
	ttl = until.Sub(now)
	if ttl <= 0 {
		return "", 0, false
	}
	return until.UTC().Format(time.RFC3339), ttl, true
}
