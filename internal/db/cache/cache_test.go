package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamwavecut/modbot/internal/db"
)

type countingBackend struct {
	db.Client
	users   map[int64]*db.UserState
	gets    int
	failing bool
}

func (b *countingBackend) GetUser(_ context.Context, userID int64) (*db.UserState, error) {
	b.gets++
	u, ok := b.users[userID]
	if !ok {
		return nil, nil
	}
	return u.Clone(), nil
}

func (b *countingBackend) UpsertUser(_ context.Context, user *db.UserState) error {
	if b.failing {
		return errors.New("disk full")
	}
	b.users[user.ID] = user.Clone()
	return nil
}

func TestCacheServesClonesAndAvoidsBackend(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{users: map[int64]*db.UserState{}}
	c := New(backend, 8, time.Hour)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.UpsertUser(ctx, db.NewUserState(1, 5, now)))

	first, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	first.Warnings = 10

	second, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Warnings, "cached entry must not see caller mutations")
	assert.Equal(t, 0, backend.gets)
}

func TestCacheDropsEntryWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{users: map[int64]*db.UserState{}}
	c := New(backend, 8, time.Hour)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.UpsertUser(ctx, db.NewUserState(1, 5, now)))

	backend.failing = true
	changed := db.NewUserState(1, 5, now)
	changed.Warnings = 3
	require.Error(t, c.UpsertUser(ctx, changed))
	assert.Equal(t, 0, c.Len())

	got, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Warnings)
	assert.Equal(t, 1, backend.gets)
}

func TestCacheMissForUnknownUser(t *testing.T) {
	c := New(&countingBackend{users: map[int64]*db.UserState{}}, 8, time.Hour)
	got, err := c.GetUser(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, c.Len())
}
