package moderation

import (
	"context"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
)

// stateStore wraps the UserStore with the capacity normalization and error
// classification every service needs. Callers must hold the user lock.
type stateStore struct {
	store    db.UserStore
	capacity int
}

func (s stateStore) load(ctx context.Context, userID int64) (*db.UserState, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Persistence("load user", err)
	}
	if user != nil {
		user.History.SetCapacity(s.capacity)
		if user.TrustLevel == "" {
			user.TrustLevel = db.TrustNew
		}
	}
	return user, nil
}

func (s stateStore) loadOrCreate(ctx context.Context, userID int64, now time.Time) (*db.UserState, error) {
	user, err := s.load(ctx, userID)
	if err != nil || user != nil {
		return user, err
	}
	return db.NewUserState(userID, s.capacity, now), nil
}

func (s stateStore) save(ctx context.Context, user *db.UserState, now time.Time) error {
	user.UpdatedAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	return apperrors.Persistence("save user", s.store.UpsertUser(ctx, user))
}

// evict drops a cached copy when the store has a cache tier in front.
func (s stateStore) evict(userID int64) {
	if e, ok := s.store.(interface{ Evict(int64) }); ok {
		e.Evict(userID)
	}
}
