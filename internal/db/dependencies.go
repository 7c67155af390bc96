package db

import (
	"context"
	"time"
)

type (
	// UserStore is the slice of the storage contract that owns UserState.
	// GetUser returns (nil, nil) when the user has never been seen.
	UserStore interface {
		GetUser(ctx context.Context, userID int64) (*UserState, error)
		UpsertUser(ctx context.Context, user *UserState) error
		ListUsers(ctx context.Context) ([]*UserState, error)
		ListExpiredBans(ctx context.Context, now time.Time) ([]int64, error)
		ListInactiveUsers(ctx context.Context, before time.Time) ([]int64, error)
	}

	ViolationStore interface {
		AddViolation(ctx context.Context, record *ViolationRecord) (*ViolationRecord, error)
		ListViolations(ctx context.Context, userID int64, limit int) ([]*ViolationRecord, error)
		CountStats(ctx context.Context, since time.Time) (*Stats, error)
	}

	// AppealStore enforces at most one pending appeal per user: CreateAppeal
	// fails with ErrPendingAppealExists when one is already open.
	AppealStore interface {
		CreateAppeal(ctx context.Context, appeal *Appeal) (*Appeal, error)
		GetAppeal(ctx context.Context, id int64) (*Appeal, error)
		GetPendingAppeal(ctx context.Context, userID int64) (*Appeal, error)
		// ResolveAppeal moves a pending appeal to status. It returns false when
		// the appeal is missing or no longer pending.
		ResolveAppeal(ctx context.Context, id int64, status AppealStatus, adminID int64, response string, at time.Time) (bool, error)
		ListPendingAppeals(ctx context.Context, limit int) ([]*Appeal, error)
	}

	Client interface {
		UserStore
		ViolationStore
		AppealStore
		Close() error
	}
)
