package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	"github.com/stretchr/testify/require"
)

const appealText = "please unban me, it was a mistake"

func newAppealFixture(t *testing.T) (*AppealService, *memStore) {
	t.Helper()
	store := newMemStore()
	clock := newFakeClock(t0)
	locks := NewUserLocks()
	bans := NewBanService(store, 5, locks, clock, nil, BanServiceConfig{})
	_, err := bans.Ban(context.Background(), 10, nil, "test")
	require.NoError(t, err)
	return NewAppealService(store, store, 5, bans, locks, clock), store
}

func TestAppealFileValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store := newAppealFixture(t)

	_, err := svc.File(ctx, 11, appealText)
	require.ErrorIs(t, err, apperrors.ErrNotBanned)

	free := db.NewUserState(12, 5, t0)
	store.put(free)
	_, err = svc.File(ctx, 12, appealText)
	require.ErrorIs(t, err, apperrors.ErrNotBanned)

	_, err = svc.File(ctx, 10, "  short   ")
	require.ErrorIs(t, err, apperrors.ErrInvalidLength)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.File(ctx, 10, strings.Repeat("я", AppealMaxLength+1))
	require.ErrorIs(t, err, apperrors.ErrInvalidLength)

	id, err := svc.File(ctx, 10, strings.Repeat("я", AppealMaxLength))
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestAppealUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newAppealFixture(t)

	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)

	_, err = svc.File(ctx, 10, appealText)
	require.ErrorIs(t, err, apperrors.ErrAlreadyPending)

	// pending is checked before length
	_, err = svc.File(ctx, 10, "x")
	require.ErrorIs(t, err, apperrors.ErrAlreadyPending)

	_, err = svc.Reject(ctx, id, 1, "")
	require.NoError(t, err)
	_, err = svc.File(ctx, 10, appealText)
	require.NoError(t, err)
}

func TestAppealTwoStepAccept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store := newAppealFixture(t)

	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)

	prompt, err := svc.RequestAccept(ctx, id, 1)
	require.NoError(t, err)
	require.Contains(t, prompt.Prompt, "/confirm_accept")
	require.True(t, store.user(10).IsBanned)
	a, err := store.GetAppeal(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.AppealPending, a.Status)

	accepted, err := svc.ConfirmAccept(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, db.AppealApproved, accepted.Status)
	require.Equal(t, "appeal accepted", *accepted.Response)
	require.False(t, store.user(10).IsBanned)

	_, err = svc.ConfirmAccept(ctx, id, 1)
	require.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	_, err = svc.RequestAccept(ctx, id, 1)
	require.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	_, err = svc.Reject(ctx, id, 1, "late")
	require.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
}

func TestAppealConcurrentConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newAppealFixture(t)

	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)

	const admins = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func(admin int64) {
			defer wg.Done()
			if _, err := svc.ConfirmAccept(ctx, id, admin); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestAppealReject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store := newAppealFixture(t)

	_, err := svc.Reject(ctx, 404, 1, "")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, id, 1, "   ")
	require.NoError(t, err)
	require.Equal(t, db.AppealRejected, rejected.Status)
	require.Equal(t, "not specified", *rejected.Response)
	require.True(t, store.user(10).IsBanned)
}

func TestAppealListPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	clock := newFakeClock(t0)
	locks := NewUserLocks()
	bans := NewBanService(store, 5, locks, clock, nil, BanServiceConfig{})
	svc := NewAppealService(store, store, 5, bans, locks, clock)

	for id := int64(1); id <= 12; id++ {
		_, err := bans.Ban(ctx, id, nil, "test")
		require.NoError(t, err)
		_, err = svc.File(ctx, id, appealText)
		require.NoError(t, err)
	}

	list, err := svc.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, MaxListedAppeals)
	require.Equal(t, int64(1), list[0].UserID)
}

func TestAppealAfterTimedBanExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	clock := newFakeClock(t0)
	locks := NewUserLocks()
	bans := NewBanService(store, 5, locks, clock, nil, BanServiceConfig{})
	svc := NewAppealService(store, store, 5, bans, locks, clock)

	minute := time.Minute
	_, err := bans.Ban(ctx, 10, &minute, "flood")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.File(ctx, 10, appealText)
	require.ErrorIs(t, err, apperrors.ErrNotBanned)

	stored := store.user(10)
	require.False(t, stored.IsBanned)
	require.Nil(t, stored.BanUntil)

	pending, err := svc.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAppealWithinTimedBan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	clock := newFakeClock(t0)
	locks := NewUserLocks()
	bans := NewBanService(store, 5, locks, clock, nil, BanServiceConfig{})
	svc := NewAppealService(store, store, 5, bans, locks, clock)

	hour := time.Hour
	_, err := bans.Ban(ctx, 10, &hour, "flood")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.True(t, store.user(10).IsBanned)
}

func TestAppealClosedAfterManualUnban(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newAppealFixture(t)

	closed, err := svc.CloseLifted(ctx, 10, 1)
	require.NoError(t, err)
	require.Nil(t, closed)

	id, err := svc.File(ctx, 10, appealText)
	require.NoError(t, err)

	require.NoError(t, svc.bans.Unban(ctx, 10))
	closed, err = svc.CloseLifted(ctx, 10, 1)
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.Equal(t, id, closed.ID)
	require.Equal(t, db.AppealRejected, closed.Status)
	require.Equal(t, "ban lifted manually", *closed.Response)

	pending, err := svc.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = svc.ConfirmAccept(ctx, id, 1)
	require.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
}
