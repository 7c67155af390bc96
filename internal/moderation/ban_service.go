package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	"github.com/iamwavecut/modbot/internal/observability"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval = 5 * time.Minute
	sweepConcurrency     = 8
)

// BanMirror receives a copy of every ban state change. It is optional and
// never authoritative.
type BanMirror interface {
	SetBan(ctx context.Context, userID int64, until *time.Time, now time.Time) error
	ClearBan(ctx context.Context, userID int64) error
}

type BanServiceConfig struct {
	SweepInterval time.Duration
}

// BanService owns ban state. Bans are lifted lazily on lookup and by a
// background sweeper, both idempotent.
type BanService struct {
	states stateStore
	lister interface {
		ListExpiredBans(ctx context.Context, now time.Time) ([]int64, error)
	}
	locks  *UserLocks
	clock  Clock
	mirror BanMirror
	cfg    BanServiceConfig
	logger *log.Entry

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewBanService(store db.UserStore, capacity int, locks *UserLocks, clock Clock, mirror BanMirror, cfg BanServiceConfig) *BanService {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &BanService{
		states: stateStore{store: store, capacity: capacity},
		lister: store,
		locks:  locks,
		clock:  clock,
		mirror: mirror,
		cfg:    cfg,
		logger: log.WithField("object", "BanService"),
	}
}

func (s *BanService) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepExpired(runCtx); err != nil && !errorsIsCanceled(err) {
					s.logger.WithError(err).Error("failed to sweep expired bans")
				}
			}
		}
	}()

	s.started = true
	s.logger.WithField("interval", s.cfg.SweepInterval.String()).Debug("ban sweeper started")
	return nil
}

func (s *BanService) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ban bans a known or unknown user. A nil duration bans permanently.
func (s *BanService) Ban(ctx context.Context, userID int64, duration *time.Duration, reason string) (*db.UserState, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now()
	user, err := s.states.loadOrCreate(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	applyBan(user, duration, now)
	if err := s.states.save(ctx, user, now); err != nil {
		return nil, err
	}
	s.mirrorState(ctx, user, now)

	s.logger.WithFields(log.Fields{
		"user_id":   userID,
		"ban_until": user.BanUntil,
		"reason":    reason,
	}).Info("user banned")
	return user, nil
}

// Unban is idempotent for known users and fails with ErrUnknownUser
// otherwise.
func (s *BanService) Unban(ctx context.Context, userID int64) error {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.unbanLocked(ctx, userID)
}

func (s *BanService) unbanLocked(ctx context.Context, userID int64) error {
	now := s.clock.Now()
	user, err := s.states.load(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrUnknownUser
	}
	if !user.IsBanned {
		return nil
	}
	applyUnban(user)
	if err := s.states.save(ctx, user, now); err != nil {
		return err
	}
	s.mirrorState(ctx, user, now)
	s.logger.WithField("user_id", userID).Info("user unbanned")
	return nil
}

// IsBanned reports the ban state, lifting an expired ban on the way.
func (s *BanService) IsBanned(ctx context.Context, userID int64) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now()
	user, err := s.states.load(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	expired, err := s.expireLocked(ctx, user, now)
	if err != nil {
		return false, err
	}
	return user.IsBanned && !expired, nil
}

// SweepExpired lifts every ban whose deadline has passed and returns how
// many were lifted.
func (s *BanService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.lister.ListExpiredBans(ctx, s.clock.Now())
	if err != nil {
		return 0, apperrors.Persistence("list expired bans", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		lifted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := s.expireOne(gctx, id)
			if err != nil {
				return fmt.Errorf("expire ban of %d: %w", id, err)
			}
			if ok {
				mu.Lock()
				lifted++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()

	observability.RecordBansSwept(lifted)
	if lifted > 0 {
		s.logger.WithField("count", lifted).Info("expired bans lifted")
	}
	return lifted, err
}

func (s *BanService) expireOne(ctx context.Context, userID int64) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.states.load(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	return s.expireLocked(ctx, user, s.clock.Now())
}

// expireLocked persists the unban when user's timed ban has run out.
func (s *BanService) expireLocked(ctx context.Context, user *db.UserState, now time.Time) (bool, error) {
	if !user.BanExpired(now) {
		return false, nil
	}
	applyUnban(user)
	if err := s.states.save(ctx, user, now); err != nil {
		return false, err
	}
	s.mirrorState(ctx, user, now)
	s.logger.WithField("user_id", user.ID).Debug("ban expired")
	return true, nil
}

func (s *BanService) mirrorState(ctx context.Context, user *db.UserState, now time.Time) {
	if s.mirror == nil {
		return
	}
	var err error
	if user.IsBanned {
		err = s.mirror.SetBan(ctx, user.ID, user.BanUntil, now)
	} else {
		err = s.mirror.ClearBan(ctx, user.ID)
	}
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to mirror ban state")
	}
}

func applyBan(user *db.UserState, duration *time.Duration, now time.Time) {
	user.IsBanned = true
	user.BanUntil = nil
	if duration != nil {
		until := now.Add(*duration)
		user.BanUntil = &until
	}
}

func applyUnban(user *db.UserState) {
	user.IsBanned = false
	user.BanUntil = nil
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
