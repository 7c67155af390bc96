package moderation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInactivityPeriod = 24 * time.Hour
	defaultCleanupInterval  = time.Hour
	statsWindow             = 24 * time.Hour
	maintenanceConcurrency  = 8
)

type MaintenanceConfig struct {
	HistoryCapacity  int
	InactivityPeriod time.Duration
	CleanupInterval  time.Duration
	Trust            TrustConfig
}

// Maintenance runs the periodic inactivity sweep and the administrative
// bulk jobs. The sweep only forgets message history: counters, trust and
// ban state are kept.
type Maintenance struct {
	store interface {
		db.UserStore
		db.ViolationStore
	}
	states stateStore
	locks  *UserLocks
	clock  Clock
	trust  *TrustEvaluator
	cfg    MaintenanceConfig
	logger *log.Entry

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewMaintenance(store interface {
	db.UserStore
	db.ViolationStore
}, locks *UserLocks, clock Clock, cfg MaintenanceConfig) *Maintenance {
	if cfg.InactivityPeriod <= 0 {
		cfg.InactivityPeriod = defaultInactivityPeriod
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = db.DefaultHistoryCapacity
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Maintenance{
		store:  store,
		states: stateStore{store: store, capacity: cfg.HistoryCapacity},
		locks:  locks,
		clock:  clock,
		trust:  NewTrustEvaluator(cfg.Trust),
		cfg:    cfg,
		logger: log.WithField("object", "Maintenance"),
	}
}

func (m *Maintenance) Start(ctx context.Context) error {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()
	if m.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel

	m.workersWg.Add(1)
	go func() {
		defer m.workersWg.Done()
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := m.SweepInactive(runCtx); err != nil && !errorsIsCanceled(err) {
					m.logger.WithError(err).Error("failed to sweep inactive users")
				}
			}
		}
	}()

	m.started = true
	return nil
}

func (m *Maintenance) Stop(ctx context.Context) error {
	m.runMutex.Lock()
	if !m.started {
		m.runMutex.Unlock()
		return nil
	}
	m.started = false
	cancel := m.runCancel
	m.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// SweepInactive clears the history of users silent for longer than the
// inactivity period and drops them from the cache tier.
func (m *Maintenance) SweepInactive(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.cfg.InactivityPeriod)
	ids, err := m.store.ListInactiveUsers(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Persistence("list inactive users", err)
	}

	var swept atomic.Int64
	err = m.forEach(ctx, ids, func(ctx context.Context, user *db.UserState) (bool, error) {
		if user.LastMessageAt == nil || !user.LastMessageAt.Before(cutoff) || user.History.Len() == 0 {
			return false, nil
		}
		user.History.Reset()
		swept.Add(1)
		return true, nil
	})
	for _, id := range ids {
		m.states.evict(id)
	}

	if n := swept.Load(); n > 0 {
		m.logger.WithField("count", n).Info("inactive users swept")
	}
	return int(swept.Load()), err
}

// RecalculateTrust recomputes the level of every unpinned user and returns
// how many changed.
func (m *Maintenance) RecalculateTrust(ctx context.Context) (int, error) {
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return 0, apperrors.Persistence("list users", err)
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	now := m.clock.Now()
	var changed atomic.Int64
	err = m.forEach(ctx, ids, func(_ context.Context, user *db.UserState) (bool, error) {
		if !m.trust.Refresh(user, now) {
			return false, nil
		}
		changed.Add(1)
		return true, nil
	})
	return int(changed.Load()), err
}

func (m *Maintenance) Stats(ctx context.Context) (*db.Stats, error) {
	stats, err := m.store.CountStats(ctx, m.clock.Now().Add(-statsWindow))
	if err != nil {
		return nil, apperrors.Persistence("count stats", err)
	}
	return stats, nil
}

// forEach loads every user under its lock and saves it when fn reports a
// change.
func (m *Maintenance) forEach(ctx context.Context, ids []int64, fn func(context.Context, *db.UserState) (bool, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maintenanceConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			unlock := m.locks.Lock(id)
			defer unlock()

			user, err := m.states.load(gctx, id)
			if err != nil || user == nil {
				return err
			}
			changed, err := fn(gctx, user)
			if err != nil || !changed {
				return err
			}
			if err := m.states.save(gctx, user, m.clock.Now()); err != nil {
				return fmt.Errorf("user %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
