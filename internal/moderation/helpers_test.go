package moderation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errStoreDown = errors.New("store is down")

// memStore is an in-memory db.Client with switchable failures.
type memStore struct {
	mu         sync.Mutex
	users      map[int64]*db.UserState
	violations []*db.ViolationRecord
	appeals    map[int64]*db.Appeal
	nextAppeal int64

	failUpsert    bool
	failViolation bool
	upserts       int
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[int64]*db.UserState{},
		appeals: map[int64]*db.Appeal{},
	}
}

func (m *memStore) GetUser(_ context.Context, userID int64) (*db.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Clone(), nil
}

func (m *memStore) UpsertUser(_ context.Context, user *db.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return errStoreDown
	}
	m.upserts++
	m.users[user.ID] = user.Clone()
	return nil
}

func (m *memStore) ListUsers(context.Context) ([]*db.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*db.UserState, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListExpiredBans(_ context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, u := range m.users {
		if u.BanExpired(now) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (m *memStore) ListInactiveUsers(_ context.Context, before time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, u := range m.users {
		if u.LastMessageAt != nil && u.History.Len() > 0 && u.LastMessageAt.Before(before) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (m *memStore) AddViolation(_ context.Context, record *db.ViolationRecord) (*db.ViolationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failViolation {
		return nil, errStoreDown
	}
	record.ID = int64(len(m.violations) + 1)
	c := *record
	m.violations = append(m.violations, &c)
	return record, nil
}

func (m *memStore) ListViolations(_ context.Context, userID int64, limit int) ([]*db.ViolationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.ViolationRecord
	for i := len(m.violations) - 1; i >= 0 && len(out) < limit; i-- {
		if m.violations[i].UserID == userID {
			c := *m.violations[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) CountStats(_ context.Context, since time.Time) (*db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &db.Stats{TrustLevels: map[db.TrustLevel]int{}}
	for _, u := range m.users {
		stats.TotalUsers++
		if u.IsBanned {
			stats.BannedUsers++
		}
		stats.TrustLevels[u.TrustLevel]++
	}
	for _, v := range m.violations {
		stats.TotalViolations++
		if !v.CreatedAt.Before(since) {
			stats.RecentViolations++
		}
	}
	return stats, nil
}

func (m *memStore) CreateAppeal(_ context.Context, appeal *db.Appeal) (*db.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appeals {
		if a.UserID == appeal.UserID && a.Status == db.AppealPending {
			return nil, db.ErrPendingAppealExists
		}
	}
	m.nextAppeal++
	appeal.ID = m.nextAppeal
	appeal.Status = db.AppealPending
	appeal.UpdatedAt = appeal.CreatedAt
	c := *appeal
	m.appeals[c.ID] = &c
	return appeal, nil
}

func (m *memStore) GetAppeal(_ context.Context, id int64) (*db.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appeals[id]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (m *memStore) GetPendingAppeal(_ context.Context, userID int64) (*db.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appeals {
		if a.UserID == userID && a.Status == db.AppealPending {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) ResolveAppeal(_ context.Context, id int64, status db.AppealStatus, adminID int64, response string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appeals[id]
	if !ok || a.Status != db.AppealPending {
		return false, nil
	}
	a.Status = status
	a.AdminID = &adminID
	a.Response = &response
	a.UpdatedAt = at
	return true, nil
}

func (m *memStore) ListPendingAppeals(_ context.Context, limit int) ([]*db.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Appeal
	for _, a := range m.appeals {
		if a.Status == db.AppealPending {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) user(id int64) *db.UserState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Clone()
}

func (m *memStore) put(user *db.UserState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user.Clone()
}

type recordingMirror struct {
	mu      sync.Mutex
	set     map[int64]*time.Time
	cleared []int64
	err     error
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{set: map[int64]*time.Time{}}
}

func (r *recordingMirror) SetBan(_ context.Context, userID int64, until *time.Time, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[userID] = until
	return r.err
}

func (r *recordingMirror) ClearBan(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, userID)
	r.cleared = append(r.cleared, userID)
	return r.err
}
