package db

import (
	"time"
)

type (
	TrustLevel     string
	Action         string
	ViolationClass string
	AppealStatus   string
)

const (
	TrustNew        TrustLevel = "new"
	TrustTrusted    TrustLevel = "trusted"
	TrustSuspicious TrustLevel = "suspicious"
)

const (
	ActionNone Action = "none"
	ActionWarn Action = "warn"
	ActionMute Action = "mute"
	ActionBan  Action = "ban"
)

const (
	ViolationSpam       ViolationClass = "spam"
	ViolationBannedWord ViolationClass = "banned_word"
	ViolationAI         ViolationClass = "ai"
	ViolationLink       ViolationClass = "link"
)

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

const ViolationExcerptLimit = 500

type (
	UserState struct {
		ID             int64      `db:"id"`
		Username       string     `db:"username"`
		FirstName      string     `db:"first_name"`
		History        History    `db:"history"`
		SpamViolations int        `db:"spam_violations"`
		Warnings       int        `db:"warnings"`
		LinkViolations int        `db:"link_violations"`
		TrustLevel     TrustLevel `db:"trust_level"`
		TrustPinned    bool       `db:"trust_pinned"`
		IsBanned       bool       `db:"is_banned"`
		BanUntil       *time.Time `db:"ban_until"`
		JoinedAt       *time.Time `db:"joined_at"`
		MessageCount   int        `db:"message_count"`
		LastMessageAt  *time.Time `db:"last_message_at"`
		CreatedAt      time.Time  `db:"created_at"`
		UpdatedAt      time.Time  `db:"updated_at"`
	}

	ViolationRecord struct {
		ID         int64          `db:"id"`
		UserID     int64          `db:"user_id"`
		MessageID  int64          `db:"message_id"`
		Class      ViolationClass `db:"class"`
		Subtype    string         `db:"subtype"`
		Excerpt    string         `db:"excerpt"`
		Action     Action         `db:"action"`
		Confidence *float64       `db:"confidence"`
		CreatedAt  time.Time      `db:"created_at"`
	}

	Appeal struct {
		ID        int64        `db:"id"`
		UserID    int64        `db:"user_id"`
		Text      string       `db:"text"`
		Status    AppealStatus `db:"status"`
		AdminID   *int64       `db:"admin_id"`
		Response  *string      `db:"response"`
		CreatedAt time.Time    `db:"created_at"`
		UpdatedAt time.Time    `db:"updated_at"`
	}

	ViolationTypeCount struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}

	Stats struct {
		TotalUsers        int
		BannedUsers       int
		TotalViolations   int
		RecentViolations  int
		TopViolationTypes []ViolationTypeCount
		TrustLevels       map[TrustLevel]int
	}
)

func NewUserState(userID int64, capacity int, now time.Time) *UserState {
	return &UserState{
		ID:         userID,
		History:    NewHistory(capacity),
		TrustLevel: TrustNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy: the history buffer and every optional timestamp
// are detached from the receiver.
func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	c := *u
	c.History = u.History.Clone()
	c.BanUntil = cloneTime(u.BanUntil)
	c.JoinedAt = cloneTime(u.JoinedAt)
	c.LastMessageAt = cloneTime(u.LastMessageAt)
	return &c
}

// BanExpired reports whether a timed ban has run out at now.
func (u *UserState) BanExpired(now time.Time) bool {
	return u.IsBanned && u.BanUntil != nil && !u.BanUntil.After(now)
}

func (u *UserState) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

func (l TrustLevel) Valid() bool {
	switch l {
	case TrustNew, TrustTrusted, TrustSuspicious:
		return true
	default:
		return false
	}
}

func (a Action) Severity() int {
	switch a {
	case ActionWarn:
		return 1
	case ActionMute:
		return 2
	case ActionBan:
		return 3
	default:
		return 0
	}
}

func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= ViolationExcerptLimit {
		return text
	}
	return string(runes[:ViolationExcerptLimit])
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
