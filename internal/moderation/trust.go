package moderation

import (
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

type TrustConfig struct {
	DaysThreshold     int
	MessagesThreshold int
}

func DefaultTrustConfig() TrustConfig {
	return TrustConfig{DaysThreshold: 3, MessagesThreshold: 10}
}

type TrustEvaluator struct {
	cfg TrustConfig
}

func NewTrustEvaluator(cfg TrustConfig) *TrustEvaluator {
	return &TrustEvaluator{cfg: cfg}
}

// Evaluate computes the trust level from tenure, volume and link history.
// A single link violation keeps the user Suspicious no matter how long they
// have been around.
func (e *TrustEvaluator) Evaluate(user *db.UserState, now time.Time) db.TrustLevel {
	if user.JoinedAt == nil {
		return db.TrustNew
	}
	if user.LinkViolations > 0 {
		return db.TrustSuspicious
	}
	daysInChat := int(now.Sub(*user.JoinedAt) / (24 * time.Hour))
	if daysInChat >= e.cfg.DaysThreshold && user.MessageCount >= e.cfg.MessagesThreshold {
		return db.TrustTrusted
	}
	return db.TrustNew
}

// Refresh stores the evaluated level unless an administrator pinned one.
func (e *TrustEvaluator) Refresh(user *db.UserState, now time.Time) bool {
	if user.TrustPinned {
		return false
	}
	level := e.Evaluate(user, now)
	if level == user.TrustLevel {
		return false
	}
	user.TrustLevel = level
	return true
}
