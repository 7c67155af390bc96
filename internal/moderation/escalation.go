package moderation

import (
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

// Classifier recommendations at or above this confidence may escalate past
// a warning.
const aiEscalationConfidence = 0.9

type EscalationConfig struct {
	WarningThreshold      int
	BanDuration           time.Duration
	LinkEscalationEnabled bool
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		WarningThreshold:      3,
		BanDuration:           60 * time.Minute,
		LinkEscalationEnabled: true,
	}
}

// Sanction is a ladder outcome. Permanent only matters for ActionBan.
type Sanction struct {
	Action    db.Action
	Permanent bool
}

func sanction(action db.Action) Sanction {
	return Sanction{Action: action}
}

// EscalationPolicy owns the three violation ladders. Each method reads its
// own counter, advances it and returns the sanction; no ladder ever looks at
// another ladder's counter.
type EscalationPolicy struct {
	cfg EscalationConfig
}

func NewEscalationPolicy(cfg EscalationConfig) *EscalationPolicy {
	return &EscalationPolicy{cfg: cfg}
}

// Spam is keyed by the count before this violation. Its last step is the
// only ladder ban that never expires.
func (p *EscalationPolicy) Spam(user *db.UserState) Sanction {
	prior := user.SpamViolations
	user.SpamViolations++
	switch {
	case prior == 0:
		return sanction(db.ActionWarn)
	case prior == 1:
		return sanction(db.ActionMute)
	default:
		return Sanction{Action: db.ActionBan, Permanent: true}
	}
}

// Warning is shared by banned-word and classifier violations. suggestion is
// nil for banned words. Running out of warnings bans for BanDuration; a
// confident classifier ban is permanent.
func (p *EscalationPolicy) Warning(user *db.UserState, suggestion *Verdict) Sanction {
	user.Warnings++
	confident := suggestion != nil && suggestion.Confidence >= aiEscalationConfidence
	if confident && suggestion.Action == ClassifierBan {
		return Sanction{Action: db.ActionBan, Permanent: true}
	}
	if user.Warnings >= p.cfg.WarningThreshold {
		return sanction(db.ActionBan)
	}
	if confident && suggestion.Action == ClassifierMute {
		return sanction(db.ActionMute)
	}
	return sanction(db.ActionWarn)
}

// Link returns ok=false for trusted users, who are exempt from the ladder.
func (p *EscalationPolicy) Link(user *db.UserState) (s Sanction, ok bool) {
	if user.TrustLevel == db.TrustTrusted {
		return sanction(db.ActionNone), false
	}
	user.LinkViolations++
	if user.LinkViolations >= 2 && p.cfg.LinkEscalationEnabled {
		return sanction(db.ActionBan), true
	}
	return sanction(db.ActionWarn), true
}

// BanDuration maps a sanction to the ban primitive. Mutes and ladder bans
// last BanDuration, a nil duration bans permanently. ok is false for
// sanctions that do not ban.
func (p *EscalationPolicy) BanDuration(s Sanction) (duration *time.Duration, ok bool) {
	switch s.Action {
	case db.ActionBan:
		if s.Permanent {
			return nil, true
		}
		fallthrough
	case db.ActionMute:
		d := p.cfg.BanDuration
		return &d, true
	default:
		return nil, false
	}
}
