package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	"github.com/iamwavecut/modbot/internal/i18n"
	"github.com/iamwavecut/modbot/internal/observability"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultClassifierTimeout   = 10 * time.Second
	defaultConfidenceThreshold = 0.7

	bannedUserReason = "user is banned"
	recentViolations = 5
)

type Stage string

const (
	StageInit       Stage = "init"
	StageBanCheck   Stage = "ban_check"
	StageActivity   Stage = "activity"
	StageLinks      Stage = "link_check"
	StageSpam       Stage = "spam_check"
	StageWords      Stage = "banned_words"
	StageClassifier Stage = "ai_classifier"
	StageDone       Stage = "done"
)

type InboundEvent struct {
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	Text        string    `json:"text"`
	MessageID   int64     `json:"message_id"`
	ArrivalTime time.Time `json:"arrival_time"`
}

type Decision struct {
	Action        db.Action         `json:"action"`
	DeleteMessage bool              `json:"delete_message"`
	UserReason    string            `json:"user_reason,omitempty"`
	AdminReason   string            `json:"admin_reason,omitempty"`
	Class         db.ViolationClass `json:"class,omitempty"`
	Subtype       string            `json:"subtype,omitempty"`
	Confidence    *float64          `json:"confidence,omitempty"`
	BanUntil      *time.Time        `json:"ban_until,omitempty"`
	Stage         Stage             `json:"stage"`
	TraceID       string            `json:"trace_id,omitempty"`
}

type ModeratorConfig struct {
	HistoryCapacity int
	Language        string

	AntispamEnabled bool
	Spam            SpamConfig

	TrustEnabled         bool
	LinkDetectionEnabled bool
	Trust                TrustConfig

	Escalation            EscalationConfig
	AutoDeleteBannedWords bool
	AutoBanOnBannedWords  bool

	ClassifierTimeout   time.Duration
	ConfidenceThreshold float64
}

type ModeratorDeps struct {
	Store interface {
		db.UserStore
		db.ViolationStore
	}
	Locks *UserLocks
	Clock Clock
	Bans  *BanService
	Links *LinkDetector
	Words WordMatcher
	// Classifier is optional.
	Classifier Classifier
}

// Moderator turns inbound messages into decisions. Every state change for
// a user happens under that user's lock and is persisted once per message.
type Moderator struct {
	cfg        ModeratorConfig
	states     stateStore
	violations db.ViolationStore
	locks      *UserLocks
	clock      Clock
	bans       *BanService
	spam       *SpamDetector
	trust      *TrustEvaluator
	policy     *EscalationPolicy
	links      *LinkDetector
	words      WordMatcher
	classifier Classifier
	logger     *log.Entry
}

func NewModerator(cfg ModeratorConfig, deps ModeratorDeps) *Moderator {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = db.DefaultHistoryCapacity
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = defaultClassifierTimeout
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Locks == nil {
		deps.Locks = NewUserLocks()
	}
	if deps.Links == nil {
		deps.Links = NewLinkDetector(nil)
	}
	if deps.Words == nil {
		deps.Words = NewWordFilter(nil)
	}
	if deps.Bans == nil {
		deps.Bans = NewBanService(deps.Store, cfg.HistoryCapacity, deps.Locks, deps.Clock, nil, BanServiceConfig{})
	}
	return &Moderator{
		cfg:        cfg,
		states:     stateStore{store: deps.Store, capacity: cfg.HistoryCapacity},
		violations: deps.Store,
		locks:      deps.Locks,
		clock:      deps.Clock,
		bans:       deps.Bans,
		spam:       NewSpamDetector(cfg.Spam),
		trust:      NewTrustEvaluator(cfg.Trust),
		policy:     NewEscalationPolicy(cfg.Escalation),
		links:      deps.Links,
		words:      deps.Words,
		classifier: deps.Classifier,
		logger:     log.WithField("object", "Moderator"),
	}
}

// Process runs one message through the pipeline. On error the decision is
// none and nothing was persisted; persistence errors are retryable.
func (m *Moderator) Process(ctx context.Context, ev InboundEvent) (Decision, error) {
	traceID := uuid.New()
	ctx, span := observability.Tracer().Start(ctx, "moderation.Process")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user_id", ev.UserID),
		attribute.Int64("message_id", ev.MessageID),
		attribute.String("trace_id", traceID),
	)
	done := observability.StartMessageProcessing()

	logger := m.logger.WithFields(log.Fields{
		"trace_id":   traceID,
		"user_id":    ev.UserID,
		"message_id": ev.MessageID,
	})

	decision, err := m.process(ctx, ev, logger)
	decision.TraceID = traceID
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		done("error")
		logger.WithError(err).WithField("stage", decision.Stage).Error("failed to process message")
		return decision, err
	}

	span.SetAttributes(
		attribute.String("action", string(decision.Action)),
		attribute.String("class", string(decision.Class)),
	)
	done("ok")
	observability.RecordDecision(string(decision.Action), string(decision.Class))
	if decision.Action != db.ActionNone {
		logger.WithFields(log.Fields{
			"action":  decision.Action,
			"class":   decision.Class,
			"subtype": decision.Subtype,
			"reason":  decision.AdminReason,
		}).Info("violation")
	}
	return decision, nil
}

func (m *Moderator) process(ctx context.Context, ev InboundEvent, logger *log.Entry) (Decision, error) {
	unlock := m.locks.Lock(ev.UserID)
	defer unlock()

	now := ev.ArrivalTime.UTC()
	if ev.ArrivalTime.IsZero() {
		now = m.clock.Now()
	}

	user, err := m.states.loadOrCreate(ctx, ev.UserID, now)
	if err != nil {
		return Decision{Action: db.ActionNone, Stage: StageInit}, err
	}
	updateProfile(user, ev)

	wasBanned := user.IsBanned
	if user.BanExpired(now) {
		applyUnban(user)
	}
	if user.IsBanned {
		return Decision{
			Action:        db.ActionNone,
			DeleteMessage: true,
			AdminReason:   bannedUserReason,
			BanUntil:      cloneTime(user.BanUntil),
			Stage:         StageBanCheck,
		}, nil
	}

	user.MessageCount++
	user.LastMessageAt = &now
	if m.cfg.TrustEnabled {
		m.trust.Refresh(user, now)
	}

	decision, record := m.evaluate(ctx, user, ev, now, logger)

	if decision.Action == db.ActionMute || decision.Action == db.ActionBan {
		user.IsBanned = true
		user.BanUntil = cloneTime(decision.BanUntil)
		decision.DeleteMessage = true
	}

	if err := m.states.save(ctx, user, now); err != nil {
		return Decision{Action: db.ActionNone, Stage: decision.Stage}, err
	}
	if record != nil {
		if _, err := m.violations.AddViolation(ctx, record); err != nil {
			logger.WithError(err).Error("failed to append violation record")
		}
	}
	if wasBanned != user.IsBanned || user.IsBanned {
		m.bans.mirrorState(ctx, user, now)
	}
	return decision, nil
}

// evaluate picks exactly one decision path. It mutates user counters and
// history but leaves ban state to the caller.
func (m *Moderator) evaluate(ctx context.Context, user *db.UserState, ev InboundEvent, now time.Time, logger *log.Entry) (Decision, *db.ViolationRecord) {
	if m.cfg.TrustEnabled && m.cfg.LinkDetectionEnabled {
		if links := m.links.Suspicious(ev.Text); len(links) > 0 {
			if s, ok := m.policy.Link(user); ok {
				m.trust.Refresh(user, now)
				return m.violation(user, ev, now, s, db.ViolationLink, "", nil,
					"suspicious links: "+strings.Join(links, ", "), StageLinks)
			}
		}
	}

	if m.cfg.AntispamEnabled {
		if res := m.spam.Evaluate(&user.History, ev.Text, now); res != nil {
			observability.RecordSpamDetection(string(res.Subtype))
			s := m.policy.Spam(user)
			confidence := res.Confidence
			return m.violation(user, ev, now, s, db.ViolationSpam, string(res.Subtype), &confidence,
				res.Reason, StageSpam)
		}
	} else {
		m.spam.Observe(&user.History, ev.Text, now)
	}

	if found, words := m.words.Match(ev.Text); found {
		s := m.policy.Warning(user, nil)
		if s.Action.Severity() > db.ActionWarn.Severity() && !m.cfg.AutoBanOnBannedWords {
			s = sanction(db.ActionWarn)
		}
		return m.violation(user, ev, now, s, db.ViolationBannedWord, "", nil,
			"banned words: "+strings.Join(words, ", "), StageWords)
	}

	if m.classifier != nil {
		verdict, ok := m.classify(ctx, user, ev.Text, logger)
		if ok && verdict.Violation && verdict.Confidence >= m.cfg.ConfidenceThreshold {
			s := m.policy.Warning(user, &verdict)
			confidence := verdict.Confidence
			reason := verdict.Reason
			if verdict.Type != "" {
				reason = verdict.Type + ": " + reason
			}
			return m.violation(user, ev, now, s, db.ViolationAI, verdict.Type, &confidence, reason, StageClassifier)
		}
	}

	return Decision{Action: db.ActionNone, Stage: StageDone}, nil
}

// classify never fails the message: errors and timeouts skip the check.
func (m *Moderator) classify(ctx context.Context, user *db.UserState, text string, logger *log.Entry) (Verdict, bool) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ClassifierTimeout)
	defer cancel()

	verdict, err := m.classifier.Classify(cctx, text, UserContext{
		TrustLevel:   user.TrustLevel,
		Warnings:     user.Warnings,
		MessageCount: user.MessageCount,
	})
	if err != nil {
		observability.RecordClassifierFailure()
		logger.WithError(apperrors.Transient("classify", err)).Warn("classifier skipped")
		return Verdict{}, false
	}
	return verdict, true
}

func (m *Moderator) violation(user *db.UserState, ev InboundEvent, now time.Time, s Sanction, class db.ViolationClass, subtype string, confidence *float64, adminReason string, stage Stage) (Decision, *db.ViolationRecord) {
	action := s.Action
	d := Decision{
		Action:        action,
		DeleteMessage: true,
		AdminReason:   adminReason,
		Class:         class,
		Subtype:       subtype,
		Confidence:    confidence,
		Stage:         stage,
	}
	if class == db.ViolationBannedWord && !m.cfg.AutoDeleteBannedWords {
		d.DeleteMessage = false
	}
	duration, bans := m.policy.BanDuration(s)
	if bans && duration != nil {
		until := now.Add(*duration)
		d.BanUntil = &until
	}
	d.UserReason = m.userReason(class, action, duration, adminReason)

	record := &db.ViolationRecord{
		UserID:     user.ID,
		MessageID:  ev.MessageID,
		Class:      class,
		Subtype:    subtype,
		Excerpt:    db.Excerpt(ev.Text),
		Action:     action,
		Confidence: confidence,
		CreatedAt:  now,
	}
	return d, record
}

func (m *Moderator) userReason(class db.ViolationClass, action db.Action, duration *time.Duration, adminReason string) string {
	lang := m.cfg.Language
	var reason string
	switch class {
	case db.ViolationSpam:
		reason = i18n.Get("Your message looks like spam and was removed.", lang)
	case db.ViolationBannedWord:
		reason = i18n.Get("Your message contains forbidden words.", lang)
	case db.ViolationAI:
		reason = fmt.Sprintf(i18n.Get("Your message breaks the chat rules. Reason: %s", lang), adminReason)
	case db.ViolationLink:
		reason = fmt.Sprintf(i18n.Get("New members cannot post links during the first %d days or %d messages. Your message was removed.", lang),
			m.cfg.Trust.DaysThreshold, m.cfg.Trust.MessagesThreshold)
	}

	switch action {
	case db.ActionWarn:
		reason += " " + i18n.Get("This is a warning.", lang)
	case db.ActionMute:
		reason += " " + fmt.Sprintf(i18n.Get("You are muted for %d minutes.", lang), int(m.cfg.Escalation.BanDuration.Minutes()))
	case db.ActionBan:
		if duration != nil {
			reason += " " + fmt.Sprintf(i18n.Get("You are banned for %d minutes.", lang), int(duration.Minutes()))
			break
		}
		reason += " " + i18n.Get("You are banned.", lang)
	case db.ActionNone:
	}
	return reason
}

// RecordJoin stamps the join time the first time a user is seen joining.
func (m *Moderator) RecordJoin(ctx context.Context, userID int64, username, firstName string, at time.Time) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := at.UTC()
	if at.IsZero() {
		now = m.clock.Now()
	}
	user, err := m.states.loadOrCreate(ctx, userID, now)
	if err != nil {
		return err
	}
	updateProfile(user, InboundEvent{Username: username, FirstName: firstName})
	if user.JoinedAt == nil {
		user.JoinedAt = &now
	}
	return m.states.save(ctx, user, now)
}

// WarnUser walks the warning ladder on behalf of an administrator. The
// returned state reflects the ban when the ladder ran out.
func (m *Moderator) WarnUser(ctx context.Context, userID int64) (*db.UserState, db.Action, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.clock.Now()
	user, err := m.states.load(ctx, userID)
	if err != nil {
		return nil, db.ActionNone, err
	}
	if user == nil {
		return nil, db.ActionNone, apperrors.ErrUnknownUser
	}

	s := m.policy.Warning(user, nil)
	if duration, ok := m.policy.BanDuration(s); ok {
		applyBan(user, duration, now)
	}
	if err := m.states.save(ctx, user, now); err != nil {
		return nil, db.ActionNone, err
	}
	if user.IsBanned {
		m.bans.mirrorState(ctx, user, now)
	}
	return user, s.Action, nil
}

// BanUser bans for duration, or permanently when duration is nil.
func (m *Moderator) BanUser(ctx context.Context, userID int64, duration *time.Duration, reason string) (*db.UserState, error) {
	return m.bans.Ban(ctx, userID, duration, reason)
}

func (m *Moderator) MuteUser(ctx context.Context, userID int64, duration time.Duration, reason string) (*db.UserState, error) {
	if duration <= 0 {
		duration = m.cfg.Escalation.BanDuration
	}
	return m.bans.Ban(ctx, userID, &duration, reason)
}

func (m *Moderator) UnbanUser(ctx context.Context, userID int64) error {
	return m.bans.Unban(ctx, userID)
}

// TrustAuto unpins the trust level and recomputes it.
const TrustAuto = "auto"

func (m *Moderator) SetTrust(ctx context.Context, userID int64, level string) (db.TrustLevel, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level != TrustAuto && !db.TrustLevel(level).Valid() {
		return "", apperrors.ErrInvalidCommand
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.clock.Now()
	user, err := m.states.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", apperrors.ErrUnknownUser
	}

	if level == TrustAuto {
		user.TrustPinned = false
		m.trust.Refresh(user, now)
	} else {
		user.TrustPinned = true
		user.TrustLevel = db.TrustLevel(level)
	}
	if err := m.states.save(ctx, user, now); err != nil {
		return "", err
	}
	return user.TrustLevel, nil
}

type UserInfo struct {
	User       *db.UserState
	Violations []*db.ViolationRecord
}

func (m *Moderator) UserInfo(ctx context.Context, userID int64) (*UserInfo, error) {
	unlock := m.locks.Lock(userID)
	user, err := m.states.load(ctx, userID)
	unlock()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrUnknownUser
	}
	violations, err := m.violations.ListViolations(ctx, userID, recentViolations)
	if err != nil {
		return nil, apperrors.Persistence("list violations", err)
	}
	return &UserInfo{User: user, Violations: violations}, nil
}

func updateProfile(user *db.UserState, ev InboundEvent) {
	if ev.Username != "" {
		user.Username = ev.Username
	}
	if ev.FirstName != "" {
		user.FirstName = ev.FirstName
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
