package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	log "github.com/sirupsen/logrus"
)

const (
	AppealMinLength = 10
	AppealMaxLength = 1000

	MaxListedAppeals = 10

	appealAcceptedResponse = "appeal accepted"
	appealDefaultReason    = "not specified"
	appealLiftedResponse   = "ban lifted manually"

	confirmAcceptCommand = "/confirm_accept"
)

type AcceptPrompt struct {
	Appeal *db.Appeal
	Prompt string
}

// AppealService runs the pending → approved/rejected state machine. An
// appeal is accepted in two steps: RequestAccept only describes what will
// happen, ConfirmAccept resolves it and lifts the ban.
type AppealService struct {
	appeals db.AppealStore
	states  stateStore
	bans    *BanService
	locks   *UserLocks
	clock   Clock
	logger  *log.Entry
}

func NewAppealService(appeals db.AppealStore, users db.UserStore, capacity int, bans *BanService, locks *UserLocks, clock Clock) *AppealService {
	if clock == nil {
		clock = SystemClock()
	}
	return &AppealService{
		appeals: appeals,
		states:  stateStore{store: users, capacity: capacity},
		bans:    bans,
		locks:   locks,
		clock:   clock,
		logger:  log.WithField("object", "AppealService"),
	}
}

// File opens an appeal for a banned user and returns its id. A timed ban
// that has already run out is lifted here and does not count as banned.
func (s *AppealService) File(ctx context.Context, userID int64, text string) (int64, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.states.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil || !user.IsBanned {
		return 0, apperrors.ErrNotBanned
	}
	expired, err := s.bans.expireLocked(ctx, user, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if expired {
		return 0, apperrors.ErrNotBanned
	}

	pending, err := s.appeals.GetPendingAppeal(ctx, userID)
	if err != nil {
		return 0, apperrors.Persistence("get pending appeal", err)
	}
	if pending != nil {
		return 0, apperrors.ErrAlreadyPending
	}

	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < AppealMinLength || n > AppealMaxLength {
		return 0, apperrors.ErrInvalidLength
	}

	appeal, err := s.appeals.CreateAppeal(ctx, &db.Appeal{
		UserID:    userID,
		Text:      text,
		CreatedAt: s.clock.Now(),
	})
	if errors.Is(err, db.ErrPendingAppealExists) {
		return 0, apperrors.ErrAlreadyPending
	}
	if err != nil {
		return 0, apperrors.Persistence("create appeal", err)
	}

	s.logger.WithFields(log.Fields{"user_id": userID, "appeal_id": appeal.ID}).Info("appeal filed")
	return appeal.ID, nil
}

func (s *AppealService) Reject(ctx context.Context, appealID, adminID int64, reason string) (*db.Appeal, error) {
	appeal, err := s.pending(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = appealDefaultReason
	}
	if err := s.resolve(ctx, appeal, db.AppealRejected, adminID, reason); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"appeal_id": appealID, "admin_id": adminID}).Info("appeal rejected")
	return appeal, nil
}

// RequestAccept checks that the appeal can be accepted without changing it.
func (s *AppealService) RequestAccept(ctx context.Context, appealID, adminID int64) (AcceptPrompt, error) {
	appeal, err := s.pending(ctx, appealID)
	if err != nil {
		return AcceptPrompt{}, err
	}
	s.logger.WithFields(log.Fields{"appeal_id": appealID, "admin_id": adminID}).Debug("appeal accept requested")
	return AcceptPrompt{
		Appeal: appeal,
		Prompt: fmt.Sprintf("Accepting appeal #%d unbans user %d. Send %s %d to confirm.",
			appeal.ID, appeal.UserID, confirmAcceptCommand, appeal.ID),
	}, nil
}

// ConfirmAccept resolves the appeal first and unbans second, so two
// concurrent confirmations can never both unban.
func (s *AppealService) ConfirmAccept(ctx context.Context, appealID, adminID int64) (*db.Appeal, error) {
	appeal, err := s.pending(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, appeal, db.AppealApproved, adminID, appealAcceptedResponse); err != nil {
		return nil, err
	}
	if err := s.bans.Unban(ctx, appeal.UserID); err != nil {
		return appeal, fmt.Errorf("unban after accepted appeal: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"appeal_id": appealID,
		"admin_id":  adminID,
		"user_id":   appeal.UserID,
	}).Info("appeal accepted")
	return appeal, nil
}

// CloseLifted rejects the user's pending appeal after an administrator lifted
// the ban directly. It returns nil when there was nothing to close.
func (s *AppealService) CloseLifted(ctx context.Context, userID, adminID int64) (*db.Appeal, error) {
	appeal, err := s.appeals.GetPendingAppeal(ctx, userID)
	if err != nil {
		return nil, apperrors.Persistence("get pending appeal", err)
	}
	if appeal == nil {
		return nil, nil
	}
	err = s.resolve(ctx, appeal, db.AppealRejected, adminID, appealLiftedResponse)
	if errors.Is(err, apperrors.ErrAlreadyResolved) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"appeal_id": appeal.ID, "admin_id": adminID, "user_id": userID}).Info("appeal closed after manual unban")
	return appeal, nil
}

func (s *AppealService) ListPending(ctx context.Context, limit int) ([]*db.Appeal, error) {
	if limit <= 0 || limit > MaxListedAppeals {
		limit = MaxListedAppeals
	}
	appeals, err := s.appeals.ListPendingAppeals(ctx, limit)
	if err != nil {
		return nil, apperrors.Persistence("list pending appeals", err)
	}
	return appeals, nil
}

func (s *AppealService) pending(ctx context.Context, appealID int64) (*db.Appeal, error) {
	appeal, err := s.appeals.GetAppeal(ctx, appealID)
	if err != nil {
		return nil, apperrors.Persistence("get appeal", err)
	}
	if appeal == nil {
		return nil, apperrors.ErrNotFound
	}
	if appeal.Status != db.AppealPending {
		return nil, apperrors.ErrAlreadyResolved
	}
	return appeal, nil
}

func (s *AppealService) resolve(ctx context.Context, appeal *db.Appeal, status db.AppealStatus, adminID int64, response string) error {
	now := s.clock.Now()
	ok, err := s.appeals.ResolveAppeal(ctx, appeal.ID, status, adminID, response, now)
	if err != nil {
		return apperrors.Persistence("resolve appeal", err)
	}
	if !ok {
		return apperrors.ErrAlreadyResolved
	}
	appeal.Status = status
	appeal.AdminID = &adminID
	appeal.Response = &response
	appeal.UpdatedAt = now
	return nil
}
