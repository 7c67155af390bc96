package telegram

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/modbot/internal/db"
	"github.com/iamwavecut/modbot/internal/i18n"
	"github.com/iamwavecut/modbot/internal/infra"
	"github.com/iamwavecut/modbot/internal/moderation"
)

// UpdateTimeout is the age after which an update is dropped unprocessed.
const UpdateTimeout = 5 * time.Minute

const (
	updateWorkers    = 16
	updateQueueDepth = 32
)

type (
	Moderator interface {
		Process(ctx context.Context, ev moderation.InboundEvent) (moderation.Decision, error)
		RecordJoin(ctx context.Context, userID int64, username, firstName string, at time.Time) error
		WarnUser(ctx context.Context, userID int64) (*db.UserState, db.Action, error)
		BanUser(ctx context.Context, userID int64, duration *time.Duration, reason string) (*db.UserState, error)
		MuteUser(ctx context.Context, userID int64, duration time.Duration, reason string) (*db.UserState, error)
		UnbanUser(ctx context.Context, userID int64) error
		SetTrust(ctx context.Context, userID int64, level string) (db.TrustLevel, error)
		UserInfo(ctx context.Context, userID int64) (*moderation.UserInfo, error)
	}

	Appeals interface {
		File(ctx context.Context, userID int64, text string) (int64, error)
		Reject(ctx context.Context, appealID, adminID int64, reason string) (*db.Appeal, error)
		RequestAccept(ctx context.Context, appealID, adminID int64) (moderation.AcceptPrompt, error)
		ConfirmAccept(ctx context.Context, appealID, adminID int64) (*db.Appeal, error)
		ListPending(ctx context.Context, limit int) ([]*db.Appeal, error)
		CloseLifted(ctx context.Context, userID, adminID int64) (*db.Appeal, error)
	}

	Jobs interface {
		SweepExpired(ctx context.Context) (int, error)
		RecalculateTrust(ctx context.Context) (int, error)
		Stats(ctx context.Context) (*db.Stats, error)
	}

	Config struct {
		ChatID      int64
		AdminChatID int64
		AdminIDs    []int64
		Language    string
		// WarningThreshold is only used to render "n/limit" in replies.
		WarningThreshold int
	}
)

// Transport connects one moderated chat to the decision core: messages go
// through the Moderator, decisions come back as Bot API calls, and admin and
// appeal commands are routed to their services.
type Transport struct {
	bot       BotAPI
	ops       *Operations
	moderator Moderator
	appeals   Appeals
	jobs      Jobs
	cfg       Config
	logger    *log.Entry
	now       func() time.Time

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewTransport(bot BotAPI, moderator Moderator, appeals Appeals, jobs Jobs, cfg Config) *Transport {
	if cfg.Language == "" {
		cfg.Language = i18n.DefaultLanguage()
	}
	return &Transport{
		bot:       bot,
		ops:       NewOperations(bot, cfg.ChatID),
		moderator: moderator,
		appeals:   appeals,
		jobs:      jobs,
		cfg:       cfg,
		logger:    log.WithField("object", "TelegramTransport"),
		now:       time.Now,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	t.runMutex.Lock()
	defer t.runMutex.Unlock()
	if t.started {
		return nil
	}
	if t.cfg.ChatID == 0 {
		return errors.New("moderated chat id is not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.runCancel = cancel
	updates := pollUpdates(runCtx, t.bot, t.logger)

	t.workersWg.Add(1)
	go func() {
		defer t.workersWg.Done()
		t.dispatch(runCtx, updates, t.handleUpdate)
	}()

	t.started = true
	t.logger.WithField("chat_id", t.cfg.ChatID).Info("receiving updates")
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.runMutex.Lock()
	if !t.started {
		t.runMutex.Unlock()
		return nil
	}
	t.started = false
	cancel := t.runCancel
	t.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// dispatch fans updates out to workers sharded by sender, so one user's
// messages stay ordered while a slow check never holds up other users.
func (t *Transport) dispatch(ctx context.Context, updates <-chan api.Update, handle func(context.Context, api.Update)) {
	shards := infra.NewShards(updateWorkers, updateQueueDepth)
	defer shards.Close()

	for update := range updates {
		err := shards.Submit(ctx, updateShardKey(update), func() {
			handle(ctx, update)
		})
		if err != nil {
			t.logger.WithError(err).Debug("update dispatch stopped")
			return
		}
	}
}

func updateShardKey(u api.Update) int64 {
	if u.Message != nil && u.Message.From != nil {
		return u.Message.From.ID
	}
	return 0
}

// handleUpdate isolates panics of a single update from the loop.
func (t *Transport) handleUpdate(ctx context.Context, u api.Update) {
	infra.GoRecoverable(0, fmt.Sprintf("update:%d", u.UpdateID), func() {
		if err := t.Process(ctx, &u); err != nil {
			t.logger.WithError(err).WithField("update_id", u.UpdateID).Error("cant process update")
		}
	}, nil)
}

func (t *Transport) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}

	sent := time.Unix(int64(msg.Date), 0)
	if t.now().Sub(sent) > UpdateTimeout {
		t.logger.WithFields(log.Fields{
			"update_time": sent,
			"age":         t.now().Sub(sent),
		}).Debug("skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	if chat == nil {
		return nil
	}

	switch {
	case chat.IsPrivate():
		if msg.IsCommand() {
			return t.handleCommand(ctx, msg, chat.ID)
		}
		return nil
	case chat.ID == t.cfg.AdminChatID:
		if msg.IsCommand() {
			return t.handleCommand(ctx, msg, chat.ID)
		}
		return nil
	case chat.ID != t.cfg.ChatID:
		return nil
	}

	if len(msg.NewChatMembers) > 0 {
		return t.recordJoins(ctx, msg)
	}
	if msg.IsCommand() {
		return t.handleCommand(ctx, msg, chat.ID)
	}
	return t.moderate(ctx, msg, sent)
}

func (t *Transport) recordJoins(ctx context.Context, msg *api.Message) error {
	at := time.Unix(int64(msg.Date), 0)
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		if err := t.moderator.RecordJoin(ctx, member.ID, member.UserName, member.FirstName, at); err != nil {
			return errors.Wrap(err, "record join")
		}
	}
	return nil
}

func (t *Transport) moderate(ctx context.Context, msg *api.Message, sent time.Time) error {
	text := messageContent(msg)
	if text == "" {
		return nil
	}

	decision, err := t.moderator.Process(ctx, moderation.InboundEvent{
		UserID:      msg.From.ID,
		Username:    msg.From.UserName,
		FirstName:   msg.From.FirstName,
		Text:        text,
		MessageID:   int64(msg.MessageID),
		ArrivalTime: sent,
	})
	if err != nil {
		return errors.Wrap(err, "process message")
	}
	return t.execute(ctx, msg, decision)
}

// execute turns a decision into Bot API calls. Individual call failures are
// logged so that one missing right does not skip the rest.
func (t *Transport) execute(ctx context.Context, msg *api.Message, d moderation.Decision) error {
	entry := t.logger.WithFields(log.Fields{
		"user_id":  msg.From.ID,
		"action":   d.Action,
		"trace_id": d.TraceID,
	})

	if d.DeleteMessage {
		if err := t.ops.DeleteMessage(ctx, msg.MessageID); err != nil {
			entry.WithError(err).Warn("cant delete message")
		}
	}

	switch d.Action {
	case db.ActionNone:
		return nil
	case db.ActionWarn:
	case db.ActionMute:
		if d.BanUntil != nil {
			if err := t.ops.Mute(ctx, msg.From.ID, *d.BanUntil); err != nil {
				entry.WithError(err).Warn("cant mute user")
			}
		}
	case db.ActionBan:
		if err := t.ops.Ban(ctx, msg.From.ID, d.BanUntil); err != nil {
			entry.WithError(err).Warn("cant ban user")
		}
	default:
		return errors.Errorf("unknown action %q", d.Action)
	}

	if d.UserReason != "" {
		notice := api.NewMessage(t.cfg.ChatID, displayName(msg.From)+": "+d.UserReason)
		notice.DisableNotification = true
		if !d.DeleteMessage {
			notice.ReplyParameters.MessageID = msg.MessageID
			notice.ReplyParameters.ChatID = t.cfg.ChatID
			notice.ReplyParameters.AllowSendingWithoutReply = true
		}
		_ = tool.Err(t.bot.Send(notice))
	}
	t.notifyAdmins(renderDecision(msg.From, d))
	return nil
}

func (t *Transport) notifyAdmins(text string) {
	if t.cfg.AdminChatID == 0 || text == "" {
		return
	}
	msg := api.NewMessage(t.cfg.AdminChatID, text)
	msg.DisableNotification = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.WithError(err).Warn("cant notify admins")
	}
}

func (t *Transport) reply(chatID int64, to *api.Message, text string) {
	msg := api.NewMessage(chatID, text)
	msg.DisableNotification = true
	if to != nil {
		msg.ReplyParameters.MessageID = to.MessageID
		msg.ReplyParameters.ChatID = chatID
		msg.ReplyParameters.AllowSendingWithoutReply = true
		msg.MessageThreadID = to.MessageThreadID
	}
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Warn("cant send reply")
	}
}

// isAdmin accepts configured admin ids, members of the admin chat and
// moderated chat administrators that can restrict members.
func (t *Transport) isAdmin(chatID, userID int64) bool {
	if slices.Contains(t.cfg.AdminIDs, userID) {
		return true
	}
	if t.cfg.AdminChatID != 0 && chatID == t.cfg.AdminChatID {
		return true
	}
	member, err := t.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: t.cfg.ChatID},
			UserID:     userID,
		},
	})
	if err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("cant get chat member")
		return false
	}
	return isPrivilegedModerator(&member)
}

// messageContent joins text and caption of a message.
func messageContent(msg *api.Message) string {
	return strings.TrimSpace(strings.TrimSpace(msg.Text) + " " + strings.TrimSpace(msg.Caption))
}

func displayName(user *api.User) string {
	if user == nil {
		return ""
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return fmt.Sprintf("%d", user.ID)
	}
	return name
}

func isPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanRestrictMembers || member.CanPromoteMembers)
}
