package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	"github.com/iamwavecut/modbot/internal/i18n"
	"github.com/iamwavecut/modbot/internal/moderation"
)

const (
	cmdAppeal        = "appeal"
	cmdBan           = "ban"
	cmdUnban         = "unban"
	cmdMute          = "mute"
	cmdWarn          = "warn"
	cmdUserInfo      = "user_info"
	cmdSetTrust      = "set_trust"
	cmdCleanup       = "cleanup"
	cmdStats         = "stats"
	cmdRecalcTrust   = "recalc_trust"
	cmdListAppeals   = "list_appeals"
	cmdRejectAppeal  = "reject_appeal"
	cmdAcceptAppeal  = "accept_appeal"
	cmdConfirmAccept = "confirm_accept"
)

var commandUsage = map[string]string{
	cmdBan:           "/ban <user_id> [reason], or reply with /ban [reason]",
	cmdUnban:         "/unban <user_id>, or reply with /unban",
	cmdMute:          "/mute <user_id> [minutes] [reason], or reply with /mute [minutes] [reason]",
	cmdWarn:          "/warn <user_id>, or reply with /warn",
	cmdUserInfo:      "/user_info <user_id>, or reply with /user_info",
	cmdSetTrust:      "/set_trust <user_id> <new|trusted|suspicious|auto>",
	cmdCleanup:       "/cleanup",
	cmdStats:         "/stats",
	cmdRecalcTrust:   "/recalc_trust",
	cmdListAppeals:   "/list_appeals",
	cmdRejectAppeal:  "/reject_appeal <appeal_id> [reason]",
	cmdAcceptAppeal:  "/accept_appeal <appeal_id>",
	cmdConfirmAccept: "/confirm_accept <appeal_id>",
}

type adminCommand func(ctx context.Context, msg *api.Message, args []string) (string, error)

func (t *Transport) adminCommands() map[string]adminCommand {
	return map[string]adminCommand{
		cmdBan:           t.banCommand,
		cmdUnban:         t.unbanCommand,
		cmdMute:          t.muteCommand,
		cmdWarn:          t.warnCommand,
		cmdUserInfo:      t.userInfoCommand,
		cmdSetTrust:      t.setTrustCommand,
		cmdCleanup:       t.cleanupCommand,
		cmdStats:         t.statsCommand,
		cmdRecalcTrust:   t.recalcTrustCommand,
		cmdListAppeals:   t.listAppealsCommand,
		cmdRejectAppeal:  t.rejectAppealCommand,
		cmdAcceptAppeal:  t.acceptAppealCommand,
		cmdConfirmAccept: t.confirmAcceptCommand,
	}
}

// handleCommand answers every recognized command with exactly one reply.
// Unknown commands are ignored.
func (t *Transport) handleCommand(ctx context.Context, msg *api.Message, chatID int64) error {
	cmd := msg.Command()
	entry := t.logger.WithFields(log.Fields{
		"method":  "handleCommand",
		"command": cmd,
		"user_id": msg.From.ID,
		"chat_id": chatID,
	})

	if cmd == cmdAppeal {
		t.reply(chatID, msg, t.appealCommand(ctx, msg, chatID))
		return nil
	}

	handler, ok := t.adminCommands()[cmd]
	if !ok {
		entry.Trace("unknown command")
		return nil
	}
	if !t.isAdmin(chatID, msg.From.ID) {
		entry.Debug("not admin")
		t.reply(chatID, msg, i18n.Get("This command is only available to administrators.", t.cfg.Language))
		return nil
	}

	text, err := handler(ctx, msg, strings.Fields(msg.CommandArguments()))
	if err != nil {
		entry.WithError(err).Warn("command failed")
		text = t.failureText(cmd, err)
	}
	t.reply(chatID, msg, text)
	return nil
}

func (t *Transport) failureText(cmd string, err error) string {
	lang := t.cfg.Language
	switch {
	case errors.Is(err, apperrors.ErrInvalidCommand):
		return i18n.Get("Invalid command arguments.", lang) + "\n" + commandUsage[cmd]
	case errors.Is(err, apperrors.ErrUnknownUser):
		return i18n.Get("Unknown user.", lang)
	case errors.Is(err, apperrors.ErrNotFound):
		return i18n.Get("Appeal not found.", lang)
	case errors.Is(err, apperrors.ErrAlreadyResolved):
		return i18n.Get("This appeal is already resolved.", lang)
	case errors.Is(err, errNotEnoughRights):
		return i18n.Get("The bot lacks the rights to do this.", lang)
	default:
		return i18n.Get("Something went wrong, please try again later.", lang)
	}
}

func (t *Transport) appealCommand(ctx context.Context, msg *api.Message, chatID int64) string {
	lang := t.cfg.Language
	if chatID != msg.From.ID {
		return i18n.Get("Send /appeal to the bot in a private chat.", lang)
	}

	id, err := t.appeals.File(ctx, msg.From.ID, msg.CommandArguments())
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotBanned):
		return i18n.Get("You are not banned, there is nothing to appeal.", lang)
	case errors.Is(err, apperrors.ErrAlreadyPending):
		return i18n.Get("You already have a pending appeal.", lang)
	case errors.Is(err, apperrors.ErrInvalidLength):
		return fmt.Sprintf(i18n.Get("The appeal text must be between %d and %d characters.", lang), moderation.AppealMinLength, moderation.AppealMaxLength)
	default:
		t.logger.WithError(err).WithField("user_id", msg.From.ID).Error("cant file appeal")
		return i18n.Get("Something went wrong, please try again later.", lang)
	}

	t.notifyAdmins(renderAppealFiled(id, msg.From, msg.CommandArguments()))
	return fmt.Sprintf(i18n.Get("Your appeal #%d has been filed. Administrators will review it.", lang), id)
}

func (t *Transport) banCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, rest, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	if _, err := t.moderator.BanUser(ctx, userID, nil, strings.Join(rest, " ")); err != nil {
		return "", errors.Wrap(err, "ban user")
	}
	if err := t.ops.Ban(ctx, userID, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf(i18n.Get("User %d is banned.", t.cfg.Language), userID), nil
}

func (t *Transport) muteCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, rest, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	duration, rest := parseMinutes(rest)
	user, err := t.moderator.MuteUser(ctx, userID, duration, strings.Join(rest, " "))
	if err != nil {
		return "", errors.Wrap(err, "mute user")
	}
	if user.BanUntil == nil {
		return "", errors.New("mute produced a permanent ban")
	}
	if err := t.ops.Mute(ctx, userID, *user.BanUntil); err != nil {
		return "", err
	}
	return fmt.Sprintf(i18n.Get("User %d is muted until %s.", t.cfg.Language), userID, user.BanUntil.UTC().Format(timeLayout)), nil
}

func (t *Transport) unbanCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, _, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	if err := t.moderator.UnbanUser(ctx, userID); err != nil {
		return "", errors.Wrap(err, "unban user")
	}
	if err := t.ops.Unban(ctx, userID); err != nil {
		return "", err
	}
	text := fmt.Sprintf(i18n.Get("User %d is unbanned.", t.cfg.Language), userID)
	closed, err := t.appeals.CloseLifted(ctx, userID, msg.From.ID)
	if err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("failed to close pending appeal")
		return text, nil
	}
	if closed != nil {
		text += " " + fmt.Sprintf(i18n.Get("Pending appeal #%d is closed.", t.cfg.Language), closed.ID)
	}
	return text, nil
}

func (t *Transport) warnCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, _, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	user, action, err := t.moderator.WarnUser(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "warn user")
	}
	if action == db.ActionBan {
		if err := t.ops.Ban(ctx, userID, user.BanUntil); err != nil {
			return "", err
		}
		return fmt.Sprintf(i18n.Get("User %d reached the warning limit and is banned.", t.cfg.Language), userID), nil
	}
	return fmt.Sprintf(i18n.Get("User %d is warned (%d/%d).", t.cfg.Language), userID, user.Warnings, t.cfg.WarningThreshold), nil
}

func (t *Transport) userInfoCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, _, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	info, err := t.moderator.UserInfo(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "user info")
	}
	return renderUserInfo(info), nil
}

func (t *Transport) setTrustCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	userID, rest, err := parseTarget(args, msg.ReplyToMessage)
	if err != nil {
		return "", err
	}
	if len(rest) != 1 {
		return "", apperrors.ErrInvalidCommand
	}
	level, err := t.moderator.SetTrust(ctx, userID, rest[0])
	if err != nil {
		return "", errors.Wrap(err, "set trust")
	}
	return fmt.Sprintf(i18n.Get("Trust level of user %d is now %s.", t.cfg.Language), userID, level), nil
}

func (t *Transport) cleanupCommand(ctx context.Context, _ *api.Message, _ []string) (string, error) {
	n, err := t.jobs.SweepExpired(ctx)
	if err != nil {
		return "", errors.Wrap(err, "sweep expired bans")
	}
	return fmt.Sprintf(i18n.Get("Removed %d expired bans.", t.cfg.Language), n), nil
}

func (t *Transport) statsCommand(ctx context.Context, _ *api.Message, _ []string) (string, error) {
	stats, err := t.jobs.Stats(ctx)
	if err != nil {
		return "", errors.Wrap(err, "stats")
	}
	return renderStats(stats), nil
}

func (t *Transport) recalcTrustCommand(ctx context.Context, _ *api.Message, _ []string) (string, error) {
	n, err := t.jobs.RecalculateTrust(ctx)
	if err != nil {
		return "", errors.Wrap(err, "recalculate trust")
	}
	return fmt.Sprintf(i18n.Get("Trust recalculated, %d users changed.", t.cfg.Language), n), nil
}

func (t *Transport) listAppealsCommand(ctx context.Context, _ *api.Message, _ []string) (string, error) {
	appeals, err := t.appeals.ListPending(ctx, moderation.MaxListedAppeals)
	if err != nil {
		return "", errors.Wrap(err, "list appeals")
	}
	if len(appeals) == 0 {
		return i18n.Get("No pending appeals.", t.cfg.Language), nil
	}
	return renderAppeals(appeals), nil
}

func (t *Transport) rejectAppealCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	appealID, rest, err := parseID(args)
	if err != nil {
		return "", err
	}
	appeal, err := t.appeals.Reject(ctx, appealID, msg.From.ID, strings.Join(rest, " "))
	if err != nil {
		return "", errors.Wrap(err, "reject appeal")
	}
	reason := ""
	if appeal.Response != nil {
		reason = *appeal.Response
	}
	t.reply(appeal.UserID, nil, fmt.Sprintf(i18n.Get("Your appeal was rejected. Reason: %s", t.cfg.Language), reason))
	return fmt.Sprintf(i18n.Get("Appeal #%d rejected.", t.cfg.Language), appealID), nil
}

func (t *Transport) acceptAppealCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	appealID, _, err := parseID(args)
	if err != nil {
		return "", err
	}
	prompt, err := t.appeals.RequestAccept(ctx, appealID, msg.From.ID)
	if err != nil {
		return "", errors.Wrap(err, "request accept")
	}
	return prompt.Prompt, nil
}

func (t *Transport) confirmAcceptCommand(ctx context.Context, msg *api.Message, args []string) (string, error) {
	appealID, _, err := parseID(args)
	if err != nil {
		return "", err
	}
	appeal, err := t.appeals.ConfirmAccept(ctx, appealID, msg.From.ID)
	if err != nil {
		return "", errors.Wrap(err, "confirm accept")
	}
	if err := t.ops.Unban(ctx, appeal.UserID); err != nil {
		t.logger.WithError(err).WithField("user_id", appeal.UserID).Warn("cant lift chat ban")
	}
	t.reply(appeal.UserID, nil, i18n.Get("Your appeal was accepted. You are unbanned.", t.cfg.Language))
	return fmt.Sprintf(i18n.Get("Appeal #%d accepted, user %d is unbanned.", t.cfg.Language), appealID, appeal.UserID), nil
}

// parseTarget takes the user from the replied-to message, or else from the
// first argument.
func parseTarget(args []string, reply *api.Message) (int64, []string, error) {
	if reply != nil && reply.From != nil && !reply.From.IsBot {
		return reply.From.ID, args, nil
	}
	return parseID(args)
}

func parseID(args []string) (int64, []string, error) {
	if len(args) == 0 {
		return 0, nil, apperrors.ErrInvalidCommand
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, apperrors.ErrInvalidCommand
	}
	return id, args[1:], nil
}

// parseMinutes consumes a leading positive integer as a number of minutes.
// Zero means the configured default.
func parseMinutes(args []string) (time.Duration, []string) {
	if len(args) == 0 {
		return 0, args
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, args
	}
	return time.Duration(n) * time.Minute, args[1:]
}
