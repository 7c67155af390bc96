package telegram

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// BotAPI is the part of *api.BotAPI the transport relies on.
type BotAPI interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
	GetUpdates(config api.UpdateConfig) ([]api.Update, error)
}

var errNotEnoughRights = errors.New("not enough rights")

// Operations wraps the chat member calls a decision translates into.
type Operations struct {
	bot    BotAPI
	chatID int64
}

func NewOperations(bot BotAPI, chatID int64) *Operations {
	return &Operations{bot: bot, chatID: chatID}
}

func (o *Operations) DeleteMessage(ctx context.Context, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(o.chatID, messageID)); err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// Ban removes the user from the chat. A nil until bans permanently.
func (o *Operations) Ban(ctx context.Context, userID int64, until *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: o.member(userID),
		RevokeMessages:   true,
	}
	if until != nil {
		config.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(config); err != nil {
		return rightsError(err, "ban user")
	}
	return nil
}

// Mute takes away the right to post until the given time.
func (o *Operations) Mute(ctx context.Context, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: o.member(userID),
		UntilDate:        until.Unix(),
		Permissions:      &api.ChatPermissions{},
	}
	if _, err := o.bot.Request(config); err != nil {
		return rightsError(err, "restrict user")
	}
	return nil
}

// Unban lifts both a ban and a restriction.
func (o *Operations) Unban(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: o.member(userID),
		OnlyIfBanned:     true,
	}); err != nil {
		return rightsError(err, "unban user")
	}
	if _, err := o.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: o.member(userID),
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendAudios:         true,
			CanSendDocuments:      true,
			CanSendPhotos:         true,
			CanSendVideos:         true,
			CanSendVideoNotes:     true,
			CanSendVoiceNotes:     true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}); err != nil {
		return rightsError(err, "unrestrict user")
	}
	return nil
}

func (o *Operations) member(userID int64) api.ChatMemberConfig {
	return api.ChatMemberConfig{
		ChatConfig: api.ChatConfig{ChatID: o.chatID},
		UserID:     userID,
	}
}

func rightsError(err error, op string) error {
	if strings.Contains(err.Error(), "not enough rights") {
		return errors.Wrap(errNotEnoughRights, op)
	}
	return errors.Wrap(err, op)
}
