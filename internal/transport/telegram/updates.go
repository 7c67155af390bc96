package telegram

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
)

const (
	pollTimeoutSeconds = 30
	pollRetryDelay     = 3 * time.Second
	updateBuffer       = 100
)

var allowedUpdates = []string{"message"}

// pollUpdates long-polls the Bot API until ctx is done. Errors are logged and
// retried after a pause.
func pollUpdates(ctx context.Context, bot BotAPI, logger *log.Entry) <-chan api.Update {
	ch := make(chan api.Update, updateBuffer)
	config := api.NewUpdate(0)
	config.Timeout = pollTimeoutSeconds
	config.AllowedUpdates = allowedUpdates

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			updates, err := bot.GetUpdates(config)
			if err != nil {
				logger.WithError(err).Warn("get updates failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollRetryDelay):
				}
				continue
			}
			for _, update := range updates {
				if update.UpdateID < config.Offset {
					continue
				}
				config.Offset = update.UpdateID + 1
				select {
				case ch <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
