package bot

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sendTimeout bounds every call to the Telegram API; Send takes no context.
const sendTimeout = 10 * time.Second

// BotWrapper is the live Telegram client behind domain.TelegramSender.
type BotWrapper struct {
	*tgbotapi.BotAPI
}

// NewBotWrapper logs in with token and returns a ready sender.
func NewBotWrapper(token string, debug bool) (*BotWrapper, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = debug
	return &BotWrapper{BotAPI: api}, nil
}

func (w *BotWrapper) Username() string {
	return w.Self.UserName
}
