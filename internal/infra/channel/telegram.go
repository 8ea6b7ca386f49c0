package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"campaign-delivery/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramTransport dials the Telegram Bot API. Each Dial verifies the token
// with a getMe round trip, so a successful Dial means the API is reachable.
type TelegramTransport struct {
	token string
	log   *zerolog.Logger
}

func NewTelegramTransport(token string, logger *zerolog.Logger) *TelegramTransport {
	compLog := logger.With().Str("component", "TelegramTransport").Logger()
	return &TelegramTransport{token: token, log: &compLog}
}

var _ Transport = (*TelegramTransport)(nil)

func (t *TelegramTransport) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return &telegramConn{bot: bot}, nil
}

type telegramConn struct {
	bot *tgbotapi.BotAPI
}

// Send delivers one message to a chat. The destination address is the
// numeric chat id as a string. API-level rejections (bad chat id, blocked
// bot) come back as-is; transport-level failures are wrapped with
// domain.ErrConnLost so the manager recycles the connection.
func (c *telegramConn) Send(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, domain.ErrInvalidArgument)
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("telegram rejected message: %w", err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnLost, err)
	}
	return nil
}

func (c *telegramConn) Close() error {
	// The Bot API client is stateless HTTP; nothing to tear down.
	return nil
}
