package deliver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"reporthub/internal/pipeline"
	logx "reporthub/pkg/logx"
)

// TelegramConfig controls the Telegram delivery channel.
type TelegramConfig struct {
	Token string
}

// telegramSender is the slice of *tele.Bot this channel needs; tests
// substitute a fake.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram delivers the plain-text report body to a chat, with the rendered
// HTML attached as a document so nothing is lost to message length limits.
type Telegram struct {
	bot telegramSender
	log logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, log: log}, nil
}

// chatMessageLimit is Telegram's hard cap per message.
const chatMessageLimit = 4096

// Deliver sends to a recipient of the form tg:<chat-id>. The bot API client
// manages its own request deadlines, so ctx is not threaded through.
func (t *Telegram) Deliver(_ context.Context, recipient string, a pipeline.Artifact) error {
	id, err := chatID(recipient)
	if err != nil {
		return err
	}

	text := a.Subject + "\n\n" + a.Text
	if len(text) > chatMessageLimit {
		text = text[:chatMessageLimit-1] + "…"
	}
	if _, err := t.bot.Send(tele.ChatID(id), text); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	if a.HTML != "" {
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader([]byte(a.HTML))),
			FileName: "report.html",
			MIME:     "text/html",
		}
		if _, err := t.bot.Send(tele.ChatID(id), doc); err != nil {
			return fmt.Errorf("telegram send document: %w", err)
		}
	}

	t.log.Debug("telegram delivered", logx.Int64("chat", id), logx.String("subject", a.Subject))
	return nil
}

func chatID(recipient string) (int64, error) {
	raw, ok := strings.CutPrefix(recipient, "tg:")
	if !ok {
		return 0, fmt.Errorf("recipient %q is not a telegram chat", recipient)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recipient %q: bad chat id: %w", recipient, err)
	}
	return id, nil
}
