package sinks

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

const telegramMaxText = 4000

// TelegramSender is the part of *tgbotapi.BotAPI the sink needs
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends result text to a fixed list of chats
type TelegramSink struct {
	bot     TelegramSender
	chatIDs []int64
}

// NewTelegramBot connects to the Bot API with a token
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return bot, nil
}

// NewTelegramSink creates a sink delivering to every chat in chatIDs
func NewTelegramSink(bot TelegramSender, chatIDs []int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatIDs: append([]int64(nil), chatIDs...)}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver sends to every chat and fails if any chat failed. The Bot API
// client takes no context, so each send is abandoned when ctx ends.
func (s *TelegramSink) Deliver(ctx context.Context, r ocr.Result) error {
	text := FormatTelegramText(r)

	var failed []string
	for _, id := range s.chatIDs {
		if err := s.send(ctx, tgbotapi.NewMessage(id, text)); err != nil {
			failed = append(failed, fmt.Sprintf("chat %d: %v", id, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("telegram delivery failed: %s", strings.Join(failed, "; "))
	}
	return ctx.Err()
}

func (s *TelegramSink) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatTelegramText renders the chat message body
func FormatTelegramText(r ocr.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 OCR (%s, %.0f%%, %d words)\n\n", r.Engine, r.Confidence*100, r.WordCount())
	b.WriteString(r.Text)
	return truncate(b.String(), telegramMaxText)
}
