package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/clients"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

const (
	webhookUsername    = "OCR Bot"
	webhookTitle       = "🔍 OCR Results"
	webhookColor       = 0x00ff7f
	webhookFooter      = "Live OCR • Screen Share"
	webhookMaxTextRune = 1000
)

// WebhookPoster is the part of clients.WebhookClient the sink needs
type WebhookPoster interface {
	Post(ctx context.Context, msg *clients.WebhookMessage) error
}

// WebhookSink posts each result as a Discord-style rich embed
type WebhookSink struct {
	client WebhookPoster
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(client WebhookPoster) *WebhookSink {
	return &WebhookSink{client: client}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, r ocr.Result) error {
	return s.client.Post(ctx, BuildWebhookMessage(r))
}

// BuildWebhookMessage renders a result as an embed message
func BuildWebhookMessage(r ocr.Result) *clients.WebhookMessage {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &clients.WebhookMessage{
		Username: webhookUsername,
		Embeds: []clients.WebhookEmbed{{
			Title:       webhookTitle,
			Description: fmt.Sprintf("```text\n%s\n```", truncate(r.Text, webhookMaxTextRune)),
			Color:       webhookColor,
			Timestamp:   ts.UTC().Format(time.RFC3339),
			Fields: []clients.WebhookField{
				{Name: "Processing Time", Value: fmt.Sprintf("%.2fs", r.Duration.Seconds()), Inline: true},
				{Name: "Confidence", Value: fmt.Sprintf("%.1f%%", r.Confidence*100), Inline: true},
				{Name: "Words", Value: fmt.Sprintf("%d", r.WordCount()), Inline: true},
				{Name: "Engine", Value: r.Engine, Inline: true},
			},
			Footer: &clients.WebhookFooter{Text: webhookFooter},
		}},
	}
}
