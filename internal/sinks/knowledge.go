package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/clients"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// DocumentStore is the part of clients.KnowledgeClient the sink needs
type DocumentStore interface {
	StoreDocument(ctx context.Context, req *clients.KnowledgeDocumentRequest) (*clients.KnowledgeDocumentResponse, error)
}

// KnowledgeSink stores results as searchable documents. Text shorter than
// minRunes is too small to chunk usefully and is accepted without a call.
type KnowledgeSink struct {
	store    DocumentStore
	tags     []string
	minRunes int
}

// NewKnowledgeSink creates a document memory sink
func NewKnowledgeSink(store DocumentStore, tags []string, minRunes int) *KnowledgeSink {
	return &KnowledgeSink{store: store, tags: tags, minRunes: minRunes}
}

func (s *KnowledgeSink) Name() string { return "knowledge" }

func (s *KnowledgeSink) Deliver(ctx context.Context, r ocr.Result) error {
	if len([]rune(r.Text)) < s.minRunes {
		return nil
	}
	_, err := s.store.StoreDocument(ctx, BuildKnowledgeDocument(r, s.tags))
	return err
}

// BuildKnowledgeDocument renders a result as a document request
func BuildKnowledgeDocument(r ocr.Result, tags []string) *clients.KnowledgeDocumentRequest {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	source := r.Source
	if source == "" {
		source = "screen"
	}

	meta := clients.KnowledgeDocumentMeta{
		Source:       source,
		Tags:         append([]string{"screen-ocr"}, tags...),
		Type:         "text",
		Engine:       r.Engine,
		Confidence:   r.Confidence,
		ResultID:     r.ID,
		ProcessingMs: r.Duration.Milliseconds(),
	}
	if !r.CapturedAt.IsZero() {
		meta.CapturedAt = r.CapturedAt.UTC().Format(time.RFC3339)
	}

	return &clients.KnowledgeDocumentRequest{
		Content:  r.Text,
		Title:    fmt.Sprintf("Screen text from %s at %s", source, ts.UTC().Format(time.RFC3339)),
		Metadata: meta,
	}
}
