package sinks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/clients"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

type fakeDocumentStore struct {
	docs []*clients.KnowledgeDocumentRequest
	err  error
}

func (f *fakeDocumentStore) StoreDocument(ctx context.Context, req *clients.KnowledgeDocumentRequest) (*clients.KnowledgeDocumentResponse, error) {
	f.docs = append(f.docs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &clients.KnowledgeDocumentResponse{Success: true}, nil
}

func TestKnowledgeSinkStoresDocument(t *testing.T) {
	store := &fakeDocumentStore{}
	sink := NewKnowledgeSink(store, []string{"desk-2"}, 5)

	captured := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	r := ocr.Result{
		ID:          "r-1",
		Text:        "All 212 tests passed",
		Confidence:  0.91,
		Engine:      "tesseract-accurate",
		Source:      "window:ci",
		Duration:    1200 * time.Millisecond,
		CapturedAt:  captured,
		CompletedAt: captured.Add(2 * time.Second),
	}
	if err := sink.Deliver(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	if len(store.docs) != 1 {
		t.Fatalf("stored %d documents", len(store.docs))
	}
	doc := store.docs[0]
	if doc.Content != r.Text || !strings.Contains(doc.Title, "window:ci") {
		t.Errorf("doc = %+v", doc)
	}
	m := doc.Metadata
	if m.ResultID != "r-1" || m.ProcessingMs != 1200 || m.CapturedAt != "2026-05-04T09:30:00Z" {
		t.Errorf("metadata = %+v", m)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "screen-ocr" || m.Tags[1] != "desk-2" {
		t.Errorf("tags = %v", m.Tags)
	}
}

func TestKnowledgeSinkSkipsShortText(t *testing.T) {
	store := &fakeDocumentStore{}
	sink := NewKnowledgeSink(store, nil, 5)

	if err := sink.Deliver(context.Background(), ocr.Result{Text: "ok"}); err != nil {
		t.Fatal(err)
	}
	if len(store.docs) != 0 {
		t.Error("short text should not be stored")
	}
}

func TestKnowledgeSinkPropagatesError(t *testing.T) {
	store := &fakeDocumentStore{err: errors.New("unavailable")}
	sink := NewKnowledgeSink(store, nil, 0)

	if err := sink.Deliver(context.Background(), ocr.Result{Text: "hello"}); err == nil {
		t.Error("expected error")
	}
}
