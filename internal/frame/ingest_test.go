package frame

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIngestHandlerPublishes(t *testing.T) {
	inbox := NewLatestSource()
	h := IngestHandler(inbox)

	req := httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader("pixels"))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("X-Frame-Source", "window:terminal")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	f, ok := inbox.TryAcquire()
	if !ok {
		t.Fatal("frame not published")
	}
	if string(f.Data) != "pixels" || f.Format != "png" || f.Source != "window:terminal" {
		t.Errorf("frame = %+v", f)
	}
}

func TestIngestHandlerRejects(t *testing.T) {
	inbox := NewLatestSource()
	h := IngestHandler(inbox)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"empty body", http.MethodPost, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/frames", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if inbox.Stats().Published != 0 {
		t.Error("rejected requests must not publish")
	}
}
