/**
 * Knowledge Client - document memory service
 *
 * Stores recognized screen text in a GraphRAG-style document service so
 * that past screen contents can be searched and recalled later. The
 * service chunks and embeds documents itself; this client only posts them.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/logging"
)

// KnowledgeClient handles communication with the document memory service
type KnowledgeClient struct {
	baseURL    string
	tenant     KnowledgeTenant
	httpClient *http.Client
	logger     *logging.Logger
}

// KnowledgeTenant is sent as X-Company-ID / X-App-ID / X-User-ID
type KnowledgeTenant struct {
	Company string
	App     string
	User    string
}

// KnowledgeDocumentRequest represents a document storage request
type KnowledgeDocumentRequest struct {
	Content  string                `json:"content"`
	Title    string                `json:"title"`
	Metadata KnowledgeDocumentMeta `json:"metadata,omitempty"`
}

// KnowledgeDocumentMeta contains document metadata
type KnowledgeDocumentMeta struct {
	Source       string   `json:"source,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Type         string   `json:"type,omitempty"`
	Engine       string   `json:"engine,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	ResultID     string   `json:"resultId,omitempty"`
	CapturedAt   string   `json:"capturedAt,omitempty"`
	ProcessingMs int64    `json:"processingMs,omitempty"`
}

// KnowledgeDocumentResponse represents the response from storing a document
type KnowledgeDocumentResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId,omitempty"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewKnowledgeClient creates a new knowledge client
func NewKnowledgeClient(baseURL string, tenant KnowledgeTenant) *KnowledgeClient {
	if tenant.App == "" {
		tenant.App = "screenocr"
	}
	if tenant.User == "" {
		tenant.User = "system"
	}
	return &KnowledgeClient{
		baseURL: baseURL,
		tenant:  tenant,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("KnowledgeClient"),
	}
}

// HealthCheck verifies the service is available
func (c *KnowledgeClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge service health check returned status %d", resp.StatusCode)
	}
	return nil
}

// StoreDocument stores content for chunking and search
func (c *KnowledgeClient) StoreDocument(ctx context.Context, req *KnowledgeDocumentRequest) (*KnowledgeDocumentResponse, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("document content is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphrag/api/documents", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create store request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.tenant.Company != "" {
		httpReq.Header.Set("X-Company-ID", c.tenant.Company)
	}
	httpReq.Header.Set("X-App-ID", c.tenant.App)
	httpReq.Header.Set("X-User-ID", c.tenant.User)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("knowledge service returned error status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result KnowledgeDocumentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-fatal: the document may still be stored
		c.logger.Warn("Failed to parse store response", "error", err)
		return &KnowledgeDocumentResponse{Success: true, Message: "stored (response parse warning)"}, nil
	}

	if !result.Success {
		return &result, fmt.Errorf("knowledge service rejected document: %s", result.Error)
	}

	c.logger.Debug("Document stored", "id", result.DocumentID, "chunks", result.ChunkCount)
	return &result, nil
}
