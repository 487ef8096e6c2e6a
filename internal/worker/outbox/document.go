package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arcsolve/relay/internal/dal/interfaces/idocumentrepo"
	"github.com/arcsolve/relay/internal/service/models/document"
	model "github.com/arcsolve/relay/internal/service/models/outbox"
)

// documentPayload is the outbox payload of an ingest trigger row.
type documentPayload struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

// DocumentPublisher executes one-shot ingest triggers: it flips the document
// to processing, requests a parse from the sidecar, and marks the document
// processed. Parsing can run for minutes, so the request timeout is long but
// still bounded.
type DocumentPublisher struct {
	documentRepo idocumentrepo.IDocumentRepository
	baseURL      string
	httpClient   *http.Client
}

// NewDocumentPublisher creates a publisher for the one-shot document profile.
func NewDocumentPublisher(
	documentRepo idocumentrepo.IDocumentRepository,
	baseURL string,
	requestTimeout time.Duration,
) *DocumentPublisher {
	if requestTimeout == 0 {
		requestTimeout = 10 * time.Minute
	}

	return &DocumentPublisher{
		documentRepo: documentRepo,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

func (p *DocumentPublisher) Publish(ctx context.Context, row model.Row) error {
	payload, err := parseDocumentPayload(row)
	if err != nil {
		return err
	}

	found, err := p.documentRepo.SetProcessingStatus(
		ctx,
		payload.DocumentID,
		payload.UserID,
		document.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}
	if !found {
		return Permanent(fmt.Errorf(
			"document not found: document_id=%s user_id=%s",
			payload.DocumentID, payload.UserID,
		))
	}

	if err := p.requestParse(ctx, payload); err != nil {
		return err
	}

	if _, err := p.documentRepo.SetProcessingStatus(
		ctx,
		payload.DocumentID,
		payload.UserID,
		document.StatusProcessed,
	); err != nil {
		return fmt.Errorf("failed to mark document processed: %w", err)
	}

	return nil
}

func (p *DocumentPublisher) requestParse(ctx context.Context, payload documentPayload) error {
	endpoint := fmt.Sprintf(
		"%s/internal/documents/%s/parse",
		p.baseURL,
		url.PathEscape(payload.DocumentID),
	)

	body, err := json.Marshal(map[string]string{"user_id": payload.UserID})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode parse request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request document parse: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sidecar returned %s", resp.Status)
	}

	return nil
}

// MarkFailed is the OnDead compensation of the document profile: with no
// retry coming, the failure must be visible on the owning entity itself.
func (p *DocumentPublisher) MarkFailed(ctx context.Context, row model.Row, cause error) {
	payload, err := parseDocumentPayload(row)
	if err != nil {
		slog.Error("Cannot mark document failed, payload unreadable",
			"outbox_id", row.ID,
			"error", err,
		)

		return
	}

	if _, err := p.documentRepo.SetProcessingStatus(
		ctx,
		payload.DocumentID,
		payload.UserID,
		document.StatusFailed,
	); err != nil {
		slog.Error("Failed to mark document failed",
			"outbox_id", row.ID,
			"document_id", payload.DocumentID,
			"cause", cause,
			"error", err,
		)
	}
}

func parseDocumentPayload(row model.Row) (documentPayload, error) {
	var payload documentPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return payload, Permanent(fmt.Errorf("malformed document payload: %w", err))
	}
	if payload.DocumentID == "" || payload.UserID == "" {
		return payload, Permanent(fmt.Errorf(
			"invalid document payload for row %d: missing document_id/user_id", row.ID,
		))
	}

	return payload, nil
}
