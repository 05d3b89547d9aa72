// Package marketplace pushes production status to the external marketplace API.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

const (
	updatePath     = "/production/update"
	defaultTimeout = 10 * time.Second
	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// UpdatePayload is the body POSTed to the marketplace for one feedback record.
type UpdatePayload struct {
	ProductionID         string  `json:"production_id"`
	BatchID              string  `json:"batch_id"`
	ProductID            string  `json:"product_id"`
	Status               string  `json:"status"`
	CompletionPercentage float64 `json:"completion_percentage"`
	QuantityProduced     int     `json:"quantity_produced"`
	QuantityRejected     int     `json:"quantity_rejected"`
	EstimatedCompletion  *string `json:"estimated_completion"`
	Notes                string  `json:"notes"`
}

// NewUpdatePayload builds the marketplace view of a feedback record.
func NewUpdatePayload(fb *model.FeedbackRecord) UpdatePayload {
	notes := fb.CustomerNotes
	if notes == "" {
		notes = fb.Notes
	}
	return UpdatePayload{
		ProductionID:         fb.ProductionID,
		BatchID:              fb.BatchID,
		ProductID:            fb.ProductID,
		Status:               string(fb.Status),
		CompletionPercentage: fb.CompletionPercentage,
		QuantityProduced:     fb.QuantityProduced,
		QuantityRejected:     fb.QuantityRejected,
		EstimatedCompletion:  utils.FormatISO8601Ptr(fb.EndDate),
		Notes:                notes,
	}
}

// Pusher sends updates to the marketplace.
type Pusher interface {
	PushUpdate(ctx context.Context, payload UpdatePayload) error
	Configured() bool
}

// Client is the HTTP implementation of Pusher.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Pusher = (*Client)(nil)

// NewClient creates a marketplace client from configuration.
func NewClient(cfg config.MarketplaceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether a marketplace URL was provided.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// PushUpdate POSTs the payload. Any non-2xx response is an error wrapping
// apperrors.ErrExternalDependency.
func (c *Client) PushUpdate(ctx context.Context, payload UpdatePayload) error {
	if !c.Configured() {
		return fmt.Errorf("%w: marketplace URL not configured", apperrors.ErrExternalDependency)
	}
	log := logger.FromContext(ctx).With(zap.String("batch_id", payload.BatchID))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal marketplace payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + updatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create marketplace request: %v", apperrors.ErrExternalDependency, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("Marketplace request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w: marketplace request: %v", apperrors.ErrExternalDependency, apperrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: marketplace request: %v", apperrors.ErrExternalDependency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn("Marketplace rejected update",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", snippet),
			zap.Duration("duration", time.Since(start)),
		)
		return fmt.Errorf("%w: marketplace returned status %d: %s", apperrors.ErrExternalDependency, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug("Marketplace update accepted", zap.Int("status_code", resp.StatusCode), zap.Duration("duration", time.Since(start)))
	return nil
}
