// Package risk integrates the external risk classification service. The
// classifier only influences presentation ordering, so every failure path
// degrades to the non-priority default instead of blocking a booking.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierLow  Tier = "LOW"
	TierHigh Tier = "HIGH"
)

// ErrNoClassification means the service has no risk record for the patient.
var ErrNoClassification = errors.New("no risk classification for patient")

// Classifier returns a patient's latest risk tier.
type Classifier interface {
	LatestTier(ctx context.Context, patientID uuid.UUID) (Tier, error)
}

type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClassifier(baseURL string) *HTTPClassifier {
	return &HTTPClassifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

type tierResponse struct {
	Tier Tier `json:"tier"`
}

func (c *HTTPClassifier) LatestTier(ctx context.Context, patientID uuid.UUID) (Tier, error) {
	url := fmt.Sprintf("%s/patients/%s/risk", c.baseURL, patientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build risk request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call risk service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNoClassification
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("risk service returned %d", resp.StatusCode)
	}

	var body tierResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode risk response: %w", err)
	}

	if body.Tier != TierLow && body.Tier != TierHigh {
		return "", fmt.Errorf("unknown risk tier %q", body.Tier)
	}

	return body.Tier, nil
}

// NoopClassifier is used when no risk service is configured.
type NoopClassifier struct{}

func (NoopClassifier) LatestTier(ctx context.Context, patientID uuid.UUID) (Tier, error) {
	return "", ErrNoClassification
}
