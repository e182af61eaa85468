package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yshr-dev/felica-agent/internal/felica"
)

const userAgent = "felica-agent/1.0"

// Sender delivers one payload per successful card read to the webhook
// endpoint. No retry, no backoff; a failed POST is the caller's problem
// to log and drop.
type Sender struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewSender builds a sender with a bounded timeout. The original system
// had no timeout at all; the bound is a hardening addition so a dead
// endpoint cannot wedge the read loop forever.
func NewSender(endpoint, token string, timeout time.Duration) *Sender {
	return &Sender{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send POSTs the payload as JSON with the bearer token. The response
// body is discarded; only the status code is observed, for logging.
func (s *Sender) Send(ctx context.Context, payload *felica.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook post: unexpected status %s", resp.Status)
	}

	log.Infof("webhook delivered: idm=%s records=%d status=%s", payload.IDm, len(payload.SuicaHistory), resp.Status)
	return nil
}
