package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Caller is the request/response persona channel: one call, one reply, bearer
// token attached. Used for intent classification, the triage flow, and the
// history store.
type Caller struct {
	httpClient *http.Client
	log        *logrus.Entry
}

// NewCaller creates a caller with a sane request timeout.
func NewCaller() *Caller {
	return &Caller{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        logrus.WithField("component", "channel"),
	}
}

// PostJSON posts payload to url and decodes the reply into out. Transport
// failures wrap ErrNetwork, non-2xx replies return a *RemoteError, and a body
// that does not decode wraps ErrMalformedResponse.
func (c *Caller) PostJSON(ctx context.Context, url, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, out)
}

// GetJSON issues a bearer-authenticated GET and decodes the reply into out.
func (c *Caller) GetJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, out)
}

func (c *Caller) do(req *http.Request, out any) error {
	// Correlates client logs with server-side traces.
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	c.log.WithFields(logrus.Fields{
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond).String(),
		"request":  reqID,
	}).Debug("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
