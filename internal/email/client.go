// Package email sends newsletter issues through a Postmark compatible HTTP API.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root; requests go to BaseURL + "/email".
	BaseURL string
	// Sender is the From address.
	Sender string
	// AuthorizationToken is sent as X-Postmark-Server-Token.
	AuthorizationToken string
	// Timeout bounds each HTTP request. Default 10s.
	Timeout time.Duration
	// RateLimit caps sends per second. Zero means unlimited.
	RateLimit float64
	// Burst is the limiter burst size. Default 1.
	Burst int
}

// Client sends one email per call.
type Client struct {
	endpoint   string
	sender     string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid email base url %q", cfg.BaseURL)
	}
	endpoint := base.JoinPath("email")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		endpoint:   endpoint.String(),
		sender:     cfg.Sender,
		token:      cfg.AuthorizationToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}, nil
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// APIError is returned when the provider answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email api returned status %d: %s", e.StatusCode, e.Body)
}

// SendEmail delivers one email. It waits for the rate limiter before sending.
func (c *Client) SendEmail(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send rate limiter: %w", err)
	}

	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       recipient,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("encoding email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending email request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
