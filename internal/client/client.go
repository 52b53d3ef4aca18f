// Package client talks to a running postgate gateway over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/google/uuid"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 2 * time.Second
	maxResponseBytes    = 1024 * 1024
)

// Client is a thin HTTP client for the gateway endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("server url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type ticketResponse struct {
	RequestID   string    `json:"requestId"`
	Status      string    `json:"status"`
	ApprovalURL string    `json:"approvalUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RequestApproval asks the gateway to put a request in front of a human.
func (c *Client) RequestApproval(ctx context.Context, in gate.RequestInput) (gate.Ticket, error) {
	body := map[string]any{
		"platform": in.Platform,
		"action":   in.Action,
		"content":  in.Content,
		"target":   in.Target,
	}
	if in.TTL > 0 {
		body["ttlSeconds"] = int(in.TTL / time.Second)
	}
	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/request-approval", body, &resp); err != nil {
		return gate.Ticket{}, fmt.Errorf("request approval: %w", err)
	}
	return gate.Ticket{
		RequestID:   resp.RequestID,
		Status:      resp.Status,
		ApprovalURL: resp.ApprovalURL,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}

type statusResponse struct {
	RequestID      string    `json:"requestId"`
	Status         string    `json:"status"`
	Platform       string    `json:"platform"`
	Action         string    `json:"action"`
	ExpiresAt      time.Time `json:"expiresAt"`
	DecidedBy      string    `json:"decidedBy"`
	DecidedAt      time.Time `json:"decidedAt"`
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// Status returns the current state of a request.
func (c *Client) Status(ctx context.Context, requestID string) (gate.StatusView, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return gate.StatusView{}, gateerr.New(gateerr.InvalidInput, "status", "request id is required")
	}
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(requestID), nil, &resp); err != nil {
		return gate.StatusView{}, fmt.Errorf("status %s: %w", requestID, err)
	}
	return gate.StatusView{
		RequestID:      resp.RequestID,
		Status:         approval.RequestStatus(resp.Status),
		Platform:       resp.Platform,
		Action:         resp.Action,
		Token:          resp.Token,
		TokenExpiresAt: resp.TokenExpiresAt,
		ExpiresAt:      resp.ExpiresAt,
		DecidedBy:      resp.DecidedBy,
		DecidedAt:      resp.DecidedAt,
	}, nil
}

type redeemResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId"`
}

// Redeem consumes a token for the given scope. Any failure to reach a verdict
// is a denial.
func (c *Client) Redeem(ctx context.Context, token, platform, action string) gate.Verdict {
	var resp redeemResponse
	err := c.do(ctx, http.MethodPost, "/redeem", map[string]string{
		"token":    token,
		"platform": platform,
		"action":   action,
	}, &resp)
	if err != nil {
		return gate.Verdict{Allowed: false, Reason: gate.ReasonUnavailable}
	}
	if !resp.Allowed && resp.Reason == "" {
		resp.Reason = gate.ReasonUnavailable
	}
	return gate.Verdict{Allowed: resp.Allowed, Reason: resp.Reason, RequestID: resp.RequestID}
}

// WaitForDecision polls the request until it leaves pending or ctx ends.
// A zero interval uses the default.
func (c *Client) WaitForDecision(ctx context.Context, requestID string, interval time.Duration) (gate.StatusView, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.Status(ctx, requestID)
		if err != nil {
			return view, err
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HealthView is the /health payload.
type HealthView struct {
	Status           string  `json:"status"`
	PendingCount     int     `json:"pendingCount"`
	ActiveTokenCount int     `json:"activeTokenCount"`
	Uptime           float64 `json:"uptime"` // seconds
}

// UptimeDuration returns Uptime rounded to whole seconds.
func (h HealthView) UptimeDuration() time.Duration {
	return time.Duration(h.Uptime * float64(time.Second)).Round(time.Second)
}

// Health reports the gateway liveness summary.
func (c *Client) Health(ctx context.Context) (HealthView, error) {
	var resp HealthView
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return HealthView{}, fmt.Errorf("health: %w", err)
	}
	return resp, nil
}

// History returns up to limit recent audit entries, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]audit.Entry, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return resp.Entries, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gateerr.Wrap(gateerr.UpstreamUnavailable, "gateway", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gateerr.Wrap(gateerr.UpstreamUnavailable, "gateway", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body back into a classified error when the code
// names a gate error kind.
func decodeError(status int, data []byte) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)
	msg := strings.TrimSpace(er.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch kind := gateerr.Kind(er.Code); kind {
	case gateerr.NotFound, gateerr.AlreadyDecided, gateerr.Expired,
		gateerr.ScopeMismatch, gateerr.UpstreamUnavailable, gateerr.InvalidInput:
		return gateerr.New(kind, "gateway", msg)
	}
	if status == http.StatusBadRequest {
		return gateerr.New(gateerr.InvalidInput, "gateway", msg)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return gateerr.New(gateerr.UpstreamUnavailable, "gateway", fmt.Sprintf("status %d: %s", status, msg))
	}
	return fmt.Errorf("gateway returned status %d: %s", status, msg)
}
