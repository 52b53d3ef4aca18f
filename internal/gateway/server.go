package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/postgate/internal/audit"
	"github.com/MEKXH/postgate/internal/channel/webhook"
	"github.com/MEKXH/postgate/internal/config"
	"github.com/MEKXH/postgate/internal/gate"
	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/MEKXH/postgate/internal/metrics"
	"github.com/MEKXH/postgate/internal/version"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultHistoryLimit  = 50
	defaultMaxRequestTTL = 3600
	maxBodyBytes         = 1 << 20
)

// Authority is the gate behind the HTTP surface. *gate.Service implements it.
type Authority interface {
	RequestApproval(ctx context.Context, in gate.RequestInput) (gate.Ticket, error)
	PollStatus(id string) (gate.StatusView, error)
	Redeem(ctx context.Context, value, platform, action string) gate.Verdict
	Health() gate.Health
	History(n int) []audit.Entry
	Metrics() metrics.Snapshot
}

// InboundFunc accepts a decision posted to /decision-webhook.
type InboundFunc func(ctx context.Context, in webhook.Inbound) error

type Server struct {
	cfg        config.GatewayConfig
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, authority Authority, inbound InboundFunc) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18790
	}

	cfg.Host = host
	cfg.Port = port
	s := &Server{
		cfg:     cfg,
		handler: NewHandler(cfg, authority, inbound),
	}
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Handler returns the HTTP handler served by Start.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	token     string
	authority Authority
	inbound   InboundFunc
	limiter   *rate.Limiter
	maxTTL    int
}

// NewHandler builds the gateway mux. Every endpoint except /health requires
// the bearer token when one is configured.
func NewHandler(cfg config.GatewayConfig, authority Authority, inbound InboundFunc) http.Handler {
	h := &handler{
		token:     strings.TrimSpace(cfg.Token),
		authority: authority,
		inbound:   inbound,
		maxTTL:    cfg.MaxRequestTTL,
	}
	if h.maxTTL <= 0 {
		h.maxTTL = defaultMaxRequestTTL
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerMinute/60), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.method(http.MethodGet, false, h.health))
	mux.HandleFunc("/version", h.method(http.MethodGet, true, h.version))
	mux.HandleFunc("/request-approval", h.method(http.MethodPost, true, h.requestApproval))
	mux.HandleFunc("/status/", h.method(http.MethodGet, true, h.status))
	mux.HandleFunc("/decision-webhook", h.method(http.MethodPost, true, h.decisionWebhook))
	mux.HandleFunc("/redeem", h.method(http.MethodPost, true, h.redeem))
	mux.HandleFunc("/history", h.method(http.MethodGet, true, h.history))
	mux.HandleFunc("/metrics", h.method(http.MethodGet, true, h.metrics))
	return mux
}

type endpoint func(w http.ResponseWriter, r *http.Request, requestID string)

func (h *handler) method(method string, auth bool, next endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		if r.Method != method {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if auth && h.token != "" && !isAuthorized(r, h.token) {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		if h.authority == nil && r.URL.Path != "/version" {
			writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "gate is not configured")
			return
		}
		next(w, r, requestID)
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request, requestID string) {
	health := h.authority.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           health.Status,
		"pendingCount":     health.PendingCount,
		"activeTokenCount": health.ActiveTokenCount,
		"uptime":           health.Uptime.Seconds(),
		"request_id":       requestID,
	})
}

func (h *handler) version(w http.ResponseWriter, r *http.Request, requestID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"request_id": requestID,
	})
}

type approvalRequestBody struct {
	Platform   string `json:"platform"`
	Action     string `json:"action"`
	Content    string `json:"content"`
	Target     string `json:"target"`
	TTLSeconds int    `json:"ttlSeconds"`
}

func (h *handler) requestApproval(w http.ResponseWriter, r *http.Request, requestID string) {
	if h.limiter != nil {
		if res := h.limiter.Reserve(); !res.OK() || res.Delay() > 0 {
			retryAfter := 1
			if res.OK() {
				retryAfter = int(math.Ceil(res.Delay().Seconds()))
				res.Cancel()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many approval requests")
			return
		}
	}

	var body approvalRequestBody
	if !decodeBody(w, r, requestID, &body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "content is required")
		return
	}
	if body.TTLSeconds < 0 {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "ttlSeconds must not be negative")
		return
	}
	if body.TTLSeconds > h.maxTTL {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("ttlSeconds must not exceed %d", h.maxTTL))
		return
	}

	ticket, err := h.authority.RequestApproval(r.Context(), gate.RequestInput{
		Platform: body.Platform,
		Action:   body.Action,
		Content:  body.Content,
		Target:   body.Target,
		TTL:      time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		slog.Error("approval request failed", "request_id", requestID, "error", err)
		writeGateError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":   ticket.RequestID,
		"status":      ticket.Status,
		"approvalUrl": ticket.ApprovalURL,
		"expiresAt":   ticket.ExpiresAt,
		"request_id":  requestID,
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request, requestID string) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/status/"))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "request id is required")
		return
	}
	view, err := h.authority.PollStatus(id)
	if err != nil {
		writeGateError(w, requestID, err)
		return
	}
	resp := map[string]any{
		"requestId":  view.RequestID,
		"status":     view.Status,
		"platform":   view.Platform,
		"action":     view.Action,
		"expiresAt":  view.ExpiresAt,
		"request_id": requestID,
	}
	if view.DecidedBy != "" {
		resp["decidedBy"] = view.DecidedBy
		resp["decidedAt"] = view.DecidedAt
	}
	if view.Token != "" {
		resp["token"] = view.Token
		resp["tokenExpiresAt"] = view.TokenExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) decisionWebhook(w http.ResponseWriter, r *http.Request, requestID string) {
	var in webhook.Inbound
	if !decodeBody(w, r, requestID, &in) {
		return
	}
	if h.inbound == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "unavailable", "decision webhook is not configured")
		return
	}
	ctx := r.Context()
	if err := h.inbound(ctx, in); err != nil {
		slog.Warn("decision webhook rejected", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"request_id": requestID,
	})
}

type redeemBody struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
	Action   string `json:"action"`
}

func (h *handler) redeem(w http.ResponseWriter, r *http.Request, requestID string) {
	var body redeemBody
	if !decodeBody(w, r, requestID, &body) {
		return
	}
	verdict := h.authority.Redeem(r.Context(), body.Token, body.Platform, body.Action)
	resp := map[string]any{
		"allowed":    verdict.Allowed,
		"request_id": requestID,
	}
	if verdict.Reason != "" {
		resp["reason"] = verdict.Reason
	}
	if verdict.RequestID != "" {
		resp["requestId"] = verdict.RequestID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request, requestID string) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries := h.authority.History(limit)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"request_id": requestID,
	})
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request, requestID string) {
	writeJSON(w, http.StatusOK, h.authority.Metrics())
}

func decodeBody(w http.ResponseWriter, r *http.Request, requestID string, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return false
	}
	return true
}

// statusFor maps a gate error kind to its HTTP status and code.
func statusFor(err error) (int, string) {
	kind := gateerr.KindOf(err)
	switch kind {
	case gateerr.NotFound:
		return http.StatusNotFound, string(kind)
	case gateerr.AlreadyDecided:
		return http.StatusConflict, string(kind)
	case gateerr.Expired:
		return http.StatusGone, string(kind)
	case gateerr.ScopeMismatch:
		return http.StatusForbidden, string(kind)
	case gateerr.UpstreamUnavailable:
		return http.StatusBadGateway, string(kind)
	case gateerr.InvalidInput:
		return http.StatusBadRequest, string(kind)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeGateError(w http.ResponseWriter, requestID string, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	var gerr *gateerr.Error
	if errors.As(err, &gerr) && gerr.Msg != "" {
		msg = gerr.Msg
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, requestID, status, code, msg)
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
