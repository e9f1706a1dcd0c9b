// Package gateway is the HTTP ingress for conversation connectors.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/warden/internal/auth"
	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/dispatch"
	"github.com/af-corp/warden/internal/httputil"
	"github.com/af-corp/warden/internal/pipeline"
	"github.com/af-corp/warden/internal/ratelimit"
	"github.com/af-corp/warden/internal/telemetry"
	"github.com/af-corp/warden/internal/types"
)

// Handler holds dependencies for the ingress HTTP handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	surface  *ratelimit.SurfaceLimiter
	cfg      func() *config.Config
	metrics  *telemetry.Metrics
}

func NewHandler(p *pipeline.Pipeline, surface *ratelimit.SurfaceLimiter, cfg func() *config.Config, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		pipeline: p,
		surface:  surface,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// requestBody is the connector-facing request payload.
type requestBody struct {
	UserID         string            `json:"user_id"`
	Text           string            `json:"text"`
	ToolName       string            `json:"tool_name,omitempty"`
	ToolArgs       map[string]string `json:"tool_args,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

// responseBody is the connector-facing response payload.
type responseBody struct {
	RequestID        string      `json:"request_id"`
	Kind             string      `json:"kind"`
	Content          string      `json:"content"`
	Provider         string      `json:"provider,omitempty"`
	ToolName         string      `json:"tool_name,omitempty"`
	Usage            types.Usage `json:"usage,omitempty"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd,omitempty"`
	Warnings         []string    `json:"warnings,omitempty"`
}

// HandleRequest handles POST /v1/requests.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("X-Request-ID", reqID)
	receivedAt := time.Now()

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	// Coarse per-surface limit ahead of everything else, to shed raw
	// volume before any scoring work.
	surfaceCfg := h.cfg().RateLimit.Surface
	if surfaceCfg.Enabled && h.surface != nil {
		res, err := h.surface.Check(r.Context(), authInfo.SurfaceID, surfaceCfg.Limit, surfaceCfg.Window)
		if err == nil && !res.Allowed {
			httputil.WriteRateLimitError(w, reqID, "Surface request volume exceeded", time.Until(res.ResetAt))
			return
		}
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if body.UserID == "" {
		httputil.WriteBadRequestError(w, reqID, "user_id is required")
		return
	}
	if body.Text == "" && body.ToolName == "" {
		httputil.WriteBadRequestError(w, reqID, "text or tool_name is required")
		return
	}

	req := &types.Request{
		ID:             reqID,
		UserID:         body.UserID,
		SurfaceID:      authInfo.SurfaceID,
		Tier:           authInfo.Tier,
		Text:           body.Text,
		ToolName:       body.ToolName,
		ToolArgs:       body.ToolArgs,
		ConversationID: body.ConversationID,
		ReceivedAt:     receivedAt,
	}

	resp, err := h.pipeline.Process(r.Context(), req)
	duration := time.Since(receivedAt)

	if err != nil {
		h.writeProcessError(w, req, err, duration)
		return
	}

	slog.Info("request completed",
		"request_id", reqID,
		"surface_id", req.SurfaceID,
		"kind", string(resp.Kind),
		"provider", resp.Provider,
		"total_tokens", resp.Usage.TotalTokens,
		"estimated_cost_usd", resp.EstimatedCostUSD,
		"duration_ms", duration.Milliseconds(),
	)

	if h.metrics != nil {
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Surface:          req.SurfaceID,
			Tier:             string(req.Tier),
			Kind:             string(resp.Kind),
			Status:           "completed",
			Provider:         resp.Provider,
			Complexity:       string(resp.Complexity),
			DurationMs:       float64(duration.Milliseconds()),
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CostUSD:          resp.EstimatedCostUSD,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responseBody{
		RequestID:        resp.RequestID,
		Kind:             string(resp.Kind),
		Content:          resp.Content,
		Provider:         resp.Provider,
		ToolName:         resp.ToolName,
		Usage:            resp.Usage,
		EstimatedCostUSD: resp.EstimatedCostUSD,
		Warnings:         resp.Warnings,
	})
}

// writeProcessError maps pipeline taxonomy errors to HTTP status codes.
func (h *Handler) writeProcessError(w http.ResponseWriter, req *types.Request, err error, duration time.Duration) {
	var (
		sanErr  *pipeline.SanitizerError
		polErr  *pipeline.PolicyError
		vetErr  *pipeline.VettingError
		rlErr   *pipeline.RateLimitError
		concErr *pipeline.ConcurrencyError
		toErr   *pipeline.TimeoutError
		provErr *dispatch.ProviderError
	)

	status := "failed"
	switch {
	case errors.As(err, &sanErr):
		status = "blocked"
		httputil.WriteContentBlockedError(w, req.ID, "Request blocked by content screening")
	case errors.As(err, &polErr):
		status = "denied"
		httputil.WritePolicyDeniedError(w, req.ID, polErr.Error())
	case errors.As(err, &vetErr):
		status = "denied"
		httputil.WritePolicyDeniedError(w, req.ID, vetErr.Error())
	case errors.As(err, &rlErr):
		status = "rate_limited"
		httputil.WriteRateLimitError(w, req.ID, "Rate limit exceeded", rlErr.RetryAfter)
	case errors.As(err, &concErr):
		status = "rate_limited"
		httputil.WriteConcurrencyError(w, req.ID, concErr.Error())
	case errors.As(err, &toErr):
		status = "timeout"
		httputil.WriteTimeoutError(w, req.ID, toErr.Error())
	case errors.Is(err, dispatch.ErrBudgetExceeded):
		status = "budget_exceeded"
		httputil.WriteBudgetExceededError(w, req.ID, "Daily provider budgets exhausted")
	case errors.As(err, &provErr):
		httputil.WriteServiceUnavailableError(w, req.ID, "Provider request failed")
	default:
		slog.Error("request failed", "request_id", req.ID, "error", err)
		httputil.WriteInternalError(w, req.ID, "Internal error")
	}

	if h.metrics != nil {
		kind := "generation"
		if req.WantsTool() {
			kind = "tool"
		}
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Surface:    req.SurfaceID,
			Tier:       string(req.Tier),
			Kind:       kind,
			Status:     status,
			DurationMs: float64(duration.Milliseconds()),
		})
	}
}

// Health handles GET /warden/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
