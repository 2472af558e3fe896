package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	analyticsApp "github.com/vantagecommodities/vantage/internal/analytics/application"
	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	assistantApp "github.com/vantagecommodities/vantage/internal/assistant/application"
	identityApp "github.com/vantagecommodities/vantage/internal/identity/application"
	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
	marketApp "github.com/vantagecommodities/vantage/internal/market/application"
	marketDomain "github.com/vantagecommodities/vantage/internal/market/domain"
	usageApp "github.com/vantagecommodities/vantage/internal/usage/application"
	usageDomain "github.com/vantagecommodities/vantage/internal/usage/domain"
)

// maxWebhookBody caps webhook payload reads; Stripe events are well under
// this.
const maxWebhookBody = 1 << 20

// WebhookProcessor verifies and ingests one billing webhook delivery.
type WebhookProcessor interface {
	HandleDelivery(ctx context.Context, body []byte, signatureHeader string) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	assistant *assistantApp.Assistant
	market    *marketApp.Aggregator
	webhook   WebhookProcessor
	usage     *usageApp.Tracker
	analytics *analyticsApp.Recorder
	identity  *identityApp.Service
	logger    *slog.Logger
}

func NewHandler(
	assistant *assistantApp.Assistant,
	market *marketApp.Aggregator,
	webhook WebhookProcessor,
	usage *usageApp.Tracker,
	analytics *analyticsApp.Recorder,
	identity *identityApp.Service,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		assistant: assistant,
		market:    market,
		webhook:   webhook,
		usage:     usage,
		analytics: analytics,
		identity:  identity,
		logger:    logger,
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Chat answers a client message. Processing failures never surface: the
// assistant degrades to an apology instead. The only rejections are a bad
// body and a subscriber over their plan's api-call allowance.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if user, ok := UserFromContext(r.Context()); ok {
		// Accounts without a subscription carry no plan quota; the rate
		// limiter is their only ceiling.
		if user.SubscriptionPlan != "" {
			within, err := h.usage.CheckLimit(r.Context(), user.ID, user.SubscriptionPlan)
			if err != nil {
				h.logger.Error("failed to check usage limit", "user_id", user.ID, "error", err)
			} else if !within {
				writeError(w, http.StatusTooManyRequests, "Plan usage limit exceeded")
				return
			}
		}
		if err := h.usage.Track(r.Context(), user.ID, usageDomain.MetricAPICalls, 1); err != nil {
			h.logger.Warn("failed to track api call", "user_id", user.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  h.assistant.Reply(r.Context(), req.Message),
		Timestamp: time.Now().UTC(),
		Status:    "success",
	})
}

type marketOverviewResponse struct {
	Data     *marketDomain.Overview `json:"data"`
	Analysis string                 `json:"analysis"`
}

// MarketOverview serves the aggregate market snapshot.
func (h *Handler) MarketOverview(w http.ResponseWriter, r *http.Request) {
	overview := h.market.Overview(r.Context())
	writeJSON(w, http.StatusOK, marketOverviewResponse{
		Data:     overview,
		Analysis: overview.Summary,
	})
}

// BillingWebhook ingests provider events. Only a signature failure is
// rejected; a processing failure still returns 200 so the provider does not
// redeliver an event whose mirror write already committed.
func (h *Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := h.webhook.HandleDelivery(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Warn("webhook delivery rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// RegisterUser provisions a member account. Like the webhook, this route
// sits outside session auth: the edge calls it at signup, before a user id
// exists to forward.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.identity.Register(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, identityDomain.ErrEmailRequired):
			writeError(w, http.StatusBadRequest, "Email is required")
		case errors.Is(err, identityDomain.ErrEmailTaken):
			writeError(w, http.StatusConflict, "Email already registered")
		default:
			h.logger.Error("failed to register user", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		CreatedAt:   user.CreatedAt,
	})
}

// OwnUsage returns the caller's usage counters.
func (h *Handler) OwnUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	metrics, err := h.usage.GetUsage(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to load usage", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// AdminMetrics serves the aggregate subscription metrics for a date range
// (default: last 30 days).
func (h *Handler) AdminMetrics(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := h.analytics.ComputeMetrics(r.Context(), start, end)
	if err != nil {
		h.logger.Error("failed to compute metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// AdminRevenue serves revenue grouped by plan.
func (h *Handler) AdminRevenue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analytics.RevenueByPlan(r.Context()))
}

// AdminRecentEvents serves the subscription event log for a date range,
// newest first.
func (h *Handler) AdminRecentEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := parsePositiveInt(raw); err == nil {
			limit = parsed
		}
	}

	events, err := h.analytics.RecentEvents(r.Context(), start, end, limit)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []analyticsDomain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AdminTopUsage serves the api-call leaderboard.
func (h *Handler) AdminTopUsage(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := parsePositiveInt(raw); err == nil {
			n = parsed
		}
	}

	entries, err := h.usage.TopUsers(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to load leaderboard", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AdminUserUsage serves one user's counters.
func (h *Handler) AdminUserUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	metrics, err := h.usage.GetUsage(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load usage", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// AdminDeleteUser queues account deletion. The response is 202: cleanup
// runs asynchronously via the event pipeline.
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.identity.RequestDeletion(r.Context(), userID); err != nil {
		if errors.Is(err, identityDomain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("failed to request deletion", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to request deletion")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deletion queued"})
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start must be YYYY-MM-DD")
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be YYYY-MM-DD")
		}
		// Inclusive end of day.
		end = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end must not precede start")
	}
	return start, end, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}
