// Package handlers exposes the relay operations over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/klaviyo-relay/internal/analytics"
	"github.com/telhawk-systems/klaviyo-relay/internal/dispatch"
	"github.com/telhawk-systems/klaviyo-relay/internal/httputil"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/models"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
	"github.com/telhawk-systems/klaviyo-relay/internal/validator"
)

type Handler struct {
	analytics *analytics.Service
	dispatch  *dispatch.Service
	repo      repository.Repository
	logger    *logging.Logger
}

func NewHandler(analyticsSvc *analytics.Service, dispatchSvc *dispatch.Service, repo repository.Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		analytics: analyticsSvc,
		dispatch:  dispatchSvc,
		repo:      repo,
		logger:    logger,
	}
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateEvent handles POST /api/v1/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.dispatch.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to send event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// CreateBulkEvents handles POST /api/v1/events/bulk
func (h *Handler) CreateBulkEvents(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBulkEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.logger.InfoContext(r.Context(), "sending bulk events",
		logging.Count(int64(len(req.Events))),
		"mode", h.dispatch.BulkMode(),
	)
	httputil.WriteJSON(w, http.StatusCreated, h.dispatch.SubmitBulk(r.Context(), req.Events))
}

// ListEvents handles GET /api/v1/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize, err := httputil.ParseIntParam(q.Get("pageSize"), 0)
	if err != nil || pageSize < 0 || pageSize > klaviyo.MaxPageSize {
		h.badRequest(w, "pageSize must be between 1 and 100")
		return
	}

	page, err := h.analytics.EventsPage(r.Context(), q.Get("metricName"), q.Get("cursor"), pageSize)
	if err != nil {
		h.fail(w, r, "Failed to fetch events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// AllEvents handles GET /api/v1/analytics/events
func (h *Handler) AllEvents(w http.ResponseWriter, r *http.Request) {
	window, ok := h.window(w, r)
	if !ok {
		return
	}

	events, err := h.analytics.AllEvents(r.Context(), r.URL.Query().Get("metricId"), window)
	if err != nil {
		h.fail(w, r, "Failed to fetch events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// EventsByEmailAndDate handles GET /api/v1/analytics/events-by-email-date
func (h *Handler) EventsByEmailAndDate(w http.ResponseWriter, r *http.Request) {
	email, ok := h.required(w, r, "email")
	if !ok {
		return
	}
	date, ok := h.date(w, r)
	if !ok {
		return
	}

	out, err := h.analytics.EventsByEmailAndDate(r.Context(), email, date)
	if err != nil {
		h.fail(w, r, "Failed to fetch events by email", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// ListMetrics handles GET /api/v1/metrics
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	all, err := h.analytics.ListMetrics(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to fetch metrics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   len(all),
		"data":    all,
	})
}

// MetricCounts handles GET /api/v1/metrics/counts
func (h *Handler) MetricCounts(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}

	out, err := h.analytics.MetricCountsByDate(r.Context(), date)
	if err != nil {
		h.fail(w, r, "Failed to fetch metric counts", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// MetricByName handles GET /api/v1/metrics/by-name
func (h *Handler) MetricByName(w http.ResponseWriter, r *http.Request) {
	name, ok := h.required(w, r, "name")
	if !ok {
		return
	}
	date, ok := h.date(w, r)
	if !ok {
		return
	}

	out, err := h.analytics.MetricByNameAndDate(r.Context(), name, date)
	if err != nil {
		h.fail(w, r, "Failed to fetch metric summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// ProfileByEmail handles GET /api/v1/profiles
func (h *Handler) ProfileByEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := h.required(w, r, "email")
	if !ok {
		return
	}

	profile, err := h.analytics.ProfileByEmail(r.Context(), email)
	if err != nil {
		h.fail(w, r, "Failed to fetch profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"email":             email,
		"profileAttributes": profile.Attributes,
	})
}

// ProfileMetrics handles GET /api/v1/profiles/metrics
func (h *Handler) ProfileMetrics(w http.ResponseWriter, r *http.Request) {
	email, ok := h.required(w, r, "email")
	if !ok {
		return
	}
	window, ok := h.window(w, r)
	if !ok {
		return
	}

	out, err := h.analytics.ProfileMetricSummary(r.Context(), email, window)
	if err != nil {
		h.fail(w, r, "Failed to fetch profile metrics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// MergeProfiles handles POST /api/v1/profiles/merge
func (h *Handler) MergeProfiles(w http.ResponseWriter, r *http.Request) {
	var req models.MergeProfilesRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.dispatch.MergeProfiles(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to merge profiles", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Profiles merged",
		"data":    out,
	})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		h.badRequest(w, err.Error())
		return false
	}
	if err := validator.Struct(dst); err != nil {
		h.badRequest(w, err.Error())
		return false
	}
	return true
}

func (h *Handler) required(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		h.badRequest(w, name+" is required")
		return "", false
	}
	return v, true
}

func (h *Handler) date(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw, ok := h.required(w, r, "date")
	if !ok {
		return time.Time{}, false
	}
	t, err := httputil.ParseDateParam(raw)
	if err != nil {
		h.badRequest(w, err.Error())
		return time.Time{}, false
	}
	return *t, true
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) (klaviyo.Window, bool) {
	q := r.URL.Query()
	start, err := httputil.ParseDateParam(q.Get("startDate"))
	if err != nil {
		h.badRequest(w, err.Error())
		return klaviyo.Window{}, false
	}
	end, err := httputil.ParseDateParam(q.Get("endDate"))
	if err != nil {
		h.badRequest(w, err.Error())
		return klaviyo.Window{}, false
	}
	if start != nil && end != nil && !end.After(*start) {
		h.badRequest(w, "endDate must be after startDate")
		return klaviyo.Window{}, false
	}
	return klaviyo.Window{Start: start, End: end}, true
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	httputil.WriteError(w, http.StatusBadRequest, message, nil)
}

// fail maps err onto a status and writes the failure envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := httputil.StatusFor(err)
	switch {
	case errors.Is(err, validator.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, analytics.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, analytics.ErrScanLimit):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, logging.Path(r.URL.Path), logging.Status(status), logging.Error(err))
	} else {
		h.logger.WarnContext(r.Context(), message, logging.Path(r.URL.Path), logging.Status(status), logging.Error(err))
	}
	httputil.WriteError(w, status, message, err)
}
