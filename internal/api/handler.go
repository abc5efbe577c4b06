package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/db"
	"github.com/guardianlink/guardian/internal/dispatch"
	"github.com/guardianlink/guardian/internal/events"
	"github.com/guardianlink/guardian/internal/metrics"
	"github.com/guardianlink/guardian/internal/redis"
	"github.com/guardianlink/guardian/internal/sos"
)

// Repository defines the database operations the API needs.
type Repository interface {
	CreateContact(ctx context.Context, contact *db.Contact) error
	ListContacts(ctx context.Context, deviceID string) ([]*db.Contact, error)
	DeleteContact(ctx context.Context, id uuid.UUID) error
	ListAlerts(ctx context.Context, deviceID string, limit, offset int) ([]*db.EmergencyAlert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*db.EmergencyAlert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status string) error
}

// SOSService runs the trigger and simulation pipelines.
type SOSService interface {
	Trigger(ctx context.Context, input sos.TriggerInput) (*sos.TriggerOutput, error)
	Simulate(ctx context.Context, input sos.SimulateInput) (*sos.SimulateOutput, error)
}

// SettingsStore persists the per-device guardian state blob.
type SettingsStore interface {
	Load(ctx context.Context, deviceID string) (*redis.GuardianState, error)
	Save(ctx context.Context, deviceID string, state *redis.GuardianState) error
}

// EventPublisher pushes alert lifecycle events to the responder feed.
type EventPublisher interface {
	PublishAlert(ctx context.Context, eventType string, alert *db.EmergencyAlert) (string, error)
}

// SOSRequest is the trigger request body.
type SOSRequest struct {
	DeviceID     string  `json:"device_id"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Reason       string  `json:"reason,omitempty"`
	AudioDataURI string  `json:"audio_data_uri,omitempty"`
	PhotoDataURI string  `json:"photo_data_uri,omitempty"`
}

// SOSResponse reports the dispatch outcome. Clients decide how to present
// partial delivery from Success and SentCount.
type SOSResponse struct {
	AlertID   string           `json:"alert_id"`
	Success   bool             `json:"success"`
	SentCount int              `json:"sent_count"`
	Channel   dispatch.Channel `json:"channel,omitempty"`
	Message   string           `json:"message"`
	Logs      []string         `json:"logs"`
}

// SimulateRequest feeds an ambient sound description to the classifier.
// Coordinates ride along so a distress verdict dispatches with the device's
// real position, same as a manual press.
type SimulateRequest struct {
	DeviceID string  `json:"device_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Sounds   string  `json:"sounds"`
}

// SimulateResponse reports the classifier verdict and, when distress was
// detected, the dispatch outcome.
type SimulateResponse struct {
	Triggered          bool         `json:"triggered"`
	IsDistressDetected bool         `json:"is_distress_detected"`
	DetectedReason     string       `json:"detected_reason"`
	SOS                *SOSResponse `json:"sos,omitempty"`
}

// ContactRequest is the create-contact body.
type ContactRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	sos         SOSService
	settings    SettingsStore             // nil if Redis not configured
	idempotency *redis.IdempotencyService // nil if Redis not configured
	publisher   EventPublisher            // nil if the responder feed is not configured
}

// NewHandler creates a new API handler. settings and idempotency may be
// nil when Redis is not configured.
func NewHandler(logger *zap.Logger, repo Repository, sosService SOSService, settings SettingsStore, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		sos:         sosService,
		settings:    settings,
		idempotency: idempotency,
	}
}

// NewHandlerWithPublisher creates a handler that also publishes alert
// lifecycle events (responded/resolved) to the responder feed.
func NewHandlerWithPublisher(logger *zap.Logger, repo Repository, sosService SOSService, settings SettingsStore, idempotency *redis.IdempotencyService, publisher EventPublisher) *Handler {
	h := NewHandler(logger, repo, sosService, settings, idempotency)
	h.publisher = publisher
	return h
}

// TriggerSOS handles POST /v1/sos.
// Supports idempotency via the Idempotency-Key header so a client retrying
// over a flaky connection does not double-dispatch.
func (h *Handler) TriggerSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req SOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.DeviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "device_id is required")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, req.DeviceID, idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(SOSResponse{AlertID: cachedResult.AlertID})
			return
		}
	}

	out, err := h.sos.Trigger(ctx, sos.TriggerInput{
		DeviceID:     req.DeviceID,
		Lat:          req.Lat,
		Lng:          req.Lng,
		Reason:       req.Reason,
		AudioDataURI: req.AudioDataURI,
		PhotoDataURI: req.PhotoDataURI,
		Source:       sos.SourceManual,
	})
	if err != nil {
		h.logger.Error("sos trigger failed",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "trigger_error", "Failed to process SOS", "")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			AlertID:    out.Alert.ID.String(),
			StatusCode: http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.DeviceID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sosResponse(out))
}

// SimulateSOS handles POST /v1/sos/simulate: a voice-monitoring check that
// runs the classifier and triggers the full pipeline on a distress verdict.
func (h *Handler) SimulateSOS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.DeviceID == "" || req.Sounds == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "device_id and sounds are required")
		return
	}

	out, err := h.sos.Simulate(ctx, sos.SimulateInput{
		DeviceID: req.DeviceID,
		Lat:      req.Lat,
		Lng:      req.Lng,
		Sounds:   req.Sounds,
	})
	if err != nil {
		switch {
		case errors.Is(err, sos.ErrMonitoringOff):
			h.writeError(w, http.StatusConflict, "monitoring_inactive", "Voice monitoring is not active", "Enable monitoring before running a simulation")
		default:
			h.logger.Error("simulation failed",
				zap.Error(err),
				zap.String("device_id", req.DeviceID),
			)
			h.writeError(w, http.StatusBadGateway, "classification_error", "Distress classification failed", "")
		}
		return
	}

	resp := SimulateResponse{
		Triggered:          out.Triggered,
		IsDistressDetected: out.Detection.IsDistressDetected,
		DetectedReason:     out.Detection.DetectedReason,
	}
	status := http.StatusOK
	if out.Triggered {
		status = http.StatusCreated
		sr := sosResponse(out.Result)
		resp.SOS = &sr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// CreateContact handles POST /v1/contacts
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.DeviceID == "" || req.Name == "" || req.Phone == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "device_id, name, and phone are required")
		return
	}

	contact := &db.Contact{
		ID:       uuid.New(),
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Phone:    req.Phone,
		Relation: req.Relation,
	}

	if err := h.repo.CreateContact(ctx, contact); err != nil {
		h.logger.Error("failed to create contact",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create contact", "")
		return
	}

	h.logger.Info("contact created",
		zap.String("id", contact.ID.String()),
		zap.String("device_id", req.DeviceID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(contact)
}

// ListContacts handles GET /v1/contacts?device_id=xxx
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing device_id", "device_id query parameter is required")
		return
	}

	contacts, err := h.repo.ListContacts(ctx, deviceID)
	if err != nil {
		h.logger.Error("failed to list contacts",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list contacts", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  contacts,
		"count": len(contacts),
	})
}

// DeleteContact handles DELETE /v1/contacts/{id}
func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	contactID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid contact ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.DeleteContact(ctx, contactID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Contact not found", "")
			return
		}
		h.logger.Error("failed to delete contact",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete contact", "")
		return
	}

	h.logger.Info("contact deleted", zap.String("id", idStr))

	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts handles GET /v1/alerts?device_id=xxx&limit=20&offset=0
// Alerts come back newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing device_id", "device_id query parameter is required")
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	alerts, err := h.repo.ListAlerts(ctx, deviceID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list alerts",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list alerts", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   alerts,
		"limit":  limit,
		"offset": offset,
		"count":  len(alerts),
	})
}

// UpdateAlertStatus handles PATCH /v1/alerts/{id}/status
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	alertID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	validStatuses := map[string]bool{
		db.AlertStatusSent:      true,
		db.AlertStatusResponded: true,
		db.AlertStatusResolved:  true,
	}
	if !validStatuses[req.Status] {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be one of: sent, responded, resolved")
		return
	}

	if err := h.repo.UpdateAlertStatus(ctx, alertID, req.Status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Alert not found", "")
			return
		}
		h.logger.Error("failed to update alert status",
			zap.Error(err),
			zap.String("id", idStr),
			zap.String("status", req.Status),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update alert", "")
		return
	}

	h.logger.Info("alert status updated",
		zap.String("id", idStr),
		zap.String("status", req.Status),
	)

	h.publishStatusChange(ctx, alertID, req.Status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": req.Status,
	})
}

// publishStatusChange pushes the matching lifecycle event to the responder
/// feed. Best-effort: a feed failure never fails the status update.
func (h *Handler) publishStatusChange(ctx context.Context, alertID uuid.UUID, status string) {
	if h.publisher == nil {
		return
	}

	var eventType string
	switch status {
	case db.AlertStatusResponded:
		eventType = events.EventAlertResponded
	case db.AlertStatusResolved:
		eventType = events.EventAlertResolved
	default:
		return
	}

	alert, err := h.repo.GetAlert(ctx, alertID)
	if err != nil {
		h.logger.Warn("failed to load alert for responder feed",
			zap.Error(err),
			zap.String("alert_id", alertID.String()),
		)
		return
	}

	if _, err := h.publisher.PublishAlert(ctx, eventType, alert); err != nil {
		h.logger.Warn("responder feed publish failed",
			zap.Error(err),
			zap.String("alert_id", alertID.String()),
			zap.String("event_type", eventType),
		)
	}
}

// GetSettings handles GET /v1/settings?device_id=xxx
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.settings == nil {
		h.writeError(w, http.StatusServiceUnavailable, "settings_unavailable", "Settings store not configured", "")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing device_id", "device_id query parameter is required")
		return
	}

	state, err := h.settings.Load(ctx, deviceID)
	if err != nil {
		h.logger.Error("failed to load settings",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to load settings", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(state)
}

// PutSettings handles PUT /v1/settings?device_id=xxx
// The whole state blob is replaced on every write.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.settings == nil {
		h.writeError(w, http.StatusServiceUnavailable, "settings_unavailable", "Settings store not configured", "")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing device_id", "device_id query parameter is required")
		return
	}

	var state redis.GuardianState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.settings.Save(ctx, deviceID, &state); err != nil {
		h.logger.Error("failed to save settings",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to save settings", "")
		return
	}

	h.logger.Info("settings saved",
		zap.String("device_id", deviceID),
		zap.Bool("monitoring", state.IsMonitoring),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(&state)
}

func sosResponse(out *sos.TriggerOutput) SOSResponse {
	return SOSResponse{
		AlertID:   out.Alert.ID.String(),
		Success:   out.Dispatch.Success,
		SentCount: out.Dispatch.SentCount,
		Channel:   out.Dispatch.Channel,
		Message:   out.Alert.Message,
		Logs:      out.Dispatch.Logs,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
