// Package handlers provides HTTP handlers for the scanner API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/api/middleware"
	"github.com/saharacare/go-rxmind/internal/reminder"
	"github.com/saharacare/go-rxmind/internal/scan"
)

// maxUploadBytes bounds prescription image uploads.
const maxUploadBytes = 10 << 20

// ScanHandler handles scan and reminder endpoints
type ScanHandler struct {
	scans   *scan.Service
	manager *reminder.Manager
	logger  *zap.Logger
}

// NewScanHandler creates a new handler
func NewScanHandler(scans *scan.Service, manager *reminder.Manager, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		scans:   scans,
		manager: manager,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *ScanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/scan", h.Scan)
	r.Get("/reminders/{userID}", h.ListReminders)
	r.Post("/reminders/{userID}/{reminderID}/taken", h.MarkTaken)
	r.Delete("/reminders/{userID}/{reminderID}", h.DeleteReminder)
	return r
}

// Scan handles POST /scan: a multipart upload with the prescription image
// and the owning user id.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("scan-handler")
	ctx, span := tracer.Start(ctx, "scan_prescription")
	defer span.End()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.jsonError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		h.jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	file, _, err := r.FormFile("image")
	if err != nil {
		h.jsonError(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.jsonError(w, "failed to read image", http.StatusBadRequest)
		return
	}

	result, err := h.scans.Scan(ctx, userID, image)
	if err != nil {
		h.logger.Error("scan failed",
			zap.String("user_id", userID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		span.RecordError(err)
		h.jsonError(w, "could not process prescription image", http.StatusUnprocessableEntity)
		return
	}

	h.logger.Info("scan served",
		zap.String("user_id", userID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("reminders", len(result.Reminders)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListReminders handles GET /reminders/{userID}
func (h *ScanHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	reminders := h.manager.List(userID)
	resp := map[string]interface{}{
		"user_id":   userID,
		"reminders": reminders,
		"count":     len(reminders),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MarkTaken handles POST /reminders/{userID}/{reminderID}/taken
func (h *ScanHandler) MarkTaken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	reminderID := chi.URLParam(r, "reminderID")

	if err := h.manager.MarkTaken(userID, reminderID); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			h.jsonError(w, "reminder not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, "failed to update reminder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":     reminderID,
		"status": string(reminder.StatusTaken),
	})
}

// DeleteReminder handles DELETE /reminders/{userID}/{reminderID}. The stored
// record and the scheduled job are removed together.
func (h *ScanHandler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	reminderID := chi.URLParam(r, "reminderID")

	if err := h.manager.Delete(ctx, userID, reminderID); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			h.jsonError(w, "reminder not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete failed",
			zap.String("reminder_id", reminderID), zap.Error(err))
		h.jsonError(w, "failed to delete reminder", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ScanHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
