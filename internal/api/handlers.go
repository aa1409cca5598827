package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/delivery"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/media"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/service"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
)

// webhookBodyMax bounds provider callbacks; real payloads are a few KB.
const webhookBodyMax = 1 << 20

type Handler struct {
	svc        *service.Service
	dispatcher *delivery.Dispatcher

	media    media.Store
	mediaMax int64
}

func NewHandler(svc *service.Service, d *delivery.Dispatcher) *Handler {
	return &Handler{svc: svc, dispatcher: d}
}

// WithMedia enables the attachment endpoints. Without it they answer 503.
func (h *Handler) WithMedia(store media.Store, maxBytes int64) *Handler {
	h.media = store
	h.mediaMax = maxBytes
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DispatcherStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.dispatcher.IsRunning()})
}

func (h *Handler) DispatcherStart(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.dispatcher.IsRunning()})
}

func (h *Handler) DispatcherStop(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.dispatcher.IsRunning()})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in service.SendInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, provider.NewSendError(provider.ClassValidation, "malformed_json", err.Error()))
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), r.PathValue("accountID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.svc.ListMessages(r.Context(), r.PathValue("conversationID"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkConversationRead(r.Context(), r.PathValue("conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": n})
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Resend(r.Context(), r.PathValue("messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Actor string `json:"actor"`
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, provider.NewSendError(provider.ClassValidation, "malformed_json", err.Error()))
		return
	}
	if in.Actor == "" {
		writeError(w, provider.NewSendError(provider.ClassValidation, "missing_actor", "actor is required"))
		return
	}

	if err := h.svc.React(r.Context(), r.PathValue("messageID"), in.Actor, in.Emoji); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, provider.NewSendError(provider.ClassValidation, "malformed_json", err.Error()))
		return
	}

	if err := h.svc.Edit(r.Context(), r.PathValue("messageID"), in.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("messageID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyMax))
	if err != nil {
		writeError(w, provider.NewSendError(provider.ClassValidation, "unreadable_body", err.Error()))
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), r.PathValue("accountID"), payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// UploadMedia streams the request body to the attachment store and returns
// the URL to reference in a subsequent send.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{"class": "unavailable", "message": "media storage is not configured"},
		})
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeError(w, provider.NewSendError(provider.ClassValidation, "missing_filename", "filename query parameter is required"))
		return
	}
	contentType := r.Header.Get("Content-Type")

	// Chunked uploads carry no length; validation needs the real size.
	if r.ContentLength < 0 {
		writeError(w, provider.NewSendError(provider.ClassValidation, "missing_content_length",
			"uploads require a Content-Length header"))
		return
	}
	if err := media.Validate(r.ContentLength, h.mediaMax, contentType); err != nil {
		writeError(w, err)
		return
	}

	url, err := h.media.Upload(r.Context(), r.Body, r.ContentLength, contentType, filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

// SignMedia returns a short-lived download URL for a stored attachment.
func (h *Handler) SignMedia(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{"class": "unavailable", "message": "media storage is not configured"},
		})
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, provider.NewSendError(provider.ClassValidation, "missing_path", "path query parameter is required"))
		return
	}
	ttl := time.Duration(parseInt(r.URL.Query().Get("ttl_seconds"), 900)) * time.Second

	url, err := h.media.SignedURL(r.Context(), path, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"class": "not_found", "message": "not found"},
		})
		return
	}

	var se *provider.SendError
	if !errors.As(err, &se) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"class": "internal", "message": err.Error()},
		})
		return
	}

	status := http.StatusInternalServerError
	switch se.Class {
	case provider.ClassValidation:
		status = http.StatusBadRequest
	case provider.ClassPolicy, provider.ClassRejected:
		status = http.StatusUnprocessableEntity
	case provider.ClassDisconnected:
		status = http.StatusConflict
	case provider.ClassTransient:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"class":   se.Class,
			"code":    provider.CodeOf(err),
			"message": err.Error(),
		},
	})
}
