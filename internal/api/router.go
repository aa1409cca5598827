package api

import (
	"net/http"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/realtime"
)

func Router(h *Handler, broker realtime.Broker) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/dispatcher/status", h.DispatcherStatus)
	mux.HandleFunc("POST /v1/dispatcher/start", h.DispatcherStart)
	mux.HandleFunc("POST /v1/dispatcher/stop", h.DispatcherStop)

	mux.HandleFunc("POST /v1/accounts/{accountID}/messages", h.SendMessage)
	mux.HandleFunc("POST /v1/webhooks/{accountID}", h.Webhook)
	mux.HandleFunc("GET /v1/accounts/{accountID}/stream", realtime.StreamHandler(broker))

	mux.HandleFunc("GET /v1/conversations/{conversationID}/messages", h.ListMessages)
	mux.HandleFunc("POST /v1/conversations/{conversationID}/read", h.MarkRead)

	mux.HandleFunc("POST /v1/media", h.UploadMedia)
	mux.HandleFunc("GET /v1/media/sign", h.SignMedia)

	mux.HandleFunc("POST /v1/messages/{messageID}/resend", h.Resend)
	mux.HandleFunc("POST /v1/messages/{messageID}/reactions", h.React)
	mux.HandleFunc("POST /v1/messages/{messageID}/edit", h.Edit)
	mux.HandleFunc("POST /v1/messages/{messageID}/delete", h.Delete)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("message-delivery-engine"))
	})

	return mux
}
