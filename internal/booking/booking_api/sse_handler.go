package booking_api

import (
	"encoding/json"
	"fmt"
	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/sse"
	"net/http"
	"time"
)

// SSEHandler streams booking notifications to the authenticated user.
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.NotificationEmitter
	Heartbeat    time.Duration
}

func NewSSEHandler(log *logger.Logger, emitter *sse.NotificationEmitter) *SSEHandler {
	return &SSEHandler{
		Logger:       log,
		EventEmitter: emitter,
		Heartbeat:    25 * time.Second,
	}
}

// HandleNotifications streams every notification whose audience includes
// the caller until the client disconnects.
func (h *SSEHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	h.setupSSEHeaders(w)

	ctx := r.Context()
	eventChan := h.EventEmitter.Subscribe(ctx, actor)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"userID\":\"%s\",\"role\":\"%s\"}\n\n", actor.ID, actor.Role)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to notifications: %s (%s)", actor.ID, actor.Role))

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case n, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for user: %s", actor.ID))
				return
			}

			jsonData, err := json.Marshal(n)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize notification: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, jsonData)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from notifications: %s", actor.ID))
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}
