package booking_api

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/qr"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service     *booking.Service
	QRGenerator *qr.QRGenerator
	Logger      *logger.Logger
}

func NewHandler(service *booking.Service, qrGenerator *qr.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{
		Service:     service,
		QRGenerator: qrGenerator,
		Logger:      log,
	}
}

// Routes mounts the request and offer endpoints. Callers wrap r with the
// auth middleware first.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.CreateRequest)
		r.Get("/", h.ListRequests)
		r.Route("/{requestId}", func(r chi.Router) {
			r.Get("/", h.GetRequest)
			r.Patch("/", h.UpdateRequest)
			r.Post("/recalculate", h.RecalculateAmount)
			r.Post("/accept", h.AcceptRequest)
			r.Post("/reject", h.RejectRequest)
			r.Post("/start", h.StartEvent)
			r.Post("/complete", h.CompleteEvent)
			r.Post("/cancel", h.CancelRequest)
			r.Get("/penalty", h.PenaltyQuote)
			r.Get("/confirmation", h.Confirmation)
			r.Post("/offers", h.SubmitOffer)
			r.Get("/offers", h.ListOffers)
		})
	})
	r.Route("/offers", func(r chi.Router) {
		r.Get("/mine", h.ListMyOffers)
		r.Get("/{offerId}", h.GetOffer)
		r.Post("/{offerId}/select", h.SelectOffer)
		r.Post("/{offerId}/reject", h.RejectOffer)
	})
	r.Post("/confirmations/verify", h.VerifyConfirmation)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", auth.ErrMissingToken.Error()))
	}
	return actor, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, h.Logger, op, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data any) {
	utils.WriteJSON(w, status, utils.SuccessResponse(message, data))
}

// ---------------- REQUESTS ----------------

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in models.RequestInput
	if !h.decode(w, r, "CreateRequest", &in) {
		return
	}

	req, err := h.Service.CreateRequest(r.Context(), actor, in)
	if err != nil {
		writeError(w, h.Logger, "CreateRequest", err)
		return
	}
	h.respond(w, http.StatusCreated, "Request created", req)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		badRequest(w, h.Logger, "ListRequests", err.Error())
		return
	}

	requests, err := h.Service.ListRequests(r.Context(), actor, filter)
	if err != nil {
		writeError(w, h.Logger, "ListRequests", err)
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("ListRequests: %d requests for %s %s", len(requests), actor.Role, actor.ID))
	h.respond(w, http.StatusOK, "Requests retrieved", requests)
}

func parseFilter(r *http.Request) (models.RequestFilter, error) {
	q := r.URL.Query()
	filter := models.RequestFilter{
		Instrument:  q.Get("instrument"),
		FromDate:    q.Get("from"),
		Status:      models.RequestStatus(q.Get("status")),
		EventStatus: models.EventStatus(q.Get("event_status")),
	}
	var err error
	if v := q.Get("open"); v != "" {
		if filter.OpenOnly, err = strconv.ParseBool(v); err != nil {
			return filter, fmt.Errorf("open must be a boolean")
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return filter, nil
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.Service.GetRequest(r.Context(), actor, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, h.Logger, "GetRequest", err)
		return
	}
	h.respond(w, http.StatusOK, "Request retrieved", req)
}

func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var patch models.RequestPatch
	if !h.decode(w, r, "UpdateRequest", &patch) {
		return
	}
	req, err := h.Service.UpdateRequest(r.Context(), actor, chi.URLParam(r, "requestId"), patch)
	if err != nil {
		writeError(w, h.Logger, "UpdateRequest", err)
		return
	}
	h.respond(w, http.StatusOK, "Request updated", req)
}

type requestAction func(ctx context.Context, actor models.Actor, id string) (*models.Request, error)

// transition serves the body-less lifecycle endpoints.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name, message string, action requestAction) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := action(r.Context(), actor, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, h.Logger, name, err)
		return
	}
	h.respond(w, http.StatusOK, message, req)
}

func (h *Handler) RecalculateAmount(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "RecalculateAmount", "Amount recalculated", h.Service.RecalculateAmount)
}

func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "AcceptRequest", "Request accepted", h.Service.AcceptRequest)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "RejectRequest", "Request rejected", h.Service.RejectRequest)
}

func (h *Handler) StartEvent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "StartEvent", "Event started", h.Service.StartEvent)
}

func (h *Handler) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "CompleteEvent", "Event completed", h.Service.CompleteEvent)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body cancelBody
	if !h.decode(w, r, "CancelRequest", &body) {
		return
	}

	req, penalty, err := h.Service.CancelRequest(r.Context(), actor, chi.URLParam(r, "requestId"), body.Reason)
	if err != nil {
		writeError(w, h.Logger, "CancelRequest", err)
		return
	}
	h.respond(w, http.StatusOK, "Request cancelled", map[string]any{
		"request": req,
		"penalty": penalty,
	})
}

func (h *Handler) PenaltyQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	penalty, err := h.Service.PenaltyQuote(r.Context(), actor, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, h.Logger, "PenaltyQuote", err)
		return
	}
	h.respond(w, http.StatusOK, "Penalty preview", penalty)
}

// Confirmation serves the booking confirmation as an encrypted QR PNG.
func (h *Handler) Confirmation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	confirmation, err := h.Service.Confirmation(r.Context(), actor, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, h.Logger, "Confirmation", err)
		return
	}
	png, err := h.QRGenerator.GenerateEncryptedQR(confirmation)
	if err != nil {
		writeError(w, h.Logger, "Confirmation", fmt.Errorf("failed to generate QR: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Confirmation: failed to write QR: %v", err))
	}
}

type verifyBody struct {
	Token string `json:"token"`
}

// VerifyConfirmation decrypts a scanned confirmation token. Only a party to
// the booking or an admin may read it.
func (h *Handler) VerifyConfirmation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body verifyBody
	if !h.decode(w, r, "VerifyConfirmation", &body) {
		return
	}
	if body.Token == "" {
		badRequest(w, h.Logger, "VerifyConfirmation", "token is required")
		return
	}

	confirmation, err := h.QRGenerator.Open(body.Token)
	if err != nil {
		badRequest(w, h.Logger, "VerifyConfirmation", "invalid confirmation token")
		return
	}
	if !actor.IsAdmin() && actor.ID != confirmation.LeaderID && actor.ID != confirmation.MusicianID {
		writeError(w, h.Logger, "VerifyConfirmation", models.Unauthorized("verify confirmation", "you are not a party to this booking"))
		return
	}

	// The token may predate a cancellation or reassignment.
	current, err := h.Service.Confirmation(r.Context(), actor, confirmation.RequestID)
	if err != nil {
		writeError(w, h.Logger, "VerifyConfirmation", err)
		return
	}
	if current.MusicianID != confirmation.MusicianID {
		writeError(w, h.Logger, "VerifyConfirmation", models.InvalidTransition("verify confirmation", "confirmation is no longer current"))
		return
	}
	h.respond(w, http.StatusOK, "Confirmation valid", current)
}

// ---------------- OFFERS ----------------

func (h *Handler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in models.OfferInput
	if !h.decode(w, r, "SubmitOffer", &in) {
		return
	}
	offer, err := h.Service.SubmitOffer(r.Context(), actor, chi.URLParam(r, "requestId"), in)
	if err != nil {
		writeError(w, h.Logger, "SubmitOffer", err)
		return
	}
	h.respond(w, http.StatusCreated, "Offer submitted", offer)
}

func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	offers, err := h.Service.ListOffers(r.Context(), actor, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, h.Logger, "ListOffers", err)
		return
	}
	h.respond(w, http.StatusOK, "Offers retrieved", offers)
}

func (h *Handler) ListMyOffers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	offers, err := h.Service.ListMyOffers(r.Context(), actor)
	if err != nil {
		writeError(w, h.Logger, "ListMyOffers", err)
		return
	}
	h.respond(w, http.StatusOK, "Offers retrieved", offers)
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	offer, err := h.Service.GetOffer(r.Context(), actor, chi.URLParam(r, "offerId"))
	if err != nil {
		writeError(w, h.Logger, "GetOffer", err)
		return
	}
	h.respond(w, http.StatusOK, "Offer retrieved", offer)
}

func (h *Handler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	offer, err := h.Service.SelectOffer(r.Context(), actor, chi.URLParam(r, "offerId"))
	if err != nil {
		writeError(w, h.Logger, "SelectOffer", err)
		return
	}
	h.respond(w, http.StatusOK, "Offer selected", offer)
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	offer, err := h.Service.RejectOffer(r.Context(), actor, chi.URLParam(r, "offerId"))
	if err != nil {
		writeError(w, h.Logger, "RejectOffer", err)
		return
	}
	h.respond(w, http.StatusOK, "Offer rejected", offer)
}
