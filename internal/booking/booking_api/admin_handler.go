package booking_api

import (
	"ms-booking/internal/auth"
	"ms-booking/internal/models"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdminRoutes mounts moderation, rates, balances and analytics. Role checks
// are repeated in the service.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/me/balance", h.MyBalance)
	r.Get("/rates", h.ListRates)

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleAdmin))
		r.Put("/requests/{requestId}/status", h.SetRequestStatus)
		r.Get("/requests/{requestId}/lock", h.RequestLock)
		r.Get("/rates", h.ListRates)
		r.Put("/rates/{instrument}", h.SetRate)
		r.Get("/balances", h.ListBalances)
		r.Get("/balances/{userId}", h.GetBalance)
		r.Post("/balances/{userId}/adjust", h.AdjustBalance)
		r.Get("/overview", h.Overview)
	})
}

type statusBody struct {
	Status models.RequestStatus `json:"status"`
}

func (h *Handler) SetRequestStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body statusBody
	if !h.decode(w, r, "SetRequestStatus", &body) {
		return
	}
	req, err := h.Service.SetRequestStatus(r.Context(), actor, chi.URLParam(r, "requestId"), body.Status)
	if err != nil {
		writeError(w, h.Logger, "SetRequestStatus", err)
		return
	}
	h.respond(w, http.StatusOK, "Request status updated", req)
}

func (h *Handler) RequestLock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "requestId")
	locked, err := h.Service.RequestLockHeld(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.Logger, "RequestLock", err)
		return
	}
	h.respond(w, http.StatusOK, "Lock state retrieved", map[string]any{
		"request_id": id,
		"locked":     locked,
	})
}

func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rates, err := h.Service.ListRates(r.Context(), actor)
	if err != nil {
		writeError(w, h.Logger, "ListRates", err)
		return
	}
	h.respond(w, http.StatusOK, "Rates retrieved", rates)
}

type rateBody struct {
	HourlyRate decimal.Decimal `json:"hourly_rate"`
}

func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body rateBody
	if !h.decode(w, r, "SetRate", &body) {
		return
	}
	rate, err := h.Service.SetRate(r.Context(), actor, chi.URLParam(r, "instrument"), body.HourlyRate)
	if err != nil {
		writeError(w, h.Logger, "SetRate", err)
		return
	}
	h.respond(w, http.StatusOK, "Rate updated", rate)
}

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	balances, err := h.Service.ListBalances(r.Context(), actor)
	if err != nil {
		writeError(w, h.Logger, "ListBalances", err)
		return
	}
	h.respond(w, http.StatusOK, "Balances retrieved", balances)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	h.balance(w, r, chi.URLParam(r, "userId"))
}

func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	h.balance(w, r, auth.UserID(r.Context()))
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request, userID string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	balance, entries, err := h.Service.GetBalance(r.Context(), actor, userID)
	if err != nil {
		writeError(w, h.Logger, "GetBalance", err)
		return
	}
	h.respond(w, http.StatusOK, "Balance retrieved", map[string]any{
		"balance": balance,
		"entries": entries,
	})
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var adj models.BalanceAdjustment
	if !h.decode(w, r, "AdjustBalance", &adj) {
		return
	}
	entry, err := h.Service.AdjustBalance(r.Context(), actor, chi.URLParam(r, "userId"), adj)
	if err != nil {
		writeError(w, h.Logger, "AdjustBalance", err)
		return
	}
	h.respond(w, http.StatusCreated, "Balance adjusted", entry)
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	overview, err := h.Service.Overview(r.Context(), actor)
	if err != nil {
		writeError(w, h.Logger, "Overview", err)
		return
	}
	h.respond(w, http.StatusOK, "Overview retrieved", overview)
}
