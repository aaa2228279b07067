package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/purchase"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	Service *purchase.Service
	Log     *slog.Logger
}

type SetStatusReq struct {
	ListingStatus       *market.ListingStatus `json:"listing_status"`
	PaymentStatus       *market.PaymentStatus `json:"payment_status"`
	ExpectListingStatus *market.ListingStatus `json:"expect_listing_status"`
	ExpectPaymentStatus *market.PaymentStatus `json:"expect_payment_status"`
	Reason              string                `json:"reason"`
}

func (h *AdminHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth, RoleRequired(RoleAdmin))
		r.Get("/anomalies", h.anomalies)
		r.Get("/purchases/{id}/audit", h.auditTrail)
		r.Patch("/purchases/{id}/status", h.setStatus)
		r.Delete("/purchases/{id}", h.deleteAttempt)
	})
}

func (h *AdminHandler) anomalies(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep, err := h.Service.Anomalies(ctx, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *AdminHandler) auditTrail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	trail, err := h.Service.AuditTrail(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if trail == nil {
		trail = []market.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, trail)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req SetStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ListingStatus == nil && req.PaymentStatus == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "listing_status or payment_status required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Service.AdminSetStatus(ctx, purchase.AdminOverride{
		PurchaseID:    chi.URLParam(r, "id"),
		Actor:         claims.Subject,
		Reason:        req.Reason,
		ListingStatus: req.ListingStatus,
		PaymentStatus: req.PaymentStatus,
		ExpectListing: req.ExpectListingStatus,
		ExpectPayment: req.ExpectPaymentStatus,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AdminHandler) deleteAttempt(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Service.DeleteAttempt(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
