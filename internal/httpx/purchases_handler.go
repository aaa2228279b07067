package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-recycling-market/internal/kafka"
	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/purchase"
	"github.com/ariefcatur/go-recycling-market/internal/redisx"
	"github.com/go-chi/chi/v5"
)

type PurchaseCache interface {
	Get(ctx context.Context, purchaseID string) ([]byte, bool)
	Put(ctx context.Context, purchaseID string, b []byte)
}

type IdempotencyKeys interface {
	Begin(ctx context.Context, buyerID, key string) ([]byte, error)
	Finish(ctx context.Context, buyerID, key string, resp []byte) error
	Abort(ctx context.Context, buyerID, key string) error
}

type PurchasesHandler struct {
	Service *purchase.Service
	Cache   PurchaseCache   // optional
	Idem    IdempotencyKeys // optional
	Log     *slog.Logger
}

type CreatePurchaseReq struct {
	ListingID      string `json:"listing_id"`
	CollectionDate string `json:"collection_date"`
	CollectionTime string `json:"collection_time"`
	PickupAgent    string `json:"pickup_agent"`
}

func (h *PurchasesHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/purchases", h.createPurchase)
		r.Get("/purchases/{id}", h.getPurchase)
	})
}

func (h *PurchasesHandler) createPurchase(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req CreatePurchaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ListingID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing listing_id"})
		return
	}
	buyerID := claims.Subject

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Idempotency-Key: ulangi respons pertama untuk key yang sama
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Idem != nil {
		prev, err := h.Idem.Begin(ctx, buyerID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "request in progress"})
			return
		case err != nil:
			h.Log.Warn("idempotency unavailable", "err", err)
			key = ""
		case prev != nil:
			writeRaw(w, http.StatusCreated, prev)
			return
		}
	} else {
		key = ""
	}

	in, err := h.Service.CreatePurchaseIntent(ctx, req.ListingID, buyerID, market.PurchaseDetails{
		CollectionDate: req.CollectionDate,
		CollectionTime: req.CollectionTime,
		PickupAgent:    req.PickupAgent,
	})
	if err != nil {
		if key != "" {
			if aerr := h.Idem.Abort(ctx, buyerID, key); aerr != nil {
				h.Log.Warn("idempotency abort", "err", aerr)
			}
		}
		writeError(w, h.Log, err)
		return
	}

	b := kafkax.MustMarshal(in)
	if key != "" {
		if err := h.Idem.Finish(ctx, buyerID, key, b); err != nil {
			h.Log.Warn("idempotency finish", "err", err)
		}
	}
	writeRaw(w, http.StatusCreated, b)
}

func (h *PurchasesHandler) getPurchase(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		if b, ok := h.Cache.Get(ctx, id); ok {
			var p market.Purchase
			if err := json.Unmarshal(b, &p); err == nil {
				if !canRead(claims, p) {
					writeError(w, h.Log, market.ErrNotFound)
					return
				}
				writeRaw(w, http.StatusOK, b)
				return
			}
		}
	}

	// 2) fallback DB
	p, err := h.Service.GetPurchase(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	b := kafkax.MustMarshal(p)
	if h.Cache != nil {
		h.Cache.Put(ctx, id, b)
	}
	if !canRead(claims, p) {
		writeError(w, h.Log, market.ErrNotFound)
		return
	}
	writeRaw(w, http.StatusOK, b)
}

// canRead: buyers see their own purchases, admins see all.
func canRead(c *Claims, p market.Purchase) bool {
	return c != nil && (c.Role == RoleAdmin || c.Subject == p.BuyerID)
}
