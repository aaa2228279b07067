package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-recycling-market/internal/market"
)

var errorStatus = []struct {
	err  error
	code int
	msg  string
}{
	{market.ErrReservationConflict, http.StatusConflict, "listing no longer available"},
	{market.ErrPayoutAccountNotReady, http.StatusUnprocessableEntity, "seller payout account not ready"},
	{market.ErrAuthorizationDeclined, http.StatusPaymentRequired, "payment declined"},
	{market.ErrReconciliationMismatch, http.StatusUnprocessableEntity, "payment does not match any purchase"},
	{market.ErrStaleState, http.StatusConflict, "state changed, reload and retry"},
	{market.ErrInvalidStateTransition, http.StatusConflict, ""},
	{market.ErrNotFound, http.StatusNotFound, "purchase not found"},
	{market.ErrListingNotFound, http.StatusNotFound, "listing not found"},
	{market.ErrUnknownCategory, http.StatusUnprocessableEntity, "listing category has no price"},
}

// writeError maps domain errors to their status. Anything unmapped is logged
// and answered with a bare 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			msg := e.msg
			if msg == "" {
				msg = err.Error()
			}
			writeJSON(w, e.code, map[string]string{"error": msg})
			return
		}
	}
	log.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
