package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Reserve: lock listing (FOR UPDATE) -> cek AVAILABLE -> PENDING -> insert purchase.
// Semua atau tidak sama sekali; partial unique index di purchases(listing_id)
// jadi pengaman kedua kalau ada jalur lain yang lolos.
func (r *Repo) Reserve(ctx context.Context, p ReserveParams) (Purchase, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Purchase{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		l           Listing
		cat, status string
	)
	err = tx.QueryRow(ctx, `SELECT id, owner_id, category, quantity, status FROM listings WHERE id=$1 FOR UPDATE`, p.ListingID).
		Scan(&l.ID, &l.OwnerID, &cat, &l.Quantity, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrListingNotFound
	}
	if err != nil {
		return Purchase{}, err
	}
	l.Category, l.Status = Category(cat), ListingStatus(status)
	if l.Status != ListingAvailable {
		return Purchase{}, ErrReservationConflict
	}

	// total dihitung dari price table saat ini, lalu dibekukan di purchase
	total, err := p.Prices.Total(l.Category, l.Quantity)
	if err != nil {
		return Purchase{}, err
	}

	ct, err := tx.Exec(ctx, `UPDATE listings SET status='PENDING', updated_at=$2 WHERE id=$1 AND status='AVAILABLE'`, l.ID, p.Now)
	if err != nil {
		return Purchase{}, err
	}
	if ct.RowsAffected() != 1 {
		return Purchase{}, ErrReservationConflict
	}

	pur := Purchase{
		ID:            uuid.NewString(),
		ListingID:     l.ID,
		BuyerID:       p.BuyerID,
		TotalCents:    total,
		Currency:      p.Currency,
		PaymentStatus: PaymentPending,
		Details:       p.Details,
		CreatedAt:     p.Now,
		UpdatedAt:     p.Now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO purchases(id, listing_id, buyer_id, total_cents, currency, payment_status,
		                      collection_date, collection_time, pickup_agent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'PENDING',$6,$7,$8,$9,$9)`,
		pur.ID, pur.ListingID, pur.BuyerID, pur.TotalCents, pur.Currency,
		pur.Details.CollectionDate, pur.Details.CollectionTime, pur.Details.PickupAgent, p.Now)
	if isUniqueViolation(err) {
		return Purchase{}, ErrReservationConflict
	}
	if err != nil {
		return Purchase{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Purchase{}, err
	}
	return pur, nil
}

func (r *Repo) AttachAuthorization(ctx context.Context, purchaseID, processorRef string, split FeeSplit) (Purchase, error) {
	p, err := scanPurchase(r.DB.QueryRow(ctx, `
		UPDATE purchases
		SET processor_ref=$2, platform_fee_cents=$3, seller_amount_cents=$4, updated_at=now()
		WHERE id=$1 AND payment_status='PENDING' AND (processor_ref IS NULL OR processor_ref=$2)
		RETURNING `+purchaseCols,
		purchaseID, processorRef, split.PlatformFeeCents, split.SellerAmountCents))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, err
	}
	// tidak ada baris: purchase hilang, atau sudah tidak PENDING
	if _, err := r.GetPurchase(ctx, purchaseID); err != nil {
		return Purchase{}, err
	}
	return Purchase{}, fmt.Errorf("%w: purchase %s is not awaiting authorization", ErrInvalidStateTransition, purchaseID)
}

// Apply mengunci purchase lalu listing (urutan sama dengan Override), dan
// menulis keduanya dalam satu transaksi.
func (r *Repo) Apply(ctx context.Context, ref PurchaseRef, t Transition, now time.Time) (Purchase, Decision, error) {
	if !t.Defined() {
		return Purchase{}, DecisionConflict, ErrInvalidStateTransition
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Purchase{}, DecisionConflict, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockPurchase(ctx, tx, ref)
	if err != nil {
		return Purchase{}, DecisionConflict, err
	}
	if d := Decide(cur.PaymentStatus, t); d != DecisionApply {
		return cur, d, nil // no write
	}
	if _, err := lockListingStatus(ctx, tx, cur.ListingID); err != nil {
		return Purchase{}, DecisionConflict, err
	}

	next := cur
	next.PaymentStatus = t.To()
	next.UpdatedAt = now
	var folio *string
	if t.To() == PaymentCompleted {
		if next.Folio == "" {
			f, err := nextFolio(ctx, tx, next)
			if err != nil {
				return Purchase{}, DecisionConflict, err
			}
			next.Folio = f
			folio = &f
		}
		if next.CompletedAt == nil {
			next.CompletedAt = &now
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE listings SET status=$2, updated_at=$3 WHERE id=$1`,
		cur.ListingID, string(t.Listing()), now); err != nil {
		return Purchase{}, DecisionConflict, err
	}
	ct, err := tx.Exec(ctx, `
		UPDATE purchases
		SET payment_status=$2, folio=COALESCE(folio,$3), completed_at=$4, updated_at=$5
		WHERE id=$1 AND payment_status=$6`,
		cur.ID, string(next.PaymentStatus), folio, next.CompletedAt, now, string(cur.PaymentStatus))
	if err != nil {
		return Purchase{}, DecisionConflict, err
	}
	if ct.RowsAffected() != 1 {
		return Purchase{}, DecisionConflict, ErrStaleState
	}
	if err := tx.Commit(ctx); err != nil {
		return Purchase{}, DecisionConflict, err
	}
	return next, DecisionApply, nil
}
