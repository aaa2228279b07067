package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Override writes an administrator's correction and its audit row in one
// transaction. It bypasses the transition table but not the locks.
func (r *Repo) Override(ctx context.Context, o Override) (Purchase, AuditEntry, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockPurchase(ctx, tx, PurchaseRef{ID: o.PurchaseID})
	if err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	fromL, err := lockListingStatus(ctx, tx, cur.ListingID)
	if err != nil {
		return Purchase{}, AuditEntry{}, err
	}

	next, entry, changed, err := PlanOverride(cur, fromL, o)
	if err != nil || !changed {
		return cur, AuditEntry{}, err
	}

	var folio *string
	if next.PaymentStatus == PaymentCompleted && next.Folio == "" {
		f, err := nextFolio(ctx, tx, next)
		if err != nil {
			return Purchase{}, AuditEntry{}, err
		}
		next.Folio = f
		folio = &f
	}

	if _, err := tx.Exec(ctx, `UPDATE listings SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
		cur.ListingID, string(entry.ToListing), o.Now, string(fromL)); err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE purchases
		SET payment_status=$2, folio=COALESCE(folio,$3), completed_at=$4, updated_at=$5
		WHERE id=$1 AND payment_status=$6`,
		cur.ID, string(next.PaymentStatus), folio, next.CompletedAt, o.Now, string(cur.PaymentStatus))
	if isUniqueViolation(err) {
		return Purchase{}, AuditEntry{}, fmt.Errorf("%w: listing %s already has an open purchase", ErrInvalidStateTransition, cur.ListingID)
	}
	if err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO admin_audit(id, purchase_id, actor, from_listing, to_listing, from_payment, to_payment, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.PurchaseID, entry.Actor, string(entry.FromListing), string(entry.ToListing),
		string(entry.FromPayment), string(entry.ToPayment), entry.Reason, entry.CreatedAt); err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Purchase{}, AuditEntry{}, err
	}
	return next, entry, nil
}

// PlanOverride checks an override's expectations against the current state
// and computes the target. changed is false when nothing would move.
func PlanOverride(cur Purchase, curListing ListingStatus, o Override) (Purchase, AuditEntry, bool, error) {
	if o.ExpectListing != nil && *o.ExpectListing != curListing {
		return cur, AuditEntry{}, false, fmt.Errorf("%w: listing is %s, expected %s", ErrStaleState, curListing, *o.ExpectListing)
	}
	if o.ExpectPayment != nil && *o.ExpectPayment != cur.PaymentStatus {
		return cur, AuditEntry{}, false, fmt.Errorf("%w: payment is %s, expected %s", ErrStaleState, cur.PaymentStatus, *o.ExpectPayment)
	}
	toL, toP := curListing, cur.PaymentStatus
	if o.Listing != nil {
		if !o.Listing.Valid() {
			return cur, AuditEntry{}, false, fmt.Errorf("%w: unknown listing status %q", ErrInvalidStateTransition, *o.Listing)
		}
		toL = *o.Listing
	}
	if o.Payment != nil {
		if !o.Payment.Valid() {
			return cur, AuditEntry{}, false, fmt.Errorf("%w: unknown payment status %q", ErrInvalidStateTransition, *o.Payment)
		}
		toP = *o.Payment
	}
	if toL == curListing && toP == cur.PaymentStatus {
		return cur, AuditEntry{}, false, nil
	}

	next := cur
	next.PaymentStatus = toP
	next.UpdatedAt = o.Now
	if toP == PaymentCompleted && next.CompletedAt == nil {
		now := o.Now
		next.CompletedAt = &now
	}
	entry := AuditEntry{
		ID:          uuid.NewString(),
		PurchaseID:  cur.ID,
		Actor:       o.Actor,
		FromListing: curListing,
		ToListing:   toL,
		FromPayment: cur.PaymentStatus,
		ToPayment:   toP,
		Reason:      o.Reason,
		CreatedAt:   o.Now,
	}
	return next, entry, true, nil
}

// DeleteAttempt removes a FAILED or REFUNDED purchase. The listing is never
// touched; an attempt that is still the one holding its listing is refused.
func (r *Repo) DeleteAttempt(ctx context.Context, purchaseID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockPurchase(ctx, tx, PurchaseRef{ID: purchaseID})
	if err != nil {
		return err
	}
	var (
		status string
		others int
	)
	err = tx.QueryRow(ctx, `
		SELECT l.status,
		       (SELECT count(*) FROM purchases o
		        WHERE o.listing_id = l.id AND o.id <> $2 AND o.payment_status IN ('PENDING','COMPLETED'))
		FROM listings l WHERE l.id=$1`, cur.ListingID, cur.ID).Scan(&status, &others)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err := CheckDeletable(cur, ListingStatus(status), others); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, cur.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CheckDeletable reports why p may not be deleted, if anything. otherOpen
// counts other PENDING/COMPLETED purchases on the same listing.
func CheckDeletable(p Purchase, listing ListingStatus, otherOpen int) error {
	if p.PaymentStatus != PaymentFailed && p.PaymentStatus != PaymentRefunded {
		return fmt.Errorf("%w: cannot delete a %s purchase", ErrInvalidStateTransition, p.PaymentStatus)
	}
	if (listing == ListingPending || listing == ListingPurchased) && otherOpen == 0 {
		return fmt.Errorf("%w: purchase %s still holds listing %s (%s)", ErrInvalidStateTransition, p.ID, p.ListingID, listing)
	}
	return nil
}

func (r *Repo) AuditTrail(ctx context.Context, purchaseID string) ([]AuditEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, purchase_id, actor, from_listing, to_listing, from_payment, to_payment, reason, created_at
		FROM admin_audit WHERE purchase_id=$1 ORDER BY created_at`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e              AuditEntry
			fl, tl, fp, tp string
		)
		if err := rows.Scan(&e.ID, &e.PurchaseID, &e.Actor, &fl, &tl, &fp, &tp, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromListing, e.ToListing = ListingStatus(fl), ListingStatus(tl)
		e.FromPayment, e.ToPayment = PaymentStatus(fp), PaymentStatus(tp)
		out = append(out, e)
	}
	return out, rows.Err()
}
