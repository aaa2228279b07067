package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *Repo) RecordMismatch(ctx context.Context, m Mismatch) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO reconciliation_mismatches(id, processor_ref, outcome, purchase_id, reason, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.ProcessorRef, string(m.Outcome), nullable(m.PurchaseID), m.Reason, m.DetectedAt)
	return err
}

func (r *Repo) Mismatches(ctx context.Context, limit int) ([]Mismatch, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, processor_ref, outcome, purchase_id, reason, detected_at
		FROM reconciliation_mismatches ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mismatch
	for rows.Next() {
		var (
			m       Mismatch
			outcome string
			pid     *string
		)
		if err := rows.Scan(&m.ID, &m.ProcessorRef, &outcome, &pid, &m.Reason, &m.DetectedAt); err != nil {
			return nil, err
		}
		m.Outcome = Outcome(outcome)
		if pid != nil {
			m.PurchaseID = *pid
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) StalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Purchase, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+purchaseCols+` FROM purchases
		WHERE payment_status='PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StatePairs: tiap listing dipasangkan dengan purchase terbarunya (kalau ada).
func (r *Repo) StatePairs(ctx context.Context) ([]StatePair, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT DISTINCT ON (l.id) l.id, l.status, p.id, p.payment_status
		FROM listings l
		LEFT JOIN purchases p ON p.listing_id = l.id
		ORDER BY l.id, p.created_at DESC NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatePair
	for rows.Next() {
		var (
			sp       StatePair
			ls       string
			pid, pst *string
		)
		if err := rows.Scan(&sp.ListingID, &ls, &pid, &pst); err != nil {
			return nil, err
		}
		sp.ListingStatus = ListingStatus(ls)
		if pid != nil {
			sp.PurchaseID = *pid
		}
		if pst != nil {
			sp.PaymentStatus = PaymentStatus(*pst)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (r *Repo) ReplaceAnomalies(ctx context.Context, as []Anomaly) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM anomalies`); err != nil {
		return err
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"anomalies"},
		[]string{"listing_id", "purchase_id", "listing_status", "payment_status", "detected_at"},
		pgx.CopyFromSlice(len(as), func(i int) ([]any, error) {
			a := as[i]
			return []any{a.ListingID, nullable(a.PurchaseID), string(a.ListingStatus), string(a.PaymentStatus), a.DetectedAt}, nil
		}),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Anomalies(ctx context.Context) ([]Anomaly, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT listing_id, purchase_id, listing_status, payment_status, detected_at
		FROM anomalies ORDER BY detected_at, listing_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var (
			a      Anomaly
			pid    *string
			ls, ps string
		)
		if err := rows.Scan(&a.ListingID, &pid, &ls, &ps, &a.DetectedAt); err != nil {
			return nil, err
		}
		if pid != nil {
			a.PurchaseID = *pid
		}
		a.ListingStatus, a.PaymentStatus = ListingStatus(ls), PaymentStatus(ps)
		out = append(out, a)
	}
	return out, rows.Err()
}
