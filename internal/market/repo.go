package market

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const purchaseCols = `id, listing_id, buyer_id, total_cents, platform_fee_cents, seller_amount_cents,
	currency, payment_status, processor_ref, folio, collection_date, collection_time, pickup_agent,
	created_at, updated_at, completed_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var (
		p          Purchase
		status     string
		ref, folio *string
	)
	err := row.Scan(&p.ID, &p.ListingID, &p.BuyerID, &p.TotalCents, &p.PlatformFeeCents, &p.SellerAmountCents,
		&p.Currency, &status, &ref, &folio, &p.Details.CollectionDate, &p.Details.CollectionTime, &p.Details.PickupAgent,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return Purchase{}, err
	}
	p.PaymentStatus = PaymentStatus(status)
	if ref != nil {
		p.ProcessorRef = *ref
	}
	if folio != nil {
		p.Folio = *folio
	}
	return p, nil
}

func (r *Repo) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	p, err := scanPurchase(r.DB.QueryRow(ctx, `SELECT `+purchaseCols+` FROM purchases WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) FindByProcessorRef(ctx context.Context, processorRef string) (Purchase, error) {
	p, err := scanPurchase(r.DB.QueryRow(ctx, `SELECT `+purchaseCols+` FROM purchases WHERE processor_ref=$1`, processorRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) GetListing(ctx context.Context, id string) (Listing, error) {
	var (
		l           Listing
		cat, status string
	)
	err := r.DB.QueryRow(ctx, `SELECT id, owner_id, category, quantity, status, created_at, updated_at
	                           FROM listings WHERE id=$1`, id).
		Scan(&l.ID, &l.OwnerID, &cat, &l.Quantity, &status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, ErrListingNotFound
	}
	if err != nil {
		return Listing{}, err
	}
	l.Category, l.Status = Category(cat), ListingStatus(status)
	return l, nil
}

// lockPurchase: SELECT ... FOR UPDATE by id, atau by processor_ref kalau id kosong.
func lockPurchase(ctx context.Context, tx pgx.Tx, ref PurchaseRef) (Purchase, error) {
	q, arg := `SELECT `+purchaseCols+` FROM purchases WHERE id=$1 FOR UPDATE`, ref.ID
	if ref.ID == "" {
		q, arg = `SELECT `+purchaseCols+` FROM purchases WHERE processor_ref=$1 FOR UPDATE`, ref.ProcessorRef
	}
	p, err := scanPurchase(tx.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	return p, err
}

func lockListingStatus(ctx context.Context, tx pgx.Tx, listingID string) (ListingStatus, error) {
	var s string
	err := tx.QueryRow(ctx, `SELECT status FROM listings WHERE id=$1 FOR UPDATE`, listingID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrListingNotFound
	}
	return ListingStatus(s), err
}

// nextFolio draws from purchase_folio_seq; nextval never hands out a value twice.
func nextFolio(ctx context.Context, tx pgx.Tx, p Purchase) (string, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('purchase_folio_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return FormatFolio(seq, p.UpdatedAt), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
