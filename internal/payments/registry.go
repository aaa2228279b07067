package payments

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry reads payout_accounts, which the onboarding flow owns. A seller
// without a row gets a zero account that is not Ready.
type Registry struct{ DB *pgxpool.Pool }

func (r *Registry) GetPayoutAccount(ctx context.Context, sellerID string) (market.PayoutAccount, error) {
	a := market.PayoutAccount{SellerID: sellerID}
	err := r.DB.QueryRow(ctx, `
		SELECT external_ref, can_accept_charges, can_receive_payouts, details_submitted
		FROM payout_accounts WHERE seller_id=$1`, sellerID).
		Scan(&a.ExternalRef, &a.CanAcceptCharges, &a.CanReceivePayouts, &a.DetailsSubmitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	return a, err
}

// UpdateCapabilities applies an account.updated notification. Unknown
// accounts are ignored: they have not finished linking to a seller yet.
func (r *Registry) UpdateCapabilities(ctx context.Context, u AccountUpdate) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payout_accounts
		SET can_accept_charges=$2, can_receive_payouts=$3, details_submitted=$4, updated_at=now()
		WHERE external_ref=$1`,
		u.ExternalRef, u.CanAcceptCharges, u.CanReceivePayouts, u.DetailsSubmitted)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
