package repository

import (
	"context"
	"database/sql"
)

// CreditRepositoryInterface defines methods used by admission control
type CreditRepositoryInterface interface {
	Remaining(ctx context.Context, brandID string) (int, error)
}

type CreditRepository struct {
	DB *sql.DB
}

// Remaining returns the brand's credit balance. A brand without a ledger row
// has none.
func (r *CreditRepository) Remaining(ctx context.Context, brandID string) (int, error) {
	var remaining int
	err := r.DB.QueryRowContext(ctx, `SELECT remaining FROM brand_credits WHERE brand_id=$1`, brandID).Scan(&remaining)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return remaining, nil
}

var _ CreditRepositoryInterface = (*CreditRepository)(nil)
