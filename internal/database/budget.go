package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdialer/engine/internal/database/models"
)

// BudgetError reports that a channel budget reservation could not be
// satisfied because it would exceed the owner's configured ceiling.
type BudgetError struct {
	Max       int
	Used      int
	Requested int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("channel budget exceeded: max=%d used=%d requested=%d", e.Max, e.Used, e.Requested)
}

// channelBudgetRepo implements ChannelBudgetRepository.
type channelBudgetRepo struct {
	db *DB
}

// NewChannelBudgetRepository creates a new ChannelBudgetRepository.
func NewChannelBudgetRepository(db *DB) ChannelBudgetRepository {
	return &channelBudgetRepo{db: db}
}

func (r *channelBudgetRepo) Get(ctx context.Context, userID int64) (*models.ChannelBudget, error) {
	var b models.ChannelBudget
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, max_channels, used_channels, updated_at
		 FROM channel_budgets WHERE user_id = $1`, userID,
	).Scan(&b.UserID, &b.MaxChannels, &b.UsedChannels, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel budget: %w", err)
	}
	return &b, nil
}

func (r *channelBudgetRepo) Upsert(ctx context.Context, userID int64, maxChannels int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_budgets (user_id, max_channels, used_channels, updated_at)
		 VALUES ($1, $2, 0, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET max_channels = EXCLUDED.max_channels, updated_at = NOW()`,
		userID, maxChannels,
	)
	if err != nil {
		return fmt.Errorf("upserting channel budget: %w", err)
	}
	return nil
}

// Reserve performs the entire check-and-increment as a single UPDATE whose
// WHERE clause re-checks the invariant at write time, so two campaign
// creates or updates racing on the same owner's budget can never both
// succeed past the cap.
func (r *channelBudgetRepo) Reserve(ctx context.Context, userID int64, n int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_budgets
		 SET used_channels = used_channels + $2, updated_at = NOW()
		 WHERE user_id = $1 AND used_channels + $2 <= max_channels`,
		userID, n,
	)
	if err != nil {
		return false, fmt.Errorf("reserving channel budget: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reservation result: %w", err)
	}
	return rows == 1, nil
}

func (r *channelBudgetRepo) Release(ctx context.Context, userID int64, n int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE channel_budgets
		 SET used_channels = GREATEST(used_channels - $2, 0), updated_at = NOW()
		 WHERE user_id = $1`,
		userID, n,
	)
	if err != nil {
		return fmt.Errorf("releasing channel budget: %w", err)
	}
	return nil
}

// ListAll returns every owner's budget row, for metrics scraping.
func (r *channelBudgetRepo) ListAll(ctx context.Context) ([]models.ChannelBudget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, max_channels, used_channels, updated_at FROM channel_budgets ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying channel budgets: %w", err)
	}
	defer rows.Close()

	var budgets []models.ChannelBudget
	for rows.Next() {
		var b models.ChannelBudget
		if err := rows.Scan(&b.UserID, &b.MaxChannels, &b.UsedChannels, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning channel budget row: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// Recompute is the reconciliation path run at startup and after zombie
// recovery: a channel slot is held for a campaign's whole active lifetime,
// not per in-flight call, so UsedChannels is derived from the sum of
// ConcurrentCalls over the owner's non-terminal campaigns rather than from
// a live count of CALLING contacts, which would undercount after a crash
// zeroes out every in-flight call without releasing its campaign's slots.
func (r *channelBudgetRepo) Recompute(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE channel_budgets
		 SET used_channels = COALESCE((
			SELECT SUM(concurrent_calls) FROM campaigns
			WHERE owner_user_id = $1
			  AND status IN ('SCHEDULED', 'RUNNING', 'PAUSED')
		 ), 0),
		 updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("recomputing channel budget: %w", err)
	}
	return nil
}
