package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

// campaignRepo implements CampaignRepository.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

const campaignColumns = `id, owner_user_id, name, start_date, end_date, max_retries,
	concurrent_calls, retry_on_answer, status, created_at, updated_at`

func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO campaigns (owner_user_id, name, start_date, end_date, max_retries,
		 concurrent_calls, retry_on_answer, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		c.OwnerUserID, c.Name, c.StartDate, c.EndDate, c.MaxRetries,
		c.ConcurrentCalls, c.RetryOnAnswer, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
}

func (r *campaignRepo) List(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *campaignRepo) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns by status: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListDue returns campaigns within their dialing window, ordered by owner
// then id so the scheduler's per-tick pass gives every owner a fair shot
// at the batch rather than letting one owner's campaigns starve another's.
func (r *campaignRepo) ListDue(ctx context.Context, asOf, now int64) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE status IN ('SCHEDULED', 'RUNNING')
		   AND start_date <= $1 AND end_date >= $1
		 ORDER BY owner_user_id, id`,
		time.Unix(now, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("querying due campaigns: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *campaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET name = $1, start_date = $2, end_date = $3, max_retries = $4,
		 concurrent_calls = $5, retry_on_answer = $6, status = $7, owner_user_id = $8,
		 updated_at = NOW()
		 WHERE id = $9`,
		c.Name, c.StartDate, c.EndDate, c.MaxRetries, c.ConcurrentCalls,
		c.RetryOnAnswer, c.Status, c.OwnerUserID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

func (r *campaignRepo) UpdateStatus(ctx context.Context, id int64, status models.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating campaign status: %w", err)
	}
	return nil
}

func (r *campaignRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting campaign: %w", err)
	}
	return nil
}

func (r *campaignRepo) scanOne(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.Name, &c.StartDate, &c.EndDate, &c.MaxRetries,
		&c.ConcurrentCalls, &c.RetryOnAnswer, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}

func (r *campaignRepo) scanMany(rows *sql.Rows) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.OwnerUserID, &c.Name, &c.StartDate, &c.EndDate, &c.MaxRetries,
			&c.ConcurrentCalls, &c.RetryOnAnswer, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
