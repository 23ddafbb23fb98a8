package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdialer/engine/internal/database/models"
)

// commitmentRepo implements CommitmentRepository.
type commitmentRepo struct {
	db *DB
}

// NewCommitmentRepository creates a new CommitmentRepository.
func NewCommitmentRepository(db *DB) CommitmentRepository {
	return &commitmentRepo{db: db}
}

func (r *commitmentRepo) Create(ctx context.Context, c *models.Commitment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO commitments (contact_id, campaign_id, commitment_date, source,
		 agent_user_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id, created_at`,
		c.ContactID, c.CampaignID, c.CommitmentDate, c.Source, c.AgentUserID, c.Note,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting commitment: %w", err)
	}
	return nil
}

func (r *commitmentRepo) ListByCampaign(ctx context.Context, campaignID int64) ([]models.Commitment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, contact_id, campaign_id, commitment_date, source, agent_user_id, note, created_at
		 FROM commitments WHERE campaign_id = $1 ORDER BY commitment_date`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying commitments: %w", err)
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func (r *commitmentRepo) ListByContact(ctx context.Context, contactID int64) ([]models.Commitment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, contact_id, campaign_id, commitment_date, source, agent_user_id, note, created_at
		 FROM commitments WHERE contact_id = $1 ORDER BY created_at DESC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("querying commitments: %w", err)
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func scanCommitments(rows *sql.Rows) ([]models.Commitment, error) {
	var commitments []models.Commitment
	for rows.Next() {
		var c models.Commitment
		if err := rows.Scan(&c.ID, &c.ContactID, &c.CampaignID, &c.CommitmentDate,
			&c.Source, &c.AgentUserID, &c.Note, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning commitment row: %w", err)
		}
		commitments = append(commitments, c)
	}
	return commitments, rows.Err()
}
