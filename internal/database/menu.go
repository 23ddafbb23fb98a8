package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/voxdialer/engine/internal/database/models"
)

// menuRepo implements MenuRepository.
type menuRepo struct {
	db *DB
}

// NewMenuRepository creates a new MenuRepository.
func NewMenuRepository(db *DB) MenuRepository {
	return &menuRepo{db: db}
}

func (r *menuRepo) GetByCampaign(ctx context.Context, campaignID int64) (*models.PostCallMenu, error) {
	var m models.PostCallMenu
	var optionsJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, active, greeting, queue_message, confirmation_msg,
		 error_message, options, updated_at
		 FROM post_call_menus WHERE campaign_id = $1`, campaignID,
	).Scan(&m.ID, &m.CampaignID, &m.Active, &m.Greeting, &m.QueueMessage,
		&m.ConfirmationMsg, &m.ErrorMessage, &optionsJSON, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying post-call menu: %w", err)
	}
	if err := json.Unmarshal(optionsJSON, &m.Options); err != nil {
		return nil, fmt.Errorf("decoding menu options: %w", err)
	}
	return &m, nil
}

func (r *menuRepo) Upsert(ctx context.Context, m *models.PostCallMenu) error {
	optionsJSON, err := json.Marshal(m.Options)
	if err != nil {
		return fmt.Errorf("encoding menu options: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO post_call_menus (campaign_id, active, greeting, queue_message,
		 confirmation_msg, error_message, options, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (campaign_id) DO UPDATE SET
		   active = EXCLUDED.active,
		   greeting = EXCLUDED.greeting,
		   queue_message = EXCLUDED.queue_message,
		   confirmation_msg = EXCLUDED.confirmation_msg,
		   error_message = EXCLUDED.error_message,
		   options = EXCLUDED.options,
		   updated_at = NOW()
		 RETURNING id, updated_at`,
		m.CampaignID, m.Active, m.Greeting, m.QueueMessage, m.ConfirmationMsg,
		m.ErrorMessage, optionsJSON,
	).Scan(&m.ID, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting post-call menu: %w", err)
	}
	return nil
}

func (r *menuRepo) Delete(ctx context.Context, campaignID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM post_call_menus WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return fmt.Errorf("deleting post-call menu: %w", err)
	}
	return nil
}
