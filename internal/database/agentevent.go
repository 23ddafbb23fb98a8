package database

import (
	"context"
	"fmt"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

// agentEventRepo implements AgentEventRepository.
type agentEventRepo struct {
	db *DB
}

// NewAgentEventRepository creates a new AgentEventRepository.
func NewAgentEventRepository(db *DB) AgentEventRepository {
	return &agentEventRepo{db: db}
}

func (r *agentEventRepo) Create(ctx context.Context, e *models.AgentEvent) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO agent_events (type, agent_id, contact_id, campaign_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		e.Type, e.AgentID, e.ContactID, e.CampaignID, e.Detail,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}
	return nil
}

// ExistsSince backs the onAgentCallFinished dedup window: a FINISHED event
// for the same agent/contact pair recorded at or after unix time sinceUnix
// means this notification is a duplicate delivery, not a new finish.
func (r *agentEventRepo) ExistsSince(ctx context.Context, eventType models.AgentEventType, agentID, contactID int64, sinceUnix int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM agent_events
			WHERE type = $1 AND agent_id = $2 AND contact_id = $3 AND created_at >= $4
		 )`,
		eventType, agentID, contactID, time.Unix(sinceUnix, 0).UTC(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking agent event dedup: %w", err)
	}
	return exists, nil
}

func (r *agentEventRepo) ListByAgent(ctx context.Context, agentID int64, limit int) ([]models.AgentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, agent_id, contact_id, campaign_id, detail, created_at
		 FROM agent_events WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []models.AgentEvent
	for rows.Next() {
		var e models.AgentEvent
		if err := rows.Scan(&e.ID, &e.Type, &e.AgentID, &e.ContactID, &e.CampaignID,
			&e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
