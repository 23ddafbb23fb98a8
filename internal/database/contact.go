package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

// contactRepo implements ContactRepository.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

const contactColumns = `id, campaign_id, phone, message, sequence, attempt_count,
	call_status, hangup_code, hangup_cause, started_at, answered_at, finished_at,
	active_channel_id`

func (r *contactRepo) Create(ctx context.Context, c *models.Contact) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO contacts (campaign_id, phone, message, sequence, call_status)
		 VALUES ($1, $2, $3, $4, 'NOT_CALLED')
		 RETURNING id`,
		c.CampaignID, c.Phone, c.Message, c.Sequence,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}
	return nil
}

// BulkCreate inserts contacts in a single transaction. Sequence must already
// be assigned by the caller so dial order is deterministic across batches.
func (r *contactRepo) BulkCreate(ctx context.Context, contacts []models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bulk insert transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contacts (campaign_id, phone, message, sequence, call_status)
		 VALUES ($1, $2, $3, $4, 'NOT_CALLED')`)
	if err != nil {
		return fmt.Errorf("preparing bulk insert: %w", err)
	}
	defer stmt.Close()

	for i := range contacts {
		if _, err := stmt.ExecContext(ctx, contacts[i].CampaignID, contacts[i].Phone,
			contacts[i].Message, contacts[i].Sequence); err != nil {
			return fmt.Errorf("inserting contact %d: %w", contacts[i].Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk insert: %w", err)
	}
	return nil
}

func (r *contactRepo) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
}

func (r *contactRepo) GetByActiveChannelID(ctx context.Context, channelID string) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE active_channel_id = $1`, channelID))
}

func (r *contactRepo) ListByCampaign(ctx context.Context, campaignID int64) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE campaign_id = $1 ORDER BY sequence`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *contactRepo) CountPending(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts c
		 JOIN campaigns camp ON camp.id = c.campaign_id
		 WHERE c.campaign_id = $1
		   AND (c.call_status = 'NOT_CALLED'
		        OR (c.call_status = 'FAILED' AND c.attempt_count < camp.max_retries)
		        OR c.call_status = 'CALLING')`,
		campaignID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending contacts: %w", err)
	}
	return count, nil
}

// CountActive returns the number of contacts currently CALLING across every
// campaign, for metrics scraping.
func (r *contactRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE call_status = 'CALLING'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active contacts: %w", err)
	}
	return count, nil
}

// CountCalling returns the number of contacts currently CALLING within a
// single campaign, so the scheduler can bound dialing to that campaign's
// own concurrentCalls ceiling independent of any other campaign's load.
func (r *contactRepo) CountCalling(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE campaign_id = $1 AND call_status = 'CALLING'`,
		campaignID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting calling contacts for campaign: %w", err)
	}
	return count, nil
}

// SelectForDialing locks up to limit dialable contacts for campaignID using
// FOR UPDATE SKIP LOCKED, so a second concurrent scheduler tick (or a second
// engine instance) skips rows already claimed rather than blocking on them,
// then promotes the locked rows to CALLING in the same transaction before
// returning. NOT_CALLED contacts are always eligible; FAILED contacts are
// eligible once attemptCount < maxRetries and finishedAt has cleared the 5s
// backoff. Each returned ContactSelection must be resolved with Commit or
// Cancel; the CALLING claim becomes visible to other transactions only once
// Commit runs, so a caller that crashes before committing leaves the row
// exactly as it found it rather than stuck CALLING.
func (r *contactRepo) SelectForDialing(ctx context.Context, campaignID int64, maxRetries int, limit int) ([]ContactSelection, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning selection transaction: %w", err)
	}

	backoffCutoff := time.Now().Add(-5 * time.Second)

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM contacts
		 WHERE campaign_id = $1
		   AND (call_status = 'NOT_CALLED'
		        OR (call_status = 'FAILED' AND attempt_count < $2 AND finished_at < $3))
		 ORDER BY
		   CASE WHEN call_status = 'NOT_CALLED' THEN 0 ELSE 1 END,
		   COALESCE(finished_at, to_timestamp(0)), sequence
		 LIMIT $4
		 FOR UPDATE SKIP LOCKED`,
		campaignID, maxRetries, backoffCutoff, limit,
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("selecting dialable contacts: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("scanning dialable contact id: %w", err)
		}
		ids = append(ids, id)
	}
	scanErr := rows.Err()
	rows.Close()
	if scanErr != nil {
		tx.Rollback() //nolint:errcheck
		return nil, scanErr
	}
	if len(ids) == 0 {
		tx.Rollback() //nolint:errcheck
		return nil, nil
	}

	claimRows, err := tx.QueryContext(ctx,
		`UPDATE contacts SET call_status = 'CALLING', attempt_count = attempt_count + 1,
		 started_at = $2, active_channel_id = ''
		 WHERE id = ANY($1)
		 RETURNING `+contactColumns,
		ids, time.Now(),
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("claiming dialable contacts: %w", err)
	}
	contacts, err := r.scanMany(claimRows)
	claimRows.Close()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	// Every selection shares the same transaction: the first Commit commits
	// the whole batch, and later Commit calls return that same result rather
	// than failing on the already-finished transaction.
	var commitOnce sync.Once
	var commitErr error
	commit := func(ctx context.Context) error {
		commitOnce.Do(func() { commitErr = tx.Commit() })
		return commitErr
	}

	selections := make([]ContactSelection, len(contacts))
	for i := range contacts {
		c := contacts[i]
		selections[i] = ContactSelection{
			Contact: &c,
			Commit:  commit,
			Cancel:  tx.Rollback,
		}
	}
	return selections, nil
}

func (r *contactRepo) SetActiveChannel(ctx context.Context, id int64, channelID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET active_channel_id = $2 WHERE id = $1`,
		id, channelID,
	)
	if err != nil {
		return fmt.Errorf("setting contact active channel: %w", err)
	}
	return nil
}

func (r *contactRepo) MarkAnswered(ctx context.Context, id int64, answeredAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET answered_at = $2 WHERE id = $1`,
		id, time.Unix(answeredAt, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking contact answered: %w", err)
	}
	return nil
}

func (r *contactRepo) MarkFinished(ctx context.Context, id int64, status models.ContactCallStatus, hangupCode int, hangupCause string, finishedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET call_status = $2, hangup_code = $3, hangup_cause = $4,
		 finished_at = $5, active_channel_id = ''
		 WHERE id = $1`,
		id, status, hangupCode, hangupCause, time.Unix(finishedAt, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking contact finished: %w", err)
	}
	return nil
}

// RecoverOrphaned sweeps every contact left CALLING by a process that died
// mid-call back to FAILED with a distinguished cause, so a restart never
// leaves a contact permanently stuck holding a channel reservation.
func (r *contactRepo) RecoverOrphaned(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE contacts SET call_status = 'FAILED', hangup_cause = 'SYSTEM_RESTART',
		 finished_at = NOW(), active_channel_id = ''
		 WHERE call_status = 'CALLING'
		 RETURNING campaign_id`)
	if err != nil {
		return nil, fmt.Errorf("recovering orphaned contacts: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	var campaignIDs []int64
	for rows.Next() {
		var campaignID int64
		if err := rows.Scan(&campaignID); err != nil {
			return nil, fmt.Errorf("scanning orphaned contact campaign: %w", err)
		}
		if _, ok := seen[campaignID]; !ok {
			seen[campaignID] = struct{}{}
			campaignIDs = append(campaignIDs, campaignID)
		}
	}
	return campaignIDs, rows.Err()
}

func (r *contactRepo) scanOne(row *sql.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Message, &c.Sequence, &c.AttemptCount,
		&c.CallStatus, &c.HangupCode, &c.HangupCause, &c.StartedAt, &c.AnsweredAt,
		&c.FinishedAt, &c.ActiveChannelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}
	return &c, nil
}

func (r *contactRepo) scanMany(rows *sql.Rows) ([]models.Contact, error) {
	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Message, &c.Sequence, &c.AttemptCount,
			&c.CallStatus, &c.HangupCode, &c.HangupCause, &c.StartedAt, &c.AnsweredAt,
			&c.FinishedAt, &c.ActiveChannelID); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
