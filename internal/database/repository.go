package database

import (
	"context"

	"github.com/voxdialer/engine/internal/database/models"
)

// UserRepository manages campaign owners and agent identities.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
	Update(ctx context.Context, u *models.User) error
}

// ChannelBudgetRepository manages per-user channel concurrency ceilings.
// Reserve and Release must be implemented as atomic conditional UPDATEs,
// never a read followed by a separate write.
type ChannelBudgetRepository interface {
	Get(ctx context.Context, userID int64) (*models.ChannelBudget, error)
	Upsert(ctx context.Context, userID int64, maxChannels int) error
	// Reserve atomically increments UsedChannels by n if the result would
	// not exceed MaxChannels. It reports whether the reservation succeeded.
	Reserve(ctx context.Context, userID int64, n int) (bool, error)
	// Release atomically decrements UsedChannels by n, floored at zero.
	Release(ctx context.Context, userID int64, n int) error
	// Recompute sets UsedChannels to the sum of ConcurrentCalls across every
	// campaign the user owns that is SCHEDULED, RUNNING, or PAUSED. Used at
	// startup and after zombie recovery to correct drift, since a channel
	// slot is held for a campaign's whole active lifetime, not per in-flight
	// call.
	Recompute(ctx context.Context, userID int64) error
	// ListAll returns every owner's budget row, for metrics scraping.
	ListAll(ctx context.Context) ([]models.ChannelBudget, error)
}

// CampaignRepository manages outbound dialing campaigns.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error)
	// ListDue returns campaigns whose window has opened, are not paused or
	// terminal, ordered for fair round-robin scheduling across owners.
	ListDue(ctx context.Context, asOf, now int64) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	UpdateStatus(ctx context.Context, id int64, status models.CampaignStatus) error
	Delete(ctx context.Context, id int64) error
}

// ContactSelection is one contact claimed for dialing by SelectForDialing,
// along with the lock it holds until the caller commits or rolls back.
type ContactSelection struct {
	Contact *models.Contact
	Commit  func(ctx context.Context) error
	Cancel  func() error
}

// ContactRepository manages contacts within a campaign.
type ContactRepository interface {
	Create(ctx context.Context, c *models.Contact) error
	BulkCreate(ctx context.Context, contacts []models.Contact) error
	GetByID(ctx context.Context, id int64) (*models.Contact, error)
	GetByActiveChannelID(ctx context.Context, channelID string) (*models.Contact, error)
	ListByCampaign(ctx context.Context, campaignID int64) ([]models.Contact, error)
	CountPending(ctx context.Context, campaignID int64) (int64, error)
	// CountActive returns the number of contacts currently in CALLING
	// status across every campaign, for metrics scraping.
	CountActive(ctx context.Context) (int64, error)
	// CountCalling returns the number of contacts currently in CALLING
	// status within a single campaign, so the scheduler can bound dialing
	// to the campaign's own concurrentCalls ceiling.
	CountCalling(ctx context.Context, campaignID int64) (int64, error)
	// SelectForDialing locks up to limit NOT_CALLED (or FAILED-eligible-for-
	// retry) rows within campaignID using SELECT ... FOR UPDATE SKIP LOCKED,
	// then promotes them to CALLING (incrementing attempt_count, setting
	// started_at) within the same transaction, so the claim is visible to
	// every other transaction the instant it commits and a contact can never
	// be picked by two selections at once.
	SelectForDialing(ctx context.Context, campaignID int64, maxRetries int, limit int) ([]ContactSelection, error)
	// SetActiveChannel updates the channel currently associated with a
	// CALLING contact, used when the trunk loop moves to a fresh channel ID
	// on a retry without bumping attempt_count again.
	SetActiveChannel(ctx context.Context, id int64, channelID string) error
	MarkAnswered(ctx context.Context, id int64, answeredAt int64) error
	MarkFinished(ctx context.Context, id int64, status models.ContactCallStatus, hangupCode int, hangupCause string, finishedAt int64) error
	// RecoverOrphaned resets every contact left CALLING by a process that
	// died mid-call back to FAILED with cause SYSTEM_RESTART, and returns
	// the affected campaign IDs so their budgets can be recomputed.
	RecoverOrphaned(ctx context.Context) ([]int64, error)
}

// MenuRepository manages the post-call IVR menu attached to a campaign.
type MenuRepository interface {
	GetByCampaign(ctx context.Context, campaignID int64) (*models.PostCallMenu, error)
	Upsert(ctx context.Context, m *models.PostCallMenu) error
	Delete(ctx context.Context, campaignID int64) error
}

// CommitmentRepository manages promise-to-pay records.
type CommitmentRepository interface {
	Create(ctx context.Context, c *models.Commitment) error
	ListByCampaign(ctx context.Context, campaignID int64) ([]models.Commitment, error)
	ListByContact(ctx context.Context, contactID int64) ([]models.Commitment, error)
}

// AgentEventRepository manages the append-only agent dispatcher event log.
type AgentEventRepository interface {
	Create(ctx context.Context, e *models.AgentEvent) error
	// ExistsSince reports whether an event of the given type for this
	// agent/contact pair was recorded within the lookback window, used to
	// dedup onAgentCallFinished notifications that arrive more than once.
	ExistsSince(ctx context.Context, eventType models.AgentEventType, agentID, contactID int64, sinceUnix int64) (bool, error)
	ListByAgent(ctx context.Context, agentID int64, limit int) ([]models.AgentEvent, error)
}
