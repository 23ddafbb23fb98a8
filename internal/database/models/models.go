// Package models holds the persisted and in-memory domain types shared by
// the scheduler, call executor, IVR, and agent dispatcher.
package models

import "time"

// CampaignStatus is the lifecycle state of a Campaign.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

// IsChannelHolding reports whether a campaign in this status still holds a
// reservation against its owner's channel budget.
func (s CampaignStatus) IsChannelHolding() bool {
	switch s {
	case CampaignScheduled, CampaignRunning, CampaignPaused:
		return true
	default:
		return false
	}
}

// Terminal reports whether the campaign will never hold a budget again.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// Campaign is an outbound dialing campaign: a set of contacts, a time
// window, and a concurrency budget.
type Campaign struct {
	ID              int64
	OwnerUserID     int64
	Name            string
	StartDate       time.Time
	EndDate         time.Time
	MaxRetries      int
	ConcurrentCalls int
	RetryOnAnswer   bool
	Status          CampaignStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ContactCallStatus is the per-contact dialing status.
type ContactCallStatus string

const (
	ContactNotCalled ContactCallStatus = "NOT_CALLED"
	ContactCalling   ContactCallStatus = "CALLING"
	ContactSuccess   ContactCallStatus = "SUCCESS"
	ContactFailed    ContactCallStatus = "FAILED"
)

// Contact is one phone number within a campaign along with the message to
// deliver and the outcome of the most recent attempt.
type Contact struct {
	ID              int64
	CampaignID      int64
	Phone           string
	Message         string
	Sequence        int64
	AttemptCount    int
	CallStatus      ContactCallStatus
	HangupCode      int
	HangupCause     string
	StartedAt       *time.Time
	AnsweredAt      *time.Time
	FinishedAt      *time.Time
	ActiveChannelID string // empty when not CALLING
}

// CommitmentSource records whether a Commitment was captured automatically
// by the IVR or entered manually by an agent.
type CommitmentSource string

const (
	CommitmentAutomatic CommitmentSource = "AUTOMATIC"
	CommitmentManual    CommitmentSource = "MANUAL"
)

// Commitment is a promise-to-pay captured for a contact, either through the
// post-call IVR or recorded manually by an agent.
type Commitment struct {
	ID             int64
	ContactID      int64
	CampaignID     int64
	CommitmentDate time.Time
	Source         CommitmentSource
	AgentUserID    *int64
	Note           string
	CreatedAt      time.Time
}

// StepCapture is the DTMF capture mode for a PostCallMenu step.
type StepCapture string

const (
	CaptureSingleDigit StepCapture = "single_digit"
	CaptureNumeric     StepCapture = "numeric"
)

// StepValidation is the validation rule applied to a captured step answer.
type StepValidation string

const (
	ValidationNone         StepValidation = "none"
	ValidationDay1To28     StepValidation = "day_1_28"
	ValidationDayLaborable StepValidation = "day_laborable"
)

// Step is one prompt/capture/validate unit within a menu option.
type Step struct {
	Prompt       string         `json:"prompt"`
	Capture      StepCapture    `json:"capture"`
	MaxDigits    int            `json:"maxDigits,omitempty"`
	Validation   StepValidation `json:"validation"`
	ErrorMessage string         `json:"errorMessage"`
	SaveAs       string         `json:"saveAs"`
}

// OptionAction is the terminal action a menu option dispatches to once its
// steps complete successfully.
type OptionAction string

const (
	ActionTransferAgent OptionAction = "transfer_agent"
	ActionPaymentCommit OptionAction = "payment_commitment"
)

// MenuOption is one selectable digit within a PostCallMenu.
type MenuOption struct {
	Key    string       `json:"key"`
	Action OptionAction `json:"action"`
	Text   string       `json:"text"`
	Steps  []Step       `json:"steps"`
}

// PostCallMenu is the 1-1 IVR configuration attached to a Campaign, run
// after an answered call finishes playing its TTS message.
type PostCallMenu struct {
	ID              int64
	CampaignID      int64
	Active          bool
	Greeting        string
	QueueMessage    string
	ConfirmationMsg string
	ErrorMessage    string
	Options         []MenuOption
	UpdatedAt       time.Time
}

// ChannelBudget is the per-user concurrency ceiling shared across all of
// that user's running campaigns. Reservation and release happen with an
// atomic conditional UPDATE against UsedChannels, never a read-modify-write.
type ChannelBudget struct {
	UserID       int64
	MaxChannels  int
	UsedChannels int
	UpdatedAt    time.Time
}

// User is a tenant/owner of campaigns, or a call-center agent identity.
// Full account management (auth, RBAC) is out of scope; this is the
// minimal row the engine needs to hang channel budgets and agent state off.
type User struct {
	ID          int64
	Username    string
	Role        string // "admin", "supervisor", "agent"
	Extension   string // only set for agents
	MaxChannels int
}

// AgentEventType enumerates the append-only dispatcher lifecycle events.
type AgentEventType string

const (
	AgentEventAssigned     AgentEventType = "ASSIGNED"
	AgentEventConnected    AgentEventType = "CONNECTED"
	AgentEventTimeout      AgentEventType = "TIMEOUT"
	AgentEventAbandoned    AgentEventType = "CLIENT_ABANDONED"
	AgentEventFinished     AgentEventType = "FINISHED"
	AgentEventBreakStarted AgentEventType = "BREAK_STARTED"
	AgentEventBreakEnded   AgentEventType = "BREAK_ENDED"
)

// AgentEvent is a durable record of one dispatcher lifecycle transition,
// used for dedup (FINISHED) and for historical reporting.
type AgentEvent struct {
	ID         int64
	Type       AgentEventType
	AgentID    int64
	ContactID  *int64
	CampaignID *int64
	Detail     string
	CreatedAt  time.Time
}
