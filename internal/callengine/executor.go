// Package callengine drives a single outbound attempt from dial to
// disposition: trunk failover, the ringing/answered state machine, TTS
// playback, and handoff into the post-call IVR.
package callengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
	"github.com/voxdialer/engine/internal/telephony"
	"github.com/voxdialer/engine/internal/tts"
)

// Notifier pushes call lifecycle events to the dashboard. A nil Notifier is
// valid; Executor skips notification rather than requiring one.
type Notifier interface {
	NotifyCallInitiated(campaignID, contactID int64, channelID string)
	NotifyCallAnswered(campaignID, contactID int64, channelID string)
	NotifyCallFinished(campaignID, contactID int64, status models.ContactCallStatus, cause string)
}

// PostCallRunner takes over an answered channel, after Executor has played
// the campaign message, to drive the post-call IVR menu. It must return once the call
// should be considered complete; Executor hangs up the channel afterward if
// it is still up.
type PostCallRunner interface {
	Run(ctx context.Context, campaignID, contactID int64, channelID, audioFilename string)
}

// Executor places and supervises one outbound attempt at a time per call to
// CallWithTTS. It is safe to call CallWithTTS concurrently for distinct
// contacts; the scheduler is responsible for not calling it twice for the
// same contact at once.
type Executor struct {
	client   *telephony.Client
	events   *telephony.EventStream
	audio    *tts.Cache
	contacts database.ContactRepository
	notifier Notifier
	postCall PostCallRunner

	trunks      []string
	ringTimeout time.Duration
	hardTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates a call Executor bound to the given telephony adapter,
// TTS cache, and repositories. trunks is the static, ordered list of
// outbound trunk names tried for each attempt.
func NewExecutor(
	client *telephony.Client,
	events *telephony.EventStream,
	audio *tts.Cache,
	contacts database.ContactRepository,
	trunks []string,
	ringTimeout, hardTimeout time.Duration,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		client:      client,
		events:      events,
		audio:       audio,
		contacts:    contacts,
		trunks:      trunks,
		ringTimeout: ringTimeout,
		hardTimeout: hardTimeout,
		logger:      logger.With("subsystem", "call-executor"),
	}
}

// SetNotifier wires in the dashboard push layer. Optional.
func (e *Executor) SetNotifier(n Notifier) { e.notifier = n }

// SetPostCallRunner wires in the post-call IVR. Optional; without one,
// Executor plays the message and hangs up once playback finishes.
func (e *Executor) SetPostCallRunner(r PostCallRunner) { e.postCall = r }

// CallWithTTS synthesizes the contact's message, dials it through the trunk
// list until one trunk answers or all are exhausted, and owns the contact's
// disposition for the whole attempt — including the answered leg, which is
// why CallWithTTS does not return until the call is actually over. The
// contact has already been claimed CALLING by the scheduler's selection
// transaction; the owner's channel budget is reserved for the campaign's
// whole lifetime, not per attempt, so CallWithTTS does not touch it.
func (e *Executor) CallWithTTS(ctx context.Context, ownerUserID int64, campaign *models.Campaign, contact *models.Contact) {
	startedAt := time.Now()

	handle, err := e.audio.GetAudio(ctx, campaign.ID, contact.Message)
	if err != nil {
		e.logger.Warn("tts synthesis failed, marking contact failed",
			"contact_id", contact.ID, "campaign_id", campaign.ID, "error", err)
		e.finish(context.Background(), campaign.ID, contact, models.ContactFailed, 0, "TTS ERROR", startedAt)
		return
	}

	e.notify(func() { e.notifier.NotifyCallInitiated(campaign.ID, contact.ID, "") })

	if len(e.trunks) == 0 {
		e.logger.Error("no trunks configured", "contact_id", contact.ID)
		e.finish(context.Background(), campaign.ID, contact, models.ContactFailed, 0, "NO TRUNKS CONFIGURED", startedAt)
		return
	}

	hardDeadline := startedAt.Add(e.hardTimeout)

	var (
		answeredChannelID string
		answered          bool
		lastCause         int
	)

	for i, trunk := range e.trunks {
		if time.Now().After(hardDeadline) {
			e.logger.Warn("hard attempt timeout reached, abandoning trunk loop",
				"contact_id", contact.ID, "trunks_tried", i)
			break
		}

		channelID := uuid.NewString()
		endpoint := fmt.Sprintf("SIP/%s/%s", trunk, contact.Phone)
		variables := map[string]string{
			"CONTACT_ID":  fmt.Sprintf("%d", contact.ID),
			"CAMPAIGN_ID": fmt.Sprintf("%d", campaign.ID),
		}

		if err := e.contacts.SetActiveChannel(ctx, contact.ID, channelID); err != nil {
			e.logger.Error("setting active channel", "contact_id", contact.ID, "error", err)
		}

		sub := e.events.Subscribe(channelID)

		attemptCtx, cancelAttempt := context.WithDeadline(ctx, hardDeadline)
		_, origErr := e.client.Originate(attemptCtx, telephony.OriginateParams{
			Endpoint:       endpoint,
			ChannelID:      channelID,
			RingTimeoutSec: int(e.ringTimeout / time.Second),
			Variables:      variables,
		})
		if origErr != nil {
			cancelAttempt()
			e.events.Unsubscribe(channelID)
			e.logger.Warn("originate failed, trying next trunk",
				"contact_id", contact.ID, "trunk", trunk, "error", origErr)
			continue
		}

		up, destroyCause := e.waitForOutcome(attemptCtx, sub, e.ringTimeout)
		cancelAttempt()
		e.events.Unsubscribe(channelID)

		if up {
			answered = true
			answeredChannelID = channelID
			break
		}

		lastCause = destroyCause
		if terminatesTrunkLoop(destroyCause) {
			e.logger.Info("callee-level failure, not trying next trunk",
				"contact_id", contact.ID, "trunk", trunk, "cause", destroyCause)
			break
		}
		e.logger.Warn("trunk failed or not answered, trying next trunk",
			"contact_id", contact.ID, "trunk", trunk, "attempt", i+1, "cause", destroyCause)
	}

	if !answered {
		e.finish(context.Background(), campaign.ID, contact, models.ContactFailed, lastCause, causeDescription(lastCause), startedAt)
		return
	}

	answeredAt := time.Now()
	if err := e.contacts.MarkAnswered(ctx, contact.ID, answeredAt.Unix()); err != nil {
		e.logger.Error("marking contact answered", "contact_id", contact.ID, "error", err)
	}
	e.notify(func() { e.notifier.NotifyCallAnswered(campaign.ID, contact.ID, answeredChannelID) })

	e.runAnsweredCall(ctx, campaign, contact, answeredChannelID, handle, startedAt)
}

// runAnsweredCall plays the campaign message (and, if wired, hands off to
// the post-call IVR), then ensures the channel is torn down and the contact
// is marked finished regardless of how the far end hung up.
func (e *Executor) runAnsweredCall(ctx context.Context, campaign *models.Campaign, contact *models.Contact, channelID string, handle tts.AudioHandle, startedAt time.Time) {
	sub := e.events.Subscribe(channelID)
	defer e.events.Unsubscribe(channelID)

	if err := e.client.Play(ctx, channelID, "sound:"+handle.Filename); err != nil {
		e.logger.Error("starting message playback", "contact_id", contact.ID, "channel_id", channelID, "error", err)
	} else {
		e.waitForPlaybackEnd(ctx, sub, time.Until(startedAt.Add(e.hardTimeout)))
	}

	if e.postCall != nil {
		e.postCall.Run(ctx, campaign.ID, contact.ID, channelID, handle.Filename)
	}

	_ = e.client.Hangup(context.Background(), channelID)

	cause := e.drainFinalCause(sub)
	e.finish(context.Background(), campaign.ID, contact, models.ContactSuccess, cause, causeDescription(cause), startedAt)
}

// waitForOutcome consumes channel events until the channel answers (Up), is
// destroyed, or ringTimeout elapses with no progress. It reports whether the
// channel reached Up and, if destroyed, the cause code.
func (e *Executor) waitForOutcome(ctx context.Context, sub <-chan telephony.Event, ringTimeout time.Duration) (up bool, cause int) {
	timer := time.NewTimer(ringTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, 0
		case <-timer.C:
			return false, 0
		case evt, ok := <-sub:
			if !ok {
				return false, 0
			}
			switch evt.Type {
			case telephony.EventChannelStateChange:
				if evt.State == "Up" {
					return true, 0
				}
				if evt.State == "Ringing" {
					timer.Reset(ringTimeout)
				}
			case telephony.EventChannelDestroyed:
				return false, evt.CauseCode
			case telephony.EventWebSocketClose:
				return false, 0
			}
		}
	}
}

// waitForPlaybackEnd blocks until the message playback finishes, the channel
// is destroyed, StasisEnd fires, or hardTimeout (the time left until the hard
// timeout from attempt start) elapses.
func (e *Executor) waitForPlaybackEnd(ctx context.Context, sub <-chan telephony.Event, hardTimeout time.Duration) {
	timer := time.NewTimer(hardTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type == telephony.EventPlaybackFinished || evt.Type == telephony.EventChannelDestroyed || evt.Type == telephony.EventStasisEnd {
				return
			}
		}
	}
}

// drainFinalCause does a brief non-blocking check for a cause code the
// channel's own destroy event may have already delivered (e.g. the far end
// hanging up before our Hangup call lands); hanging up a channel that is
// already gone is harmless.
func (e *Executor) drainFinalCause(sub <-chan telephony.Event) int {
	select {
	case evt, ok := <-sub:
		if ok && evt.Type == telephony.EventChannelDestroyed {
			return evt.CauseCode
		}
	default:
	}
	return 16 // normal clearing: we initiated the hangup
}

func (e *Executor) finish(ctx context.Context, campaignID int64, contact *models.Contact, status models.ContactCallStatus, cause int, causeText string, startedAt time.Time) {
	if err := e.contacts.MarkFinished(ctx, contact.ID, status, cause, causeText, time.Now().Unix()); err != nil {
		e.logger.Error("marking contact finished", "contact_id", contact.ID, "error", err)
	}
	e.logger.Info("call finished",
		"contact_id", contact.ID, "campaign_id", campaignID, "status", status,
		"cause", causeText, "duration", time.Since(startedAt))
	e.notify(func() { e.notifier.NotifyCallFinished(campaignID, contact.ID, status, causeText) })
}

func (e *Executor) notify(f func()) {
	if e.notifier == nil {
		return
	}
	f()
}
