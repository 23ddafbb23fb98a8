// Package ivr drives the post-call menu attached to a campaign: a single
// greeting-level digit selection that branches into a short sequence of
// prompt/capture/validate steps, ending in a terminal action. It plugs into
// the call executor as a callengine.PostCallRunner.
package ivr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
	"github.com/voxdialer/engine/internal/telephony"
)

// AgentTransferrer hands an answered channel off to the agent dispatcher.
// Optional: a Runner without one logs a warning when a transfer_agent option
// is selected and returns, after which the executor hangs up.
type AgentTransferrer interface {
	TransferToAgent(ctx context.Context, campaignID, contactID int64, channelID string)
}

// Runner executes one campaign's PostCallMenu against one answered channel.
type Runner struct {
	client *telephony.Client
	events *telephony.EventStream
	menus  database.MenuRepository
	commit database.CommitmentRepository
	agents AgentTransferrer
	logger *slog.Logger

	menuDTMFTimeout   time.Duration
	stepDTMFTimeout   time.Duration
	interDigitTimeout time.Duration
}

// New creates a post-call menu Runner.
func New(
	client *telephony.Client,
	events *telephony.EventStream,
	menus database.MenuRepository,
	commit database.CommitmentRepository,
	menuDTMFTimeout, stepDTMFTimeout, interDigitTimeout time.Duration,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		client:            client,
		events:            events,
		menus:             menus,
		commit:            commit,
		menuDTMFTimeout:   menuDTMFTimeout,
		stepDTMFTimeout:   stepDTMFTimeout,
		interDigitTimeout: interDigitTimeout,
		logger:            logger.With("subsystem", "ivr"),
	}
}

// SetAgentTransferrer wires in the agent dispatcher for transfer_agent
// options. Optional.
func (r *Runner) SetAgentTransferrer(a AgentTransferrer) { r.agents = a }

// Run plays the campaign's post-call greeting (if one is configured and
// active), collects a single option digit, and executes that option's step
// sequence. It never returns an error: every failure path degrades to
// hanging up, since the executor records every answered call as SUCCESS
// whatever happens in the menu. No selection, or a digit that matches no
// option, plays the menu's ErrorMessage (if set) before returning.
func (r *Runner) Run(ctx context.Context, campaignID, contactID int64, channelID, messageAudio string) {
	menu, err := r.menus.GetByCampaign(ctx, campaignID)
	if err != nil {
		r.logger.Error("loading post-call menu", "campaign_id", campaignID, "error", err)
		return
	}
	if menu == nil || !menu.Active || len(menu.Options) == 0 {
		return
	}

	sub := r.events.Subscribe(channelID)
	defer r.events.Unsubscribe(channelID)

	if menu.Greeting != "" {
		if err := r.client.Play(ctx, channelID, "sound:"+menu.Greeting); err != nil {
			r.logger.Warn("playing menu greeting", "channel_id", channelID, "error", err)
			return
		}
	}

	digits, timedOut := collectDigits(ctx, sub, models.CaptureSingleDigit, 1, r.menuDTMFTimeout, r.interDigitTimeout)
	if timedOut || digits == "" {
		r.logger.Debug("post-call menu: no selection", "contact_id", contactID, "channel_id", channelID)
		if menu.ErrorMessage != "" && r.client.Play(ctx, channelID, "sound:"+menu.ErrorMessage) == nil {
			waitForPlaybackFinished(ctx, sub, 30*time.Second)
		}
		return
	}

	var selected *models.MenuOption
	for i := range menu.Options {
		if menu.Options[i].Key == digits {
			selected = &menu.Options[i]
			break
		}
	}
	if selected == nil {
		r.logger.Debug("post-call menu: unmatched digit", "contact_id", contactID, "digit", digits)
		if menu.ErrorMessage != "" && r.client.Play(ctx, channelID, "sound:"+menu.ErrorMessage) == nil {
			waitForPlaybackFinished(ctx, sub, 30*time.Second)
		}
		return
	}

	captured, ok := r.runSteps(ctx, sub, channelID, selected.Steps, menu.ErrorMessage)
	if !ok {
		return
	}

	r.dispatchAction(ctx, sub, campaignID, contactID, channelID, selected, captured, menu)
}

// runSteps plays each step's prompt, collects and validates its capture,
// reprompting with ErrorMessage (the step's own, or the menu's fallback) on
// an invalid answer until the step's own timeout elapses with no valid
// input. It returns false if any step was abandoned.
func (r *Runner) runSteps(ctx context.Context, sub <-chan telephony.Event, channelID string, steps []models.Step, menuErrorMessage string) (map[string]string, bool) {
	captured := make(map[string]string)

	for _, step := range steps {
		if step.Prompt != "" {
			if err := r.client.Play(ctx, channelID, "sound:"+step.Prompt); err != nil {
				r.logger.Warn("playing step prompt", "channel_id", channelID, "error", err)
				return captured, false
			}
		}

		for {
			digits, timedOut := collectDigits(ctx, sub, step.Capture, step.MaxDigits, r.stepDTMFTimeout, r.interDigitTimeout)
			if timedOut && digits == "" {
				return captured, false
			}
			if validateCapture(step.Validation, digits) {
				if step.SaveAs != "" {
					captured[step.SaveAs] = digits
				}
				break
			}

			errMsg := step.ErrorMessage
			if errMsg == "" {
				errMsg = menuErrorMessage
			}
			if errMsg == "" {
				return captured, false
			}
			if err := r.client.Play(ctx, channelID, "sound:"+errMsg); err != nil {
				r.logger.Warn("playing step error message", "channel_id", channelID, "error", err)
				return captured, false
			}
		}
	}

	return captured, true
}

func (r *Runner) dispatchAction(ctx context.Context, sub <-chan telephony.Event, campaignID, contactID int64, channelID string, option *models.MenuOption, captured map[string]string, menu *models.PostCallMenu) {
	switch option.Action {
	case models.ActionPaymentCommit:
		date, err := commitmentDate(captured["commitmentDay"])
		if err != nil {
			r.logger.Warn("computing commitment date", "contact_id", contactID, "error", err)
			return
		}
		c := &models.Commitment{
			ContactID:      contactID,
			CampaignID:     campaignID,
			CommitmentDate: date,
			Source:         models.CommitmentAutomatic,
			Note:           option.Text,
		}
		if err := r.commit.Create(ctx, c); err != nil {
			r.logger.Error("recording commitment", "contact_id", contactID, "error", err)
			return
		}
		if menu.ConfirmationMsg != "" {
			_ = r.client.Play(ctx, channelID, "sound:"+menu.ConfirmationMsg)
			waitForPlaybackFinished(ctx, sub, 30*time.Second)
		}

	case models.ActionTransferAgent:
		if r.agents == nil {
			r.logger.Warn("transfer_agent option selected but no agent dispatcher wired", "contact_id", contactID)
			return
		}
		r.agents.TransferToAgent(ctx, campaignID, contactID, channelID)
	}
}

// commitmentDate resolves a captured "commitmentDay" answer (validated as
// day_1_28 or day_laborable upstream) into that day-of-month in the
// current calendar month, at the start of day.
func commitmentDate(raw string) (time.Time, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing captured commitment day %q: %w", raw, err)
	}
	if n < 1 || n > 28 {
		return time.Time{}, fmt.Errorf("captured commitment day %d out of range", n)
	}

	now := time.Now()
	return time.Date(now.Year(), now.Month(), n, 0, 0, 0, 0, now.Location()), nil
}

// isLaborableDayOfMonth reports whether day d, taken as a day in the
// current calendar month, falls on a weekday (Monday through Friday).
func isLaborableDayOfMonth(d int) bool {
	if d < 1 || d > 28 {
		return false
	}
	now := time.Now()
	wd := time.Date(now.Year(), now.Month(), d, 0, 0, 0, 0, now.Location()).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func validateCapture(rule models.StepValidation, digits string) bool {
	switch rule {
	case models.ValidationNone:
		return digits != ""
	case models.ValidationDay1To28:
		n, err := strconv.Atoi(digits)
		return err == nil && n >= 1 && n <= 28
	case models.ValidationDayLaborable:
		n, err := strconv.Atoi(digits)
		return err == nil && isLaborableDayOfMonth(n)
	default:
		return false
	}
}

// collectDigits accumulates DTMF digits off sub until the capture mode is
// satisfied (a single digit, or maxDigits numeric digits), the inter-digit
// timer lapses after at least one digit, or firstDigitTimeout elapses with
// none at all.
func collectDigits(ctx context.Context, sub <-chan telephony.Event, capture models.StepCapture, maxDigits int, firstDigitTimeout, interDigitTimeout time.Duration) (string, bool) {
	var digits strings.Builder
	timer := time.NewTimer(firstDigitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return digits.String(), true
		case <-timer.C:
			return digits.String(), true
		case evt, ok := <-sub:
			if !ok {
				return digits.String(), true
			}
			switch evt.Type {
			case telephony.EventChannelDtmfReceived:
				digits.WriteString(evt.Digit)
				if capture == models.CaptureSingleDigit {
					return digits.String(), false
				}
				if maxDigits > 0 && digits.Len() >= maxDigits {
					return digits.String(), false
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(interDigitTimeout)
			case telephony.EventChannelDestroyed, telephony.EventStasisEnd, telephony.EventWebSocketClose:
				return digits.String(), true
			}
		}
	}
}

// waitForPlaybackFinished blocks briefly for a playback-finished event after
// a confirmation or error message, so the channel isn't torn down mid-word.
func waitForPlaybackFinished(ctx context.Context, sub <-chan telephony.Event, timeout time.Duration) {
	timer := time.NewTimer(timeout)
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
			if evt.Type == telephony.EventPlaybackFinished {
				return
			}
		}
	}
}
