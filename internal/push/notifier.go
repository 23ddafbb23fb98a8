package push

import (
	"context"
	"log/slog"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
)

// CallNotifier adapts a Hub to callengine.Notifier, routing each event to
// the campaign owner's room (and, by Publish's own mirroring, to AdminRoom).
type CallNotifier struct {
	hub       *Hub
	campaigns database.CampaignRepository
	logger    *slog.Logger
}

// NewCallNotifier creates a CallNotifier.
func NewCallNotifier(hub *Hub, campaigns database.CampaignRepository, logger *slog.Logger) *CallNotifier {
	return &CallNotifier{hub: hub, campaigns: campaigns, logger: logger.With("subsystem", "push-call-notifier")}
}

func (n *CallNotifier) room(campaignID int64) (string, bool) {
	c, err := n.campaigns.GetByID(context.Background(), campaignID)
	if err != nil || c == nil {
		n.logger.Warn("resolving campaign owner for push routing", "campaign_id", campaignID, "error", err)
		return "", false
	}
	return UserRoom(c.OwnerUserID), true
}

func (n *CallNotifier) NotifyCallInitiated(campaignID, contactID int64, channelID string) {
	room, ok := n.room(campaignID)
	if !ok {
		return
	}
	n.hub.Publish(room, "call_initiated", map[string]any{
		"campaignId": campaignID, "contactId": contactID, "channelId": channelID,
	})
}

func (n *CallNotifier) NotifyCallAnswered(campaignID, contactID int64, channelID string) {
	room, ok := n.room(campaignID)
	if !ok {
		return
	}
	n.hub.Publish(room, "call_answered", map[string]any{
		"campaignId": campaignID, "contactId": contactID, "channelId": channelID,
	})
}

func (n *CallNotifier) NotifyCallFinished(campaignID, contactID int64, status models.ContactCallStatus, cause string) {
	room, ok := n.room(campaignID)
	if !ok {
		return
	}
	n.hub.Publish(room, "call_finished", map[string]any{
		"campaignId": campaignID, "contactId": contactID, "status": status, "cause": cause,
	})
}
