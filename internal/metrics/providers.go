package metrics

import (
	"context"

	"github.com/voxdialer/engine/internal/database"
)

// CampaignStatusAdapter adapts a CampaignRepository to CampaignStatusProvider.
type CampaignStatusAdapter struct {
	Campaigns database.CampaignRepository
}

func (a CampaignStatusAdapter) AllCampaignStatuses(ctx context.Context) ([]CampaignStatusEntry, error) {
	campaigns, err := a.Campaigns.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]CampaignStatusEntry, len(campaigns))
	for i, c := range campaigns {
		entries[i] = CampaignStatusEntry{CampaignID: c.ID, OwnerID: c.OwnerUserID, Status: string(c.Status)}
	}
	return entries, nil
}

// BudgetAdapter adapts a ChannelBudgetRepository to BudgetProvider.
type BudgetAdapter struct {
	Budgets database.ChannelBudgetRepository
}

func (a BudgetAdapter) AllBudgets(ctx context.Context) ([]BudgetEntry, error) {
	budgets, err := a.Budgets.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]BudgetEntry, len(budgets))
	for i, b := range budgets {
		entries[i] = BudgetEntry{OwnerID: b.UserID, MaxChannels: b.MaxChannels, UsedChannels: b.UsedChannels}
	}
	return entries, nil
}

// ActiveCallsAdapter adapts a ContactRepository to ActiveCallsProvider.
type ActiveCallsAdapter struct {
	Contacts database.ContactRepository
}

func (a ActiveCallsAdapter) CountActive(ctx context.Context) (int64, error) {
	return a.Contacts.CountActive(ctx)
}
