package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider returns the number of contacts currently in CALLING
// status across every campaign.
type ActiveCallsProvider interface {
	CountActive(ctx context.Context) (int64, error)
}

// CampaignStatusEntry represents the status of a single campaign for metrics.
type CampaignStatusEntry struct {
	CampaignID int64
	OwnerID    int64
	Status     string
}

// CampaignStatusProvider exposes every campaign's current status.
type CampaignStatusProvider interface {
	AllCampaignStatuses(ctx context.Context) ([]CampaignStatusEntry, error)
}

// AgentStatusEntry represents the dispatcher status of a single agent.
type AgentStatusEntry struct {
	AgentID int64
	Status  string
}

// AgentStatusProvider exposes every registered agent's current status. It is
// backed by the in-memory dispatcher, not the database, so it takes no ctx.
type AgentStatusProvider interface {
	AllAgentStatuses() []AgentStatusEntry
}

// QueueDepthProvider exposes the number of answered calls currently waiting
// for an available agent.
type QueueDepthProvider interface {
	QueueDepth() int
}

// BudgetEntry represents one owner's channel budget utilization.
type BudgetEntry struct {
	OwnerID      int64
	MaxChannels  int
	UsedChannels int
}

// BudgetProvider exposes every owner's current channel budget utilization.
type BudgetProvider interface {
	AllBudgets(ctx context.Context) ([]BudgetEntry, error)
}

// Collector is a prometheus.Collector that gathers voxdialer engine metrics
// at scrape time, rather than updating counters inline on the hot path.
type Collector struct {
	activeCalls      ActiveCallsProvider
	campaignStatuses CampaignStatusProvider
	agentStatuses    AgentStatusProvider
	queueDepth       QueueDepthProvider
	budgets          BudgetProvider
	startTime        time.Time

	// Metric descriptors.
	activeCallsDesc    *prometheus.Desc
	campaignStatusDesc *prometheus.Desc
	agentStatusDesc    *prometheus.Desc
	queueDepthDesc     *prometheus.Desc
	budgetUsedDesc     *prometheus.Desc
	budgetMaxDesc      *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	activeCalls ActiveCallsProvider,
	campaignStatuses CampaignStatusProvider,
	agentStatuses AgentStatusProvider,
	queueDepth QueueDepthProvider,
	budgets BudgetProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		activeCalls:      activeCalls,
		campaignStatuses: campaignStatuses,
		agentStatuses:    agentStatuses,
		queueDepth:       queueDepth,
		budgets:          budgets,
		startTime:        startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voxdialer_active_calls",
			"Number of contacts currently in CALLING status across all campaigns",
			nil, nil,
		),
		campaignStatusDesc: prometheus.NewDesc(
			"voxdialer_campaign_status",
			"Campaign status (one series per campaign, value 1, labelled with its current status)",
			[]string{"campaign_id", "owner_id", "status"}, nil,
		),
		agentStatusDesc: prometheus.NewDesc(
			"voxdialer_agent_status",
			"Agent dispatcher status (one series per agent, value 1, labelled with its current status)",
			[]string{"agent_id", "status"}, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			"voxdialer_agent_queue_depth",
			"Number of answered calls currently waiting for an available agent",
			nil, nil,
		),
		budgetUsedDesc: prometheus.NewDesc(
			"voxdialer_channel_budget_used",
			"Channels currently reserved against an owner's concurrency ceiling",
			[]string{"owner_id"}, nil,
		),
		budgetMaxDesc: prometheus.NewDesc(
			"voxdialer_channel_budget_max",
			"An owner's configured channel concurrency ceiling",
			[]string{"owner_id"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxdialer_uptime_seconds",
			"Seconds since the engine process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.campaignStatusDesc
	ch <- c.agentStatusDesc
	ch <- c.queueDepthDesc
	ch <- c.budgetUsedDesc
	ch <- c.budgetMaxDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.activeCalls != nil {
		count, err := c.activeCalls.CountActive(ctx)
		if err != nil {
			slog.Error("metrics: failed to count active calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	if c.campaignStatuses != nil {
		statuses, err := c.campaignStatuses.AllCampaignStatuses(ctx)
		if err != nil {
			slog.Error("metrics: failed to list campaign statuses", "error", err)
		} else {
			for _, e := range statuses {
				ch <- prometheus.MustNewConstMetric(
					c.campaignStatusDesc, prometheus.GaugeValue, 1,
					fmt.Sprintf("%d", e.CampaignID), fmt.Sprintf("%d", e.OwnerID), e.Status,
				)
			}
		}
	}

	if c.agentStatuses != nil {
		for _, e := range c.agentStatuses.AllAgentStatuses() {
			ch <- prometheus.MustNewConstMetric(
				c.agentStatusDesc, prometheus.GaugeValue, 1,
				fmt.Sprintf("%d", e.AgentID), e.Status,
			)
		}
	}

	if c.queueDepth != nil {
		ch <- prometheus.MustNewConstMetric(
			c.queueDepthDesc, prometheus.GaugeValue, float64(c.queueDepth.QueueDepth()),
		)
	}

	if c.budgets != nil {
		budgets, err := c.budgets.AllBudgets(ctx)
		if err != nil {
			slog.Error("metrics: failed to list channel budgets", "error", err)
		} else {
			for _, e := range budgets {
				ownerID := fmt.Sprintf("%d", e.OwnerID)
				ch <- prometheus.MustNewConstMetric(
					c.budgetUsedDesc, prometheus.GaugeValue, float64(e.UsedChannels), ownerID,
				)
				ch <- prometheus.MustNewConstMetric(
					c.budgetMaxDesc, prometheus.GaugeValue, float64(e.MaxChannels), ownerID,
				)
			}
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
