package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"
	"io"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLockRegistryPreventsOverlap(t *testing.T) {
	l := newLockRegistry(30*time.Second, time.Minute, testLogger())
	if !l.tryAcquire(1) {
		t.Fatal("first acquire should succeed")
	}
	if l.tryAcquire(1) {
		t.Fatal("second acquire on held lock should fail")
	}
	l.release(1)
	if !l.tryAcquire(1) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLockRegistrySweepsStale(t *testing.T) {
	l := newLockRegistry(10*time.Millisecond, time.Minute, testLogger())
	l.tryAcquire(1)
	time.Sleep(20 * time.Millisecond)
	l.sweepStale()
	if !l.tryAcquire(1) {
		t.Fatal("stale lock should have been swept, allowing reacquire")
	}
}

type fakeCaller struct {
	mu    sync.Mutex
	calls int32
}

func (f *fakeCaller) CallWithTTS(ctx context.Context, ownerUserID int64, campaign *models.Campaign, contact *models.Contact) {
	atomic.AddInt32(&f.calls, 1)
}

type fakeCampaigns struct {
	database.CampaignRepository
	due []models.Campaign
}

func (f *fakeCampaigns) ListDue(ctx context.Context, asOf, now int64) ([]models.Campaign, error) {
	return f.due, nil
}
func (f *fakeCampaigns) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	for i := range f.due {
		if f.due[i].ID == id {
			return &f.due[i], nil
		}
	}
	return nil, nil
}
func (f *fakeCampaigns) UpdateStatus(ctx context.Context, id int64, status models.CampaignStatus) error {
	return nil
}

type fakeContacts struct {
	database.ContactRepository
	selections []database.ContactSelection
	pending    int64
	calling    int64

	selectForDialingCalled bool
}

func (f *fakeContacts) SelectForDialing(ctx context.Context, campaignID int64, maxRetries int, limit int) ([]database.ContactSelection, error) {
	f.selectForDialingCalled = true
	sel := f.selections
	f.selections = nil
	return sel, nil
}
func (f *fakeContacts) CountPending(ctx context.Context, campaignID int64) (int64, error) {
	return f.pending, nil
}
func (f *fakeContacts) CountCalling(ctx context.Context, campaignID int64) (int64, error) {
	return f.calling, nil
}

type fakeBudgets struct {
	database.ChannelBudgetRepository
	allow bool
}

func (f *fakeBudgets) Reserve(ctx context.Context, userID int64, n int) (bool, error) {
	return f.allow, nil
}
func (f *fakeBudgets) Release(ctx context.Context, userID int64, n int) error { return nil }

func TestProcessCampaignDispatchesWithinConcurrency(t *testing.T) {
	contact := &models.Contact{ID: 1, CampaignID: 5}
	committed := false
	selections := []database.ContactSelection{{
		Contact: contact,
		Commit:  func(ctx context.Context) error { committed = true; return nil },
		Cancel:  func() error { return nil },
	}}

	caller := &fakeCaller{}
	campaigns := &fakeCampaigns{}
	contacts := &fakeContacts{selections: selections, calling: 0}
	budgets := &fakeBudgets{allow: true}

	s := New(campaigns, contacts, budgets, caller, time.Second, 20, 30*time.Second, time.Minute, testLogger())

	campaign := &models.Campaign{ID: 5, OwnerUserID: 9, Status: models.CampaignRunning, ConcurrentCalls: 2}
	s.processCampaign(context.Background(), campaign)

	if !committed {
		t.Error("expected contact selection to be committed when under the concurrency ceiling")
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&caller.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&caller.calls) != 1 {
		t.Errorf("expected exactly one CallWithTTS dispatch, got %d", caller.calls)
	}
}

func TestProcessCampaignSkipsSelectionWhenConcurrencyFull(t *testing.T) {
	caller := &fakeCaller{}
	campaigns := &fakeCampaigns{}
	contacts := &fakeContacts{calling: 2}
	budgets := &fakeBudgets{allow: true}

	s := New(campaigns, contacts, budgets, caller, time.Second, 20, 30*time.Second, time.Minute, testLogger())

	campaign := &models.Campaign{ID: 5, OwnerUserID: 9, Status: models.CampaignRunning, ConcurrentCalls: 2}
	s.processCampaign(context.Background(), campaign)

	if contacts.selectForDialingCalled {
		t.Error("expected SelectForDialing not to be called when the campaign is already at its concurrency ceiling")
	}
	if atomic.LoadInt32(&caller.calls) != 0 {
		t.Error("expected no dispatch when the campaign is already at its concurrency ceiling")
	}
}
