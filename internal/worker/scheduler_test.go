package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"topod/internal/model"
	"topod/internal/storage"
)

type fakeNetworkStore struct {
	storage.Storage
	networks []model.Network
}

func (s *fakeNetworkStore) ListNetworks(filter *model.NetworkFilter) ([]model.Network, error) {
	return s.networks, nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeStarter) Start(ctx context.Context, networkID string) (*model.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, networkID)
	return &model.Scan{NetworkID: networkID, Status: model.ScanStatusRunning}, nil
}

func TestReloadSyncsEntries(t *testing.T) {
	store := &fakeNetworkStore{networks: []model.Network{
		{ID: "net-1", RescanCron: "@hourly"},
		{ID: "net-2", RescanCron: ""},
		{ID: "net-3", RescanCron: "0 3 * * *"},
	}}
	s := NewScheduler(store, &fakeStarter{})

	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := s.ScheduledCount(); got != 2 {
		t.Fatalf("ScheduledCount = %d, want 2", got)
	}

	// Deleting a network and changing a spec both take effect.
	store.networks = []model.Network{
		{ID: "net-1", RescanCron: "@daily"},
	}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := s.ScheduledCount(); got != 1 {
		t.Errorf("ScheduledCount after shrink = %d, want 1", got)
	}

	// Clearing the expression unschedules.
	store.networks = []model.Network{{ID: "net-1"}}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := s.ScheduledCount(); got != 0 {
		t.Errorf("ScheduledCount after clear = %d, want 0", got)
	}
}

func TestReloadSkipsInvalidSpec(t *testing.T) {
	store := &fakeNetworkStore{networks: []model.Network{
		{ID: "net-1", RescanCron: "not a cron line"},
		{ID: "net-2", RescanCron: "@every 1h"},
	}}
	s := NewScheduler(store, &fakeStarter{})
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := s.ScheduledCount(); got != 1 {
		t.Errorf("ScheduledCount = %d, want 1 (invalid spec skipped)", got)
	}
}

func TestSchedulerDispatch(t *testing.T) {
	starter := &fakeStarter{}
	store := &fakeNetworkStore{networks: []model.Network{
		{ID: "net-1", RescanCron: "@every 10ms"},
	}}
	s := NewScheduler(store, starter)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		starter.mu.Lock()
		n := len(starter.started)
		starter.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled rescan never dispatched")
}
