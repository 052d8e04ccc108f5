// Package worker schedules unattended rescans of networks that carry a
// cron expression.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"topod/internal/crawler"
	"topod/internal/log"
	"topod/internal/model"
	"topod/internal/storage"
)

// ScanStarter is the slice of the orchestrator the scheduler needs.
type ScanStarter interface {
	Start(ctx context.Context, networkID string) (*model.Scan, error)
}

// Scheduler maps each network's rescan cron expression onto a cron
// entry that kicks off a scan. Reload re-syncs entries after networks
// are created, edited or deleted.
type Scheduler struct {
	store   storage.Storage
	starter ScanStarter
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduledEntry // networkID -> entry
	running bool
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(store storage.Storage, starter ScanStarter) *Scheduler {
	return &Scheduler{
		store:   store,
		starter: starter,
		cron:    cron.New(),
		entries: make(map[string]scheduledEntry),
	}
}

// Start begins dispatching due rescans and loads the current networks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	if err := s.Reload(); err != nil {
		log.Error("rescan schedule load failed", "error", err)
	}
	log.Info("rescan scheduler started")
}

// Stop halts dispatch and waits for any running dispatch callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Info("rescan scheduler stopped")
}

// Reload syncs cron entries with the stored networks: new expressions
// are added, changed ones replaced, deleted networks dropped.
func (s *Scheduler) Reload() error {
	networks, err := s.store.ListNetworks(nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(networks))
	for _, n := range networks {
		seen[n.ID] = true
		if n.RescanCron == "" {
			if entry, ok := s.entries[n.ID]; ok {
				s.cron.Remove(entry.id)
				delete(s.entries, n.ID)
			}
			continue
		}
		if entry, ok := s.entries[n.ID]; ok {
			if entry.spec == n.RescanCron {
				continue
			}
			s.cron.Remove(entry.id)
			delete(s.entries, n.ID)
		}

		networkID := n.ID
		id, err := s.cron.AddFunc(n.RescanCron, func() { s.dispatch(networkID) })
		if err != nil {
			log.Warn("invalid rescan cron expression, skipping",
				"network", n.ID, "spec", n.RescanCron, "error", err)
			continue
		}
		s.entries[n.ID] = scheduledEntry{id: id, spec: n.RescanCron}
		log.Debug("rescan scheduled", "network", n.ID, "spec", n.RescanCron)
	}

	for networkID, entry := range s.entries {
		if !seen[networkID] {
			s.cron.Remove(entry.id)
			delete(s.entries, networkID)
		}
	}
	return nil
}

// ScheduledCount reports how many networks have an active rescan entry.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) dispatch(networkID string) {
	_, err := s.starter.Start(context.Background(), networkID)
	switch {
	case errors.Is(err, crawler.ErrScanAlreadyRunning):
		log.Debug("scheduled rescan skipped, scan in progress", "network", networkID)
	case err != nil:
		log.Error("scheduled rescan failed to start", "network", networkID, "error", err)
	default:
		log.Info("scheduled rescan started", "network", networkID)
	}
}
