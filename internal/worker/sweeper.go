package worker

import (
	"log"
	"time"

	"github.com/relaychat/sync-backend/internal/service"
)

// Sweeper owns the periodic maintenance passes: expired-operation
// purge, reclaim of claims abandoned past the visibility deadline, and
// stale client-state cleanup. One explicit runner instead of scattered
// timers, so it can be stopped and driven directly in tests.
type Sweeper struct {
	queue    *service.QueueService
	state    *service.StateService
	interval time.Duration
	stop     chan struct{}
}

func NewSweeper(queue *service.QueueService, state *service.StateService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		queue:    queue,
		state:    state,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stop)
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one full maintenance pass.
func (s *Sweeper) Sweep() {
	devices, err := s.queue.Devices()
	if err != nil {
		log.Printf("sweeper: listing devices failed: %v", err)
		return
	}
	for _, key := range devices {
		if purged, err := s.queue.PurgeExpired(key); err != nil {
			log.Printf("sweeper: purge failed for device %s: %v", key, err)
		} else if purged > 0 {
			log.Printf("sweeper: purged %d expired operations for device %s", purged, key)
		}
		if reclaimed, err := s.queue.ReclaimStuck(key); err != nil {
			log.Printf("sweeper: reclaim failed for device %s: %v", key, err)
		} else if reclaimed > 0 {
			log.Printf("sweeper: reclaimed %d stuck items for device %s", reclaimed, key)
		}
	}
	if removed, err := s.state.SweepStale(); err != nil {
		log.Printf("sweeper: stale state sweep failed: %v", err)
	} else if removed > 0 {
		log.Printf("sweeper: removed %d stale device states", removed)
	}
}
