// Package manager supervises the long-running workers: each worker beats a
// heartbeat every loop iteration, and the supervisor restarts any worker
// whose heartbeat goes stale, with a cooldown to avoid restart storms.
package manager

import (
	"sync"
	"time"

	"miniqmt/logger"
)

// Heartbeat liveness marker beaten by a worker loop
type Heartbeat struct {
	mu   sync.Mutex
	last time.Time
}

// NewHeartbeat creates a heartbeat marked alive now
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{last: time.Now()}
}

// Beat marks the worker alive
func (h *Heartbeat) Beat() {
	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
}

// Since time elapsed since the last beat
func (h *Heartbeat) Since() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.last)
}

// Last returns the last beat time
func (h *Heartbeat) Last() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// watched one supervised worker
type watched struct {
	name        string
	heartbeat   *Heartbeat
	staleAfter  time.Duration
	restart     func()
	lastRestart time.Time
}

// Supervisor restarts dead workers after a cooldown
type Supervisor struct {
	mu       sync.Mutex
	workers  []*watched
	interval time.Duration
	cooldown time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor checking every interval with the
// given restart cooldown
func NewSupervisor(interval, cooldown time.Duration) *Supervisor {
	if interval == 0 {
		interval = 30 * time.Second
	}
	if cooldown == 0 {
		cooldown = 2 * time.Minute
	}
	return &Supervisor{
		interval: interval,
		cooldown: cooldown,
		stopCh:   make(chan struct{}),
	}
}

// Watch registers a worker. staleAfter should be several times the
// worker's own loop period. restart must be safe to call repeatedly.
func (s *Supervisor) Watch(name string, hb *Heartbeat, staleAfter time.Duration, restart func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, &watched{
		name:       name,
		heartbeat:  hb,
		staleAfter: staleAfter,
		restart:    restart,
	})
}

// Start launches the supervision loop
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.run()
	logger.Info("🩺 Worker supervisor started")
}

// Stop signals the loop and waits for it to exit
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Info("🩺 Worker supervisor stopped")
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Supervisor) check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, w := range s.workers {
		since := w.heartbeat.Since()
		if since < w.staleAfter {
			continue
		}
		if now.Sub(w.lastRestart) < s.cooldown {
			logger.Warnf("🩺 Worker %s still stale (%.0fs) but in restart cooldown", w.name, since.Seconds())
			continue
		}

		logger.Errorf("🩺 Worker %s heartbeat stale for %.0fs, restarting", w.name, since.Seconds())
		w.lastRestart = now
		w.heartbeat.Beat() // give the restarted worker a fresh window
		go w.restart()
	}
}

// Status heartbeat ages keyed by worker name, for the health endpoint
func (s *Supervisor) Status() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.workers))
	for _, w := range s.workers {
		out[w.name] = w.heartbeat.Since()
	}
	return out
}
