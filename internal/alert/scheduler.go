package alert

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"crypto-tracker/internal/metrics"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 60 * time.Second

type Checker interface {
	CheckActive(ctx context.Context) (CheckResult, error)
}

type Status struct {
	Running         bool       `json:"running"`
	IntervalSeconds float64    `json:"interval_seconds"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	LastTriggered   int        `json:"last_triggered"`
	LastError       string     `json:"last_error,omitempty"`
	SkippedTicks    int64      `json:"skipped_ticks"`
}

// Scheduler runs the checker on a fixed interval. Ticks never overlap: a tick that
// comes due while the previous one is still running is skipped.
type Scheduler struct {
	checker  Checker
	interval time.Duration
	metrics  *metrics.Metrics

	mu            sync.Mutex
	running       bool
	stop          chan struct{}
	lastRun       time.Time
	nextRun       time.Time
	lastTriggered int
	lastErr       error

	busy    int32
	skipped int64
	ticks   sync.WaitGroup
}

func NewScheduler(checker Checker, interval time.Duration, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{checker: checker, interval: interval, metrics: m}
}

// Start begins the repeating job. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.nextRun = time.Now().UTC().Add(s.interval)

	go s.loop(s.stop)
	log.Infof("🚀 Alert scheduler started, checking every %s", s.interval)
}

// Stop cancels future ticks. An in-flight tick runs to completion.
// Safe to call when never started or already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
	s.nextRun = time.Time{}
	log.Info("Alert scheduler stopped")
}

// Wait blocks until the in-flight tick, if any, has finished.
func (s *Scheduler) Wait() {
	s.ticks.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.running,
		IntervalSeconds: s.interval.Seconds(),
		LastTriggered:   s.lastTriggered,
		SkippedTicks:    atomic.LoadInt64(&s.skipped),
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		st.LastRun = &last
	}
	if s.running && !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.running || s.stop != stop {
				s.mu.Unlock()
				return
			}
			s.nextRun = time.Now().UTC().Add(s.interval)

			if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
				s.mu.Unlock()
				atomic.AddInt64(&s.skipped, 1)
				s.metrics.TicksSkipped.Inc()
				log.Warn("Previous alert check still running, skipping tick")
				continue
			}
			s.ticks.Add(1)
			s.mu.Unlock()
			go s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	defer s.ticks.Done()
	defer atomic.StoreInt32(&s.busy, 0)

	started := time.Now().UTC()
	result, err := s.runCheck()

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.lastTriggered = len(result.Triggered)
	s.mu.Unlock()

	if err != nil {
		log.Errorf("❌ Alert check failed: %v", err)
		return
	}
	log.Infof("✅ Alert check completed: %d checked, %d triggered", result.Checked, len(result.Triggered))
}

func (s *Scheduler) runCheck() (result CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("🔥 Panic recovered in alert check: %v\nStack trace: %s", r, debug.Stack())
			err = errors.Errorf("alert check panicked: %v", r)
		}
	}()

	log.Debug("🔄 Checking alerts...")
	return s.checker.CheckActive(context.Background())
}
