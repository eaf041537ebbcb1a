/*
scheduler.go - Periodic allowance recalculation

PURPOSE:
  Re-derives pending cost-of-living-allowance amounts from attendance data
  on a fixed interval. Because the engine derives amounts instead of
  accumulating them, the job is idempotent: re-running it after a partial
  failure converges on the same result.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each beneficiary is an independent unit of work; one failure never
    aborts the rest of the sweep
  - Runs once immediately on start, then on every tick

USAGE:
  sched := NewRecalcScheduler(svc, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: /api/admin/recalculate (manual trigger)
  - aid/service.go: RunRecalculation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
)

// RecalcScheduler drives the periodic allowance recalculation job.
type RecalcScheduler struct {
	Service       *aid.Service
	Log           *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecalcScheduler creates a scheduler with a 1 hour default interval.
func NewRecalcScheduler(svc *aid.Service, log *logrus.Logger) *RecalcScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &RecalcScheduler{
		Service:       svc,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *RecalcScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("recalculation scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.WithField("interval", rs.CheckInterval).Info("recalculation scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *RecalcScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info("recalculation scheduler stopped")
	}
}

func (rs *RecalcScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.runOnce()

	for {
		select {
		case <-rs.ticker.C:
			rs.runOnce()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecalcScheduler) runOnce() {
	report := rs.Service.RunRecalculation(context.Background(), nil)
	if report.Beneficiaries == 0 && len(report.Failures) == 0 {
		return
	}
	entry := rs.Log.WithFields(logrus.Fields{
		"beneficiaries":    report.Beneficiaries,
		"requests_updated": report.RequestsUpdated,
		"failures":         len(report.Failures),
	})
	if len(report.Failures) > 0 {
		entry.Warn("recalculation run completed with failures")
		return
	}
	entry.Info("recalculation run completed")
}

// RunNow triggers an immediate run (for testing/admin).
func (rs *RecalcScheduler) RunNow() {
	rs.runOnce()
}
