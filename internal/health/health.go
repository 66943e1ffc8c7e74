// Package health implements the Health Monitor (C9): a cron-driven
// per-account probe loop with consecutive-failure tracking and backoff
// recovery scheduling (spec.md §4.9).
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ardenq/fleettrader/internal/ipc"
)

// Status is the health classification derived from consecutive
// failures (spec.md §4.9 step 4).
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Defaults mirror spec.md §4.9.
const (
	DefaultCheckInterval   = 60 * time.Second
	DefaultProbeTimeout    = 10 * time.Second
	DefaultFailureThreshold = 3
	recoveryBackoffBase    = 60 * time.Second
	maxRecoveryBackoff     = time.Hour
)

// HealthMetric is the per-account state C9 maintains (spec.md §4.9).
type HealthMetric struct {
	AccountID           int64
	ConsecutiveFailures int
	Status              Status
	RecoveryAttempts    int
	NextRecoveryNotBefore time.Time
}

// Prober is the thin capability C9 needs from the Pool: issue
// GetStatus against an account's worker with a bounded timeout.
type Prober interface {
	SendTo(accountID int64, cmd ipc.Command) (string, error)
	Await(ctx context.Context, accountID int64, correlationID string, timeout time.Duration) (ipc.Result, error)
	ListActive() []int64
}

// Recoverer is the thin capability C9 needs from C10: restart a worker.
type Recoverer interface {
	RestartWorker(ctx context.Context, accountID int64) error
}

// Monitor runs the C9 loop on a dedicated cron schedule.
type Monitor struct {
	prober    Prober
	recoverer Recoverer

	checkInterval    time.Duration
	probeTimeout     time.Duration
	failureThreshold int
	recoveryEnabled  bool

	mu      sync.Mutex
	metrics map[int64]*HealthMetric

	cr     *cron.Cron
	nowFn  func() time.Time
}

// NewMonitor builds a Health Monitor. recoveryEnabled controls whether
// step 5 (restart on Unhealthy) is armed.
func NewMonitor(prober Prober, recoverer Recoverer, recoveryEnabled bool) *Monitor {
	return &Monitor{
		prober:           prober,
		recoverer:        recoverer,
		checkInterval:    DefaultCheckInterval,
		probeTimeout:     DefaultProbeTimeout,
		failureThreshold: DefaultFailureThreshold,
		recoveryEnabled:  recoveryEnabled,
		metrics:          map[int64]*HealthMetric{},
		cr:               cron.New(),
		nowFn:            time.Now,
	}
}

// Start arms the cron schedule; every tick probes all active accounts.
func (m *Monitor) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", m.checkInterval)
	_, err := m.cr.AddFunc(spec, func() { m.tick(ctx) })
	if err != nil {
		return fmt.Errorf("health: schedule: %w", err)
	}
	m.cr.Start()
	return nil
}

// Stop cancels the loop; in-flight probes are abandoned, their late
// results ignored (spec.md §4.9 Cancellation).
func (m *Monitor) Stop() {
	stopCtx := m.cr.Stop()
	<-stopCtx.Done()
}

func (m *Monitor) tick(ctx context.Context) {
	for _, accountID := range m.prober.ListActive() {
		m.probeOne(ctx, accountID)
	}
}

func (m *Monitor) metricFor(accountID int64) *HealthMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	hm, ok := m.metrics[accountID]
	if !ok {
		hm = &HealthMetric{AccountID: accountID}
		m.metrics[accountID] = hm
	}
	return hm
}

func (m *Monitor) probeOne(ctx context.Context, accountID int64) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	correlationID, err := m.prober.SendTo(accountID, ipc.NewCommand(accountID, ipc.CmdGetStatus, nil))
	var success bool
	if err == nil {
		_, awaitErr := m.prober.Await(probeCtx, accountID, correlationID, m.probeTimeout)
		success = awaitErr == nil
	}

	hm := m.metricFor(accountID)
	m.mu.Lock()
	if success {
		hm.ConsecutiveFailures = 0
	} else {
		hm.ConsecutiveFailures++
	}
	hm.Status = classify(hm.ConsecutiveFailures, m.failureThreshold)
	wasUnhealthy := hm.Status == StatusUnhealthy
	canRecover := m.recoveryEnabled && wasUnhealthy && !m.nowFn().Before(hm.NextRecoveryNotBefore)
	if success && hm.RecoveryAttempts > 0 {
		hm.RecoveryAttempts = 0
	}
	m.mu.Unlock()

	if canRecover && m.recoverer != nil {
		_ = m.recoverer.RestartWorker(ctx, accountID)
		m.mu.Lock()
		backoff := time.Duration(minInt64(int64(recoveryBackoffBase)*pow2(hm.RecoveryAttempts), int64(maxRecoveryBackoff)))
		hm.NextRecoveryNotBefore = m.nowFn().Add(backoff)
		hm.RecoveryAttempts++
		m.mu.Unlock()
	}
}

func classify(consecutiveFailures, threshold int) Status {
	switch {
	case consecutiveFailures == 0:
		return StatusHealthy
	case consecutiveFailures >= threshold:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	if n > 62 {
		n = 62
	}
	return int64(1) << uint(n)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Snapshot returns a copy of one account's health metric.
func (m *Monitor) Snapshot(accountID int64) HealthMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hm, ok := m.metrics[accountID]; ok {
		return *hm
	}
	return HealthMetric{AccountID: accountID}
}
