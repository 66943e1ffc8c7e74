package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenq/fleettrader/internal/ipc"
)

type stubProber struct {
	active  []int64
	sendErr error
	awaitErr error
}

func (p *stubProber) SendTo(accountID int64, cmd ipc.Command) (string, error) {
	return "corr-1", p.sendErr
}

func (p *stubProber) Await(ctx context.Context, accountID int64, correlationID string, timeout time.Duration) (ipc.Result, error) {
	if p.awaitErr != nil {
		return ipc.Result{}, p.awaitErr
	}
	return ipc.Result{Type: ipc.ResStatusUpdate, AccountID: accountID, CorrelationID: correlationID}, nil
}

func (p *stubProber) ListActive() []int64 { return p.active }

type stubRecoverer struct {
	restarted []int64
}

func (r *stubRecoverer) RestartWorker(ctx context.Context, accountID int64) error {
	r.restarted = append(r.restarted, accountID)
	return nil
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusHealthy, classify(0, 3))
	assert.Equal(t, StatusDegraded, classify(1, 3))
	assert.Equal(t, StatusUnhealthy, classify(3, 3))
	assert.Equal(t, StatusUnhealthy, classify(5, 3))
}

func TestMonitor_ProbeOneSuccessResetsFailures(t *testing.T) {
	prober := &stubProber{active: []int64{1}}
	m := NewMonitor(prober, nil, false)
	m.probeOne(context.Background(), 1)
	snap := m.Snapshot(1)
	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestMonitor_RepeatedFailuresTriggerRecovery(t *testing.T) {
	prober := &stubProber{active: []int64{1}, awaitErr: assertErr}
	rec := &stubRecoverer{}
	m := NewMonitor(prober, rec, true)

	for i := 0; i < DefaultFailureThreshold; i++ {
		m.probeOne(context.Background(), 1)
	}

	snap := m.Snapshot(1)
	assert.Equal(t, StatusUnhealthy, snap.Status)
	require.Len(t, rec.restarted, 1)
	assert.Equal(t, int64(1), rec.restarted[0])
	assert.Equal(t, 1, snap.RecoveryAttempts)
}

func TestMonitor_BackoffDoublesPerAttempt(t *testing.T) {
	prober := &stubProber{active: []int64{1}, awaitErr: assertErr}
	rec := &stubRecoverer{}
	m := NewMonitor(prober, rec, true)
	fixed := time.Unix(1000, 0)
	m.nowFn = func() time.Time { return fixed }

	for i := 0; i < DefaultFailureThreshold; i++ {
		m.probeOne(context.Background(), 1)
	}
	first := m.Snapshot(1).NextRecoveryNotBefore
	assert.Equal(t, fixed.Add(60*time.Second), first)

	// Next tick, still failing and still before NextRecoveryNotBefore:
	// recovery must not re-fire.
	m.probeOne(context.Background(), 1)
	assert.Len(t, rec.restarted, 1)

	// Once the window has passed, the next failing probe recovers again
	// and the backoff doubles to 120s.
	m.nowFn = func() time.Time { return first }
	m.probeOne(context.Background(), 1)
	assert.Len(t, rec.restarted, 2)
	assert.Equal(t, first.Add(120*time.Second), m.Snapshot(1).NextRecoveryNotBefore)
}

var assertErr = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }
