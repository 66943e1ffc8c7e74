package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenq/fleettrader/internal/account"
	"github.com/ardenq/fleettrader/internal/ipc"
)

type stubPool struct {
	alive   map[int64]bool
	active  []int64
	sendErr error
	awaitErr error
}

func (p *stubPool) StartWorker(ctx context.Context, accountID int64, login, password, server string) error {
	if p.alive == nil {
		p.alive = map[int64]bool{}
	}
	p.alive[accountID] = true
	return nil
}

func (p *stubPool) StopWorker(accountID int64, grace time.Duration) error {
	if p.alive != nil {
		p.alive[accountID] = false
	}
	return nil
}

func (p *stubPool) SendTo(accountID int64, cmd ipc.Command) (string, error) {
	return "corr", p.sendErr
}

func (p *stubPool) Await(ctx context.Context, accountID int64, correlationID string, timeout time.Duration) (ipc.Result, error) {
	if p.awaitErr != nil {
		return ipc.Result{}, p.awaitErr
	}
	return ipc.Result{}, nil
}

func (p *stubPool) ListActive() []int64 { return p.active }

func (p *stubPool) IsAlive(accountID int64) bool { return p.alive[accountID] }

type stubChecker struct {
	allowed bool
	message string
	err     error
	calls   int
}

func (c *stubChecker) CheckAutoTrading(ctx context.Context, accountID int64) (bool, string, error) {
	c.calls++
	return c.allowed, c.message, c.err
}

func TestService_StartAccountTrading_RefusesWithoutAliveWorker(t *testing.T) {
	reg := account.NewRegistry()
	reg.Put(&account.Account{ID: 1, Active: true})
	p := &stubPool{alive: map[int64]bool{}}
	svc := NewService(p, reg, nil)

	out := svc.StartAccountTrading(context.Background(), 1, false)
	assert.False(t, out.Success)
}

func TestService_StartAccountTrading_RefusesWhenAutoTradingDisallowed(t *testing.T) {
	reg := account.NewRegistry()
	reg.Put(&account.Account{ID: 1, Active: true})
	p := &stubPool{alive: map[int64]bool{1: true}}
	checker := &stubChecker{allowed: false, message: "algo trading disabled"}
	svc := NewService(p, reg, checker)

	out := svc.StartAccountTrading(context.Background(), 1, true)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Hints)
}

func TestService_StartAccountTrading_SucceedsWhenAllowed(t *testing.T) {
	reg := account.NewRegistry()
	reg.Put(&account.Account{ID: 1, Active: true})
	p := &stubPool{alive: map[int64]bool{1: true}}
	checker := &stubChecker{allowed: true}
	svc := NewService(p, reg, checker)

	out := svc.StartAccountTrading(context.Background(), 1, true)
	assert.True(t, out.Success)
	assert.Equal(t, "trading", out.Status)
}

func TestService_GetAccountTradingStatus_TimeoutIsDegradedNotError(t *testing.T) {
	reg := account.NewRegistry()
	p := &stubPool{alive: map[int64]bool{1: true}, awaitErr: context.DeadlineExceeded}
	svc := NewService(p, reg, nil)

	out := svc.GetAccountTradingStatus(context.Background(), 1)
	require.True(t, out.Success)
	assert.Equal(t, "degraded", out.Status)
}

func TestService_EmergencyStop_SetsPersistentFlag(t *testing.T) {
	reg := account.NewRegistry()
	p := &stubPool{}
	svc := NewService(p, reg, nil)

	assert.False(t, svc.IsEmergencyStopped())
	out := svc.EmergencyStop(context.Background(), false)
	assert.True(t, out.Success)
	assert.True(t, svc.IsEmergencyStopped())
}

func TestCachingAutoTradingChecker_CachesWithinTTL(t *testing.T) {
	base := &stubChecker{allowed: true, message: "ok"}
	c := NewCachingAutoTradingChecker(base)
	fixed := time.Unix(0, 0)
	c.nowFn = func() time.Time { return fixed }

	_, _, err := c.CheckAutoTrading(context.Background(), 1)
	require.NoError(t, err)
	_, _, err = c.CheckAutoTrading(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, base.calls)

	c.nowFn = func() time.Time { return fixed.Add(61 * time.Second) }
	_, _, err = c.CheckAutoTrading(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, base.calls)
}
