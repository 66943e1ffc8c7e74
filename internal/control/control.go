// Package control implements the Trading Control Service (C10): the
// façade used by external interfaces and by the Health Monitor
// (spec.md §4.10).
package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardenq/fleettrader/internal/account"
	"github.com/ardenq/fleettrader/internal/ipc"
)

// Outcome is the uniform result shape every C10 operation returns
// (spec.md §4.10: "success, a human-readable message, optional
// enumerated status, and optional list of remediation hints").
type Outcome struct {
	Success bool
	Message string
	Status  string
	Hints   []string
}

// StatusTimeout is the synchronous request/response timeout for
// get_account_trading_status / get_global_trading_status (spec.md §4.10).
const StatusTimeout = 5 * time.Second

// Pool is the subset of pool.Pool the control service depends on.
type Pool interface {
	StartWorker(ctx context.Context, accountID int64, login, password, server string) error
	StopWorker(accountID int64, grace time.Duration) error
	SendTo(accountID int64, cmd ipc.Command) (string, error)
	Await(ctx context.Context, accountID int64, correlationID string, timeout time.Duration) (ipc.Result, error)
	ListActive() []int64
	IsAlive(accountID int64) bool
}

// AutoTradingChecker is the Strategy spec.md §4.10 calls out: a base
// checker probes the terminal for algorithmic-trading permission.
type AutoTradingChecker interface {
	CheckAutoTrading(ctx context.Context, accountID int64) (allowed bool, message string, err error)
}

// poolAutoTradingChecker asks the worker itself via CheckAutoTrading.
type poolAutoTradingChecker struct {
	pool    Pool
	timeout time.Duration
}

// NewPoolAutoTradingChecker builds the base (non-caching) checker.
func NewPoolAutoTradingChecker(p Pool) AutoTradingChecker {
	return &poolAutoTradingChecker{pool: p, timeout: StatusTimeout}
}

func (c *poolAutoTradingChecker) CheckAutoTrading(ctx context.Context, accountID int64) (bool, string, error) {
	correlationID, err := c.pool.SendTo(accountID, ipc.NewCommand(accountID, ipc.CmdCheckAutoTrading, nil))
	if err != nil {
		return false, "", err
	}
	res, err := c.pool.Await(ctx, accountID, correlationID, c.timeout)
	if err != nil {
		return false, "", err
	}
	var payload ipc.AutoTradingStatusPayload
	if err := ipc.Decode(res.Payload, &payload); err != nil {
		return false, "", fmt.Errorf("control: decode autotrading payload: %w", err)
	}
	return payload.Enabled && payload.TradeAllowed, payload.Message, nil
}

type cacheEntry struct {
	allowed bool
	message string
	at      time.Time
}

// CachingAutoTradingChecker decorates a base checker with a TTL cache
// keyed by account_id (spec.md §4.10 "a caching decorator with TTL
// (default 60 s)").
type CachingAutoTradingChecker struct {
	base AutoTradingChecker
	ttl  time.Duration

	mu    sync.Mutex
	cache map[int64]cacheEntry
	nowFn func() time.Time
}

// DefaultAutoTradingCacheTTL is the decorator's default TTL.
const DefaultAutoTradingCacheTTL = 60 * time.Second

// NewCachingAutoTradingChecker wraps base with a TTL cache.
func NewCachingAutoTradingChecker(base AutoTradingChecker) *CachingAutoTradingChecker {
	return &CachingAutoTradingChecker{
		base:  base,
		ttl:   DefaultAutoTradingCacheTTL,
		cache: map[int64]cacheEntry{},
		nowFn: time.Now,
	}
}

func (c *CachingAutoTradingChecker) CheckAutoTrading(ctx context.Context, accountID int64) (bool, string, error) {
	c.mu.Lock()
	if e, ok := c.cache[accountID]; ok && c.nowFn().Sub(e.at) < c.ttl {
		c.mu.Unlock()
		return e.allowed, e.message, nil
	}
	c.mu.Unlock()

	allowed, message, err := c.base.CheckAutoTrading(ctx, accountID)
	if err != nil {
		return false, "", err
	}

	c.mu.Lock()
	c.cache[accountID] = cacheEntry{allowed: allowed, message: message, at: c.nowFn()}
	c.mu.Unlock()
	return allowed, message, nil
}

// Service is the Trading Control Service façade (C10).
type Service struct {
	pool     Pool
	registry *account.Registry
	checker  AutoTradingChecker

	emergency atomic.Bool
}

// NewService builds a Trading Control Service.
func NewService(p Pool, registry *account.Registry, checker AutoTradingChecker) *Service {
	return &Service{pool: p, registry: registry, checker: checker}
}

// IsEmergencyStopped reports the global flag every worker observes at
// its next tick (spec.md §4.10 emergency_stop, §5).
func (s *Service) IsEmergencyStopped() bool { return s.emergency.Load() }

// StartAccountTrading verifies the account and worker, optionally
// checks terminal autotrading permission, then sends Start (spec.md §4.10).
func (s *Service) StartAccountTrading(ctx context.Context, accountID int64, checkTerminalAutoTrading bool) Outcome {
	acc, ok := s.registry.Get(accountID)
	if !ok || !acc.Active {
		return Outcome{Success: false, Message: "account not found or inactive"}
	}
	if !s.pool.IsAlive(accountID) {
		return Outcome{Success: false, Message: "no worker running for account", Hints: []string{"start the worker before starting trading"}}
	}
	if checkTerminalAutoTrading && s.checker != nil {
		allowed, msg, err := s.checker.CheckAutoTrading(ctx, accountID)
		if err != nil {
			return Outcome{Success: false, Message: "failed to verify terminal autotrading permission: " + err.Error()}
		}
		if !allowed {
			return Outcome{
				Success: false,
				Message: "terminal disallows algorithmic trading",
				Hints:   []string{"enable AlgoTrading in the terminal", msg},
			}
		}
	}
	if _, err := s.pool.SendTo(accountID, ipc.NewCommand(accountID, ipc.CmdStart, nil)); err != nil {
		return Outcome{Success: false, Message: err.Error()}
	}
	return Outcome{Success: true, Message: "trading started", Status: "trading"}
}

// StopAccountTrading sends Stop; it does not close open positions (spec.md §4.10).
func (s *Service) StopAccountTrading(accountID int64) Outcome {
	if !s.pool.IsAlive(accountID) {
		return Outcome{Success: false, Message: "no worker running for account"}
	}
	if _, err := s.pool.SendTo(accountID, ipc.NewCommand(accountID, ipc.CmdStop, nil)); err != nil {
		return Outcome{Success: false, Message: err.Error()}
	}
	return Outcome{Success: true, Message: "trading stopped", Status: "stopped"}
}

// StartAllTrading fans out to every active worker (spec.md §4.10 start_all_trading()).
func (s *Service) StartAllTrading(ctx context.Context) map[int64]Outcome {
	out := map[int64]Outcome{}
	for _, id := range s.pool.ListActive() {
		out[id] = s.StartAccountTrading(ctx, id, true)
	}
	return out
}

// StopAllTrading fans out to every active worker (spec.md §4.10 stop_all_trading()).
func (s *Service) StopAllTrading() map[int64]Outcome {
	out := map[int64]Outcome{}
	for _, id := range s.pool.ListActive() {
		out[id] = s.StopAccountTrading(id)
	}
	return out
}

// GetAccountTradingStatus is a synchronous request/response with a 5 s
// timeout; on timeout it returns a degraded status, not an error
// (spec.md §4.10).
func (s *Service) GetAccountTradingStatus(ctx context.Context, accountID int64) Outcome {
	correlationID, err := s.pool.SendTo(accountID, ipc.NewCommand(accountID, ipc.CmdGetStatus, nil))
	if err != nil {
		return Outcome{Success: false, Message: err.Error(), Status: "unknown"}
	}
	_, err = s.pool.Await(ctx, accountID, correlationID, StatusTimeout)
	if err != nil {
		return Outcome{Success: true, Message: "status request timed out", Status: "degraded"}
	}
	return Outcome{Success: true, Message: "status retrieved", Status: "ok"}
}

// GetGlobalTradingStatus aggregates every active account's status.
func (s *Service) GetGlobalTradingStatus(ctx context.Context) map[int64]Outcome {
	out := map[int64]Outcome{}
	for _, id := range s.pool.ListActive() {
		out[id] = s.GetAccountTradingStatus(ctx, id)
	}
	return out
}

// RestartWorker stops and restarts the worker for accountID, implementing
// health.Recoverer so the Health Monitor can trigger recovery directly.
func (s *Service) RestartWorker(ctx context.Context, accountID int64) error {
	acc, ok := s.registry.Get(accountID)
	if !ok {
		return fmt.Errorf("control: unknown account %d", accountID)
	}
	_ = s.pool.StopWorker(accountID, 10*time.Second)
	return s.pool.StartWorker(ctx, accountID, acc.Credentials.Login, acc.Credentials.Password, acc.Credentials.Server)
}

// EmergencyStop sets the persistent global flag and replicates it to
// every running worker via a single SetEmergencyStop command, optionally
// also requesting all positions be closed across all accounts (spec.md
// §4.10, §5). The close-all behavior rides along on the same command
// rather than a separate Stop: Stop is stop_account_trading's verb and
// must stay non-destructive, so a worker only ever closes positions when
// explicitly told to via this payload's CloseAll field.
func (s *Service) EmergencyStop(ctx context.Context, closeAllPositions bool) Outcome {
	s.emergency.Store(true)
	payload, err := ipc.Encode(ipc.EmergencyStopPayload{Enabled: true, CloseAll: closeAllPositions})
	if err != nil {
		return Outcome{Success: false, Message: "failed to encode emergency stop payload: " + err.Error()}
	}
	for _, id := range s.pool.ListActive() {
		_, _ = s.pool.SendTo(id, ipc.NewCommand(id, ipc.CmdSetEmergencyStop, payload))
	}
	if !closeAllPositions {
		return Outcome{Success: true, Message: "emergency stop engaged"}
	}
	return Outcome{Success: true, Message: "emergency stop engaged; close requested for all accounts"}
}
