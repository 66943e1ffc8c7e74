// Package pool implements the Worker Pool (C8): a registry of
// per-account Supervisors with bulk operations and bounded observer
// dispatch (spec.md §4.8).
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardenq/fleettrader/internal/ipc"
	"github.com/ardenq/fleettrader/internal/supervisor"
)

// ObserverQueueSize bounds the per-observer event queue; overflow
// drops the oldest pending event with a WARN (spec.md §4.8 subscribe()).
const ObserverQueueSize = 256

// Event mirrors the observer contract of spec.md §4.8.
type Event struct {
	Kind      string // "worker_started" | "worker_stopped" | "worker_errored" | "result"
	AccountID int64
	Result    *ipc.Result
}

var ErrAlreadyRunning = errors.New("pool: worker already running for account")
var ErrNotRunning = errors.New("pool: no worker running for account")

// Pool is the control-process registry keyed by account_id.
type Pool struct {
	mu        sync.Mutex
	workers   map[int64]*supervisor.Supervisor
	workerBin string

	observers   []chan Event
	observersMu sync.Mutex

	onWarn func(string)
}

// New builds a Pool that launches workerBin for every new worker.
func New(workerBin string) *Pool {
	return &Pool{
		workers:   map[int64]*supervisor.Supervisor{},
		workerBin: workerBin,
		onWarn:    func(string) {},
	}
}

// SetWarnHandler overrides the drop-on-overflow warning sink (defaults to a no-op).
func (p *Pool) SetWarnHandler(fn func(string)) { p.onWarn = fn }

// Subscribe registers an observer channel fed by a dedicated dispatch
// goroutine; observers must not block (spec.md §4.8).
func (p *Pool) Subscribe() <-chan Event {
	ch := make(chan Event, ObserverQueueSize)
	p.observersMu.Lock()
	p.observers = append(p.observers, ch)
	p.observersMu.Unlock()
	return ch
}

func (p *Pool) broadcastEvent(ev Event) {
	p.observersMu.Lock()
	defer p.observersMu.Unlock()
	for _, ch := range p.observers {
		select {
		case ch <- ev:
		default:
			// Drop-oldest: make room, then retry once.
			select {
			case <-ch:
				p.onWarn(fmt.Sprintf("pool: observer queue full, dropped oldest event to make room for account %d", ev.AccountID))
			default:
			}
			select {
			case ch <- ev:
			default:
				p.onWarn(fmt.Sprintf("pool: observer queue full, dropped event for account %d", ev.AccountID))
			}
		}
	}
}

// StartWorker creates a Supervisor, waits for Ready, and registers it.
// Fails with ErrAlreadyRunning if the account is already present
// (spec.md §4.8 start_worker()).
func (p *Pool) StartWorker(ctx context.Context, accountID int64, login, password, server string) error {
	p.mu.Lock()
	if _, exists := p.workers[accountID]; exists {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	sv := supervisor.New(accountID, p.workerBin)
	p.workers[accountID] = sv
	p.mu.Unlock()

	sv.Subscribe(func(ev supervisor.Event) {
		switch ev.State {
		case supervisor.StateReady:
			p.broadcastEvent(Event{Kind: "worker_started", AccountID: accountID})
		case supervisor.StateStopped:
			p.broadcastEvent(Event{Kind: "worker_stopped", AccountID: accountID})
		case supervisor.StateErrored:
			p.broadcastEvent(Event{Kind: "worker_errored", AccountID: accountID})
		}
	})
	sv.SubscribeResults(func(res ipc.Result) {
		p.broadcastEvent(Event{Kind: "result", AccountID: accountID, Result: &res})
	})

	if err := sv.Start(ctx, login, password, server); err != nil {
		p.mu.Lock()
		delete(p.workers, accountID)
		p.mu.Unlock()
		return err
	}
	return nil
}

// StopWorker gracefully stops and removes the worker (spec.md §4.8 stop_worker()).
func (p *Pool) StopWorker(accountID int64, grace time.Duration) error {
	p.mu.Lock()
	sv, ok := p.workers[accountID]
	if ok {
		delete(p.workers, accountID)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	return sv.Stop(grace)
}

// SendTo appends a command to one account's worker (spec.md §4.8 send_to()).
func (p *Pool) SendTo(accountID int64, cmd ipc.Command) (string, error) {
	p.mu.Lock()
	sv, ok := p.workers[accountID]
	p.mu.Unlock()
	if !ok {
		return "", ErrNotRunning
	}
	return sv.Send(cmd)
}

// Broadcast sends a command to every active worker (spec.md §4.8 broadcast()).
func (p *Pool) Broadcast(typ ipc.CommandType, payload []byte) map[int64]error {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	out := map[int64]error{}
	for _, id := range ids {
		_, err := p.SendTo(id, ipc.NewCommand(id, typ, payload))
		out[id] = err
	}
	return out
}

// Await blocks for a correlated result on one account's worker.
func (p *Pool) Await(ctx context.Context, accountID int64, correlationID string, timeout time.Duration) (ipc.Result, error) {
	p.mu.Lock()
	sv, ok := p.workers[accountID]
	p.mu.Unlock()
	if !ok {
		return ipc.Result{}, ErrNotRunning
	}
	return sv.Await(ctx, correlationID, timeout)
}

// ListActive returns every account_id with a running worker (spec.md §4.8 list_active()).
func (p *Pool) ListActive() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.workers))
	for id := range p.workers {
		out = append(out, id)
	}
	return out
}

// IsAlive reports whether the given account currently has a registered, alive worker.
func (p *Pool) IsAlive(accountID int64) bool {
	p.mu.Lock()
	sv, ok := p.workers[accountID]
	p.mu.Unlock()
	return ok && sv.IsAlive()
}

// StopAll gracefully stops every active worker, reporting per-account outcomes
// (spec.md §4.8 stop_all()).
func (p *Pool) StopAll(grace time.Duration) map[int64]error {
	out := map[int64]error{}
	for _, id := range p.ListActive() {
		out[id] = p.StopWorker(id, grace)
	}
	return out
}
