// Package supervisor implements the Worker Supervisor (C7): the
// in-control-process counterpart of one worker process (spec.md §4.7).
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ardenq/fleettrader/internal/ipc"
)

// State is the supervisor's observable lifecycle (spec.md §4.7).
type State int

const (
	StateStarting State = iota
	StateReady
	StateTrading
	StatePaused
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateTrading:
		return "trading"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DefaultReadyTimeout bounds how long start() waits for a Ready result
// matching this supervisor's account_id (spec.md §4.7).
const DefaultReadyTimeout = 30 * time.Second

var (
	ErrFailedToStart = errors.New("supervisor: worker failed to start")
	ErrClosed        = errors.New("supervisor: closed")
	ErrTimeout       = errors.New("supervisor: timeout")
)

// EventKind enumerates the observable state-transition events (spec.md §4.7).
type EventKind int

const (
	EventStateChanged EventKind = iota
)

// Event is delivered to the subscribed observer on every state transition.
type Event struct {
	AccountID int64
	Kind      EventKind
	State     State
}

// Supervisor owns one worker process for one account, communicating
// over two uni-directional msgpack-framed pipes (spec.md §3, §4.7).
type Supervisor struct {
	accountID   int64
	workerPath  string
	readyTimeout time.Duration

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	stdin io.WriteCloser

	pending map[string]chan ipc.Result
	results chan ipc.Result

	onEvent  func(Event)
	onResult func(ipc.Result)
}

// New builds a Supervisor for the given account, launching workerPath
// as the isolated process on Start.
func New(accountID int64, workerPath string) *Supervisor {
	return &Supervisor{
		accountID:    accountID,
		workerPath:   workerPath,
		readyTimeout: DefaultReadyTimeout,
		state:        StateStopped,
		pending:      map[string]chan ipc.Result{},
		results:      make(chan ipc.Result, 64),
	}
}

// Subscribe registers an event callback (spec.md §4.7 "observable via
// an event callback").
func (s *Supervisor) Subscribe(cb func(Event)) { s.onEvent = cb }

// SubscribeResults registers a callback fed every inbound result not
// claimed by a pending Await — the worker's unsolicited CycleComplete,
// StatusUpdate, Error and Closed traffic (spec.md §4.8 "a dedicated
// result-reader ... delivers result(account_id, result) to observers").
func (s *Supervisor) SubscribeResults(cb func(ipc.Result)) {
	s.mu.Lock()
	s.onResult = cb
	s.mu.Unlock()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.onEvent != nil {
		s.onEvent(Event{AccountID: s.accountID, Kind: EventStateChanged, State: st})
	}
}

// Start spawns the isolated worker process and waits up to
// readyTimeout for a Ready result matching this account (spec.md §4.7).
func (s *Supervisor) Start(ctx context.Context, login, password, server string) error {
	s.setState(StateStarting)

	cmd := exec.CommandContext(context.Background(), s.workerPath,
		"--account-id", strconv.FormatInt(s.accountID, 10))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("%w: stdin pipe: %v", ErrFailedToStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("%w: stdout pipe: %v", ErrFailedToStart, err)
	}
	if err := cmd.Start(); err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("%w: %v", ErrFailedToStart, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	go s.readLoop(bufio.NewReader(stdout))

	readyCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	for {
		select {
		case <-readyCtx.Done():
			s.setState(StateErrored)
			return fmt.Errorf("%w: no Ready within %s", ErrFailedToStart, s.readyTimeout)
		case res, ok := <-s.results:
			if !ok {
				s.setState(StateErrored)
				return fmt.Errorf("%w: worker closed before Ready", ErrFailedToStart)
			}
			if res.Type == ipc.ResReady && res.AccountID == s.accountID {
				s.setState(StateReady)
				go s.dispatchLoop()
				return nil
			}
			s.route(res)
		}
	}
}

// dispatchLoop continuously drains inbound results once the worker is
// Ready, routing each to its pending Await or, failing that, to the
// subscribed result observer (spec.md §4.7 result reader, §4.8 result
// events).
func (s *Supervisor) dispatchLoop() {
	for res := range s.results {
		s.route(res)
	}
}

func (s *Supervisor) readLoop(r *bufio.Reader) {
	for {
		var res ipc.Result
		if err := ipc.ReadFrame(r, &res); err != nil {
			s.setState(StateErrored)
			close(s.results)
			return
		}
		select {
		case s.results <- res:
		default:
		}
	}
}

func (s *Supervisor) route(res ipc.Result) {
	s.mu.Lock()
	ch, ok := s.pending[res.CorrelationID]
	if ok {
		delete(s.pending, res.CorrelationID)
	}
	onResult := s.onResult
	s.mu.Unlock()
	if ok {
		ch <- res
		return
	}
	if onResult != nil {
		onResult(res)
	}
}

// Send appends a command to the outbound pipe and returns its
// correlation id immediately (spec.md §4.7 send()).
func (s *Supervisor) Send(cmd ipc.Command) (string, error) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return "", ErrClosed
	}
	if err := ipc.WriteFrame(stdin, cmd); err != nil {
		return "", fmt.Errorf("supervisor: send: %w", err)
	}
	return cmd.CorrelationID, nil
}

// Await blocks for the first inbound result with the given
// correlation id, or returns ErrTimeout (spec.md §4.7 await()). Results
// are routed to the awaiter's channel by the shared dispatch loop;
// Await itself never reads s.results directly so multiple concurrent
// Awaits and the background result observer never race for the same
// frame.
func (s *Supervisor) Await(ctx context.Context, correlationID string, timeout time.Duration) (ipc.Result, error) {
	ch := make(chan ipc.Result, 1)
	s.mu.Lock()
	s.pending[correlationID] = ch
	s.mu.Unlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-timeoutCtx.Done():
		s.mu.Lock()
		delete(s.pending, correlationID)
		s.mu.Unlock()
		return ipc.Result{}, ErrTimeout
	case res := <-ch:
		return res, nil
	}
}

// Stop sends Shutdown and waits up to grace before force-killing the
// process (spec.md §4.7 stop()).
func (s *Supervisor) Stop(grace time.Duration) error {
	s.setState(StateStopping)
	_, _ = s.Send(ipc.NewCommand(s.accountID, ipc.CmdShutdown, nil))

	done := make(chan error, 1)
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		s.setState(StateStopped)
		return nil
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		s.setState(StateStopped)
		return nil
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-done
		s.setState(StateStopped)
		return errors.New("supervisor: force killed after grace period")
	}
}

// IsAlive reports whether the OS process backing this worker is still
// running (spec.md §4.7 is_alive()).
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
