package terminal

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Session used by C3/C4/C5/C6 tests so they never
// need a live bridge connection. Behavior is driven entirely by the
// fields the test sets before/while exercising it.
type Fake struct {
	mu sync.Mutex

	connected bool

	Bars  map[string][]Bar
	Ticks map[string]Tick
	Syms  map[string]SymbolInfo

	AccountState AccountState
	AutoTrading  AutoTrading

	positions  map[int64]Position
	nextTicket int64

	ConnectErr error
	OrderErr   error
}

// NewFake returns a Fake with empty maps ready to populate.
func NewFake() *Fake {
	return &Fake{
		Bars:       map[string][]Bar{},
		Ticks:      map[string]Tick{},
		Syms:       map[string]SymbolInfo{},
		positions:  map[int64]Position{},
		nextTicket: 1,
	}
}

func (f *Fake) Connect(ctx context.Context, login, password, server string) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) GetAccountState(ctx context.Context) (AccountState, error) {
	return f.AccountState, nil
}

func (f *Fake) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	info, ok := f.Syms[symbol]
	if !ok {
		return SymbolInfo{}, ErrUnknownSymbol
	}
	return info, nil
}

func (f *Fake) GetOHLC(ctx context.Context, symbol string, timeframe string, count int) ([]Bar, error) {
	bars := f.Bars[symbol]
	if len(bars) == 0 {
		return nil, ErrDataUnavailable
	}
	if count > 0 && count < len(bars) {
		return bars[len(bars)-count:], nil
	}
	return bars, nil
}

func (f *Fake) GetTick(ctx context.Context, symbol string) (Tick, error) {
	t, ok := f.Ticks[symbol]
	if !ok {
		return Tick{}, ErrDataUnavailable
	}
	return t, nil
}

func (f *Fake) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if f.OrderErr != nil {
		return OrderResult{}, f.OrderErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket := f.nextTicket
	f.nextTicket++
	tick := f.Ticks[req.Symbol]
	entry := tick.Ask
	if req.Side == SideSell {
		entry = tick.Bid
	}
	f.positions[ticket] = Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		EntryPrice: entry,
		SL:         req.SL,
		TP:         req.TP,
	}
	return OrderResult{Ticket: ticket, FillPrice: entry}, nil
}

func (f *Fake) ModifyPosition(ctx context.Context, ticket int64, newSL, newTP *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[ticket]
	if !ok {
		return &RejectedError{Code: "unknown_ticket", Message: "no such position"}
	}
	if newSL != nil {
		pos.SL = *newSL
	}
	if newTP != nil {
		pos.TP = *newTP
	}
	f.positions[ticket] = pos
	return nil
}

func (f *Fake) ClosePosition(ctx context.Context, ticket int64, volume *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[ticket]
	if !ok {
		return &RejectedError{Code: "unknown_ticket", Message: "no such position"}
	}
	if volume == nil || *volume >= pos.Volume {
		delete(f.positions, ticket)
		return nil
	}
	pos.Volume -= *volume
	f.positions[ticket] = pos
	return nil
}

func (f *Fake) ListPositions(ctx context.Context) ([]Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) CheckAutoTrading(ctx context.Context) (AutoTrading, error) {
	return f.AutoTrading, nil
}

// SetTick is a convenience used by tests to seed a quote.
func (f *Fake) SetTick(symbol string, bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ticks[symbol] = Tick{Bid: bid, Ask: ask, Timestamp: time.Unix(0, 0)}
}

var _ Session = (*Fake)(nil)
