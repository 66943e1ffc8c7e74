// Package terminal implements the Terminal Session (C2): one isolated
// connection to the external trading terminal, abstracted behind the
// capability set consumed by C3, C4, C5 (spec.md §4.2).
package terminal

import (
	"context"
	"errors"
	"time"

	"github.com/ardenq/fleettrader/internal/terminal/bridgepb"
)

// Bar is the OHLC bar type used throughout the core.
type Bar = bridgepb.Bar

// Tick is the current quote.
type Tick struct {
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// AccountState mirrors get_account_state (spec.md §4.2).
type AccountState struct {
	Balance      float64
	Equity       float64
	MarginFree   float64
	Leverage     int
	TradeAllowed bool
}

// SymbolInfo mirrors get_symbol_info (spec.md §4.2).
type SymbolInfo struct {
	Digits       int
	Point        float64
	ContractSize float64
	MinLot       float64
	LotStep      float64
	Spread       float64
}

// Side is a position/order direction.
type Side = bridgepb.Side

const (
	SideBuy  = bridgepb.SideBuy
	SideSell = bridgepb.SideSell
)

// OrderRequest is the input to SendOrder.
type OrderRequest struct {
	Symbol string
	Side   Side
	Volume float64
	SL     float64
	TP     float64
}

// OrderResult is the outcome of a successful SendOrder.
type OrderResult struct {
	Ticket    int64
	FillPrice float64
}

// Position mirrors OpenPosition as reported by the terminal.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     float64
	EntryPrice float64
	SL         float64
	TP         float64
}

// AutoTrading mirrors the CheckAutoTrading capability (spec.md §4.10).
type AutoTrading struct {
	Enabled      bool
	TradeAllowed bool
	Message      string
}

// Sentinel errors forming the C2 error taxonomy (spec.md §4.2, §7).
var (
	ErrAuth           = errors.New("terminal: authentication failed")
	ErrTerminalDown   = errors.New("terminal: unreachable")
	ErrUnknownSymbol  = errors.New("terminal: unknown symbol")
	ErrDataUnavailable = errors.New("terminal: data unavailable")
)

// RejectedError is returned by SendOrder/ModifyPosition/ClosePosition
// when the bridge rejects the request with a code (spec.md §7
// OrderRejected(code)).
type RejectedError = bridgepb.RejectedError

// Session is the capability set of spec.md §4.2, consumed by C3, C4, C5.
// One Session instance serves exactly one account (spec.md invariant 2:
// orders are sent only from inside the worker owning that account).
type Session interface {
	Connect(ctx context.Context, login, password, server string) error
	Disconnect()
	IsConnected() bool

	GetAccountState(ctx context.Context) (AccountState, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	GetOHLC(ctx context.Context, symbol string, timeframe string, count int) ([]Bar, error)
	GetTick(ctx context.Context, symbol string) (Tick, error)

	SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyPosition(ctx context.Context, ticket int64, newSL, newTP *float64) error
	ClosePosition(ctx context.Context, ticket int64, volume *float64) error
	ListPositions(ctx context.Context) ([]Position, error)

	CheckAutoTrading(ctx context.Context) (AutoTrading, error)
}
