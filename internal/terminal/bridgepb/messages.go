// Package bridgepb defines the request/response message shapes exchanged
// with the external terminal bridge over gRPC (see internal/terminal).
// The bridge's own wire protocol is out of scope for this core
// (spec.md §1); these are only the client-side message shapes the core
// needs to drive the capability set of spec.md §4.2.
package bridgepb

import "time"

// Side is a position/order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// FillMode governs partial/IOC/FOK order semantics; the bridge is probed
// for the accepted mode rather than configured (spec.md §6).
type FillMode string

const (
	FillFOK    FillMode = "fok"
	FillIOC    FillMode = "ioc"
	FillReturn FillMode = "return"
)

// ConnectRequest opens a terminal session for one account.
type ConnectRequest struct {
	Login    string `msgpack:"login"`
	Password string `msgpack:"password"`
	Server   string `msgpack:"server"`
}

// ConnectReply acknowledges a ConnectRequest.
type ConnectReply struct {
	Connected bool   `msgpack:"connected"`
	Message   string `msgpack:"message"`
}

// AccountStateReply carries account-level balances (spec.md §4.2
// get_account_state).
type AccountStateReply struct {
	Balance      float64 `msgpack:"balance"`
	Equity       float64 `msgpack:"equity"`
	MarginFree   float64 `msgpack:"margin_free"`
	Leverage     int     `msgpack:"leverage"`
	TradeAllowed bool    `msgpack:"trade_allowed"`
}

// SymbolInfoRequest asks for a symbol's trading metadata.
type SymbolInfoRequest struct {
	Symbol string `msgpack:"symbol"`
}

// SymbolInfoReply carries the metadata spec.md §4.2 says is pulled from
// the terminal on demand, not from configuration.
type SymbolInfoReply struct {
	Digits       int     `msgpack:"digits"`
	Point        float64 `msgpack:"point"`
	ContractSize float64 `msgpack:"contract_size"`
	MinLot       float64 `msgpack:"min_lot"`
	LotStep      float64 `msgpack:"lot_step"`
	Spread       float64 `msgpack:"spread"`
}

// OHLCRequest asks for historical bars.
type OHLCRequest struct {
	Symbol    string `msgpack:"symbol"`
	Timeframe string `msgpack:"timeframe"`
	Count     int    `msgpack:"count"`
}

// Bar is a single OHLC bar.
type Bar struct {
	Time   time.Time `msgpack:"time"`
	Open   float64   `msgpack:"open"`
	High   float64   `msgpack:"high"`
	Low    float64   `msgpack:"low"`
	Close  float64   `msgpack:"close"`
	Volume float64   `msgpack:"volume"`
}

// OHLCReply carries the bars requested, oldest first.
type OHLCReply struct {
	Bars []Bar `msgpack:"bars"`
}

// TickRequest asks for the current bid/ask.
type TickRequest struct {
	Symbol string `msgpack:"symbol"`
}

// TickReply is the current quote.
type TickReply struct {
	Bid       float64   `msgpack:"bid"`
	Ask       float64   `msgpack:"ask"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// OrderRequest places a new market order.
type OrderRequest struct {
	Symbol   string   `msgpack:"symbol"`
	Side     Side     `msgpack:"side"`
	Volume   float64  `msgpack:"volume"`
	SL       float64  `msgpack:"sl"`
	TP       float64  `msgpack:"tp"`
	FillMode FillMode `msgpack:"fill_mode"`
}

// OrderReply is the outcome of a successful OrderRequest.
type OrderReply struct {
	Ticket    int64   `msgpack:"ticket"`
	FillPrice float64 `msgpack:"fill_price"`
}

// RejectedError carries a bridge-supplied rejection code, e.g. for
// fill-mode incompatibility or a requote (spec.md §4.2, §7).
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string { return e.Code + ": " + e.Message }

// ModifyPositionRequest adjusts SL/TP on an existing position.
type ModifyPositionRequest struct {
	Ticket int64    `msgpack:"ticket"`
	NewSL  *float64 `msgpack:"new_sl,omitempty"`
	NewTP  *float64 `msgpack:"new_tp,omitempty"`
}

// ClosePositionRequest fully or partially closes a position.
type ClosePositionRequest struct {
	Ticket int64    `msgpack:"ticket"`
	Volume *float64 `msgpack:"volume,omitempty"` // nil = close in full
}

// Position mirrors the OpenPosition fields the bridge reports.
type Position struct {
	Ticket    int64   `msgpack:"ticket"`
	Symbol    string  `msgpack:"symbol"`
	Side      Side    `msgpack:"side"`
	Volume    float64 `msgpack:"volume"`
	EntryPrice float64 `msgpack:"entry_price"`
	SL        float64 `msgpack:"sl"`
	TP        float64 `msgpack:"tp"`
}

// ListPositionsRequest asks for all open positions of an account.
type ListPositionsRequest struct {
	AccountID int64 `msgpack:"account_id"`
}

// ListPositionsReply carries the account's open positions.
type ListPositionsReply struct {
	Positions []Position `msgpack:"positions"`
}

// AutoTradingReply carries the bridge's algorithmic-trading permission
// flag (spec.md §4.10).
type AutoTradingReply struct {
	Enabled      bool   `msgpack:"enabled"`
	TradeAllowed bool   `msgpack:"trade_allowed"`
	Message      string `msgpack:"message"`
}

// Empty is used for requests/replies with no payload.
type Empty struct{}
