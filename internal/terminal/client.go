package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ardenq/fleettrader/internal/terminal/bridgepb"
	"github.com/ardenq/fleettrader/internal/terminal/msgpackcodec"
)

// ClientConfig controls the gRPC client's dial target and resilience
// policy: dial and per-call timeouts, per-account rate limiting so a
// worker can never overrun the bridge, and a circuit breaker that fails
// fast after repeated errors. The client does not reconnect on its own.
type ClientConfig struct {
	Target          string
	DialTimeout     time.Duration
	CallTimeout     time.Duration
	RateLimit       rate.Limit // RPCs per second
	RateBurst       int
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

// DefaultClientConfig returns sane defaults for dial/call timeouts,
// outbound rate limiting, and circuit breaker tuning.
func DefaultClientConfig(target string) ClientConfig {
	return ClientConfig{
		Target:          target,
		DialTimeout:     5 * time.Second,
		CallTimeout:     10 * time.Second,
		RateLimit:       20,
		RateBurst:       5,
		BreakerInterval: 60 * time.Second,
		BreakerTimeout:  30 * time.Second,
	}
}

// Client is a gRPC-backed Session implementation. The bridge's own
// service/method names are not standardized (spec.md §1 places the
// bridge protocol out of scope); Client speaks to it purely through
// grpc.Invoke with hand-authored message shapes (bridgepb) carried by
// the msgpack codec, which keeps this honest about not claiming to
// reproduce the real MT5 wire format.
type Client struct {
	cfg     ClientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	connected bool
}

// NewClient dials the bridge lazily; the connection is established on
// the first Connect call so construction never blocks on the network.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "terminal-bridge",
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return c
}

func (c *Client) Connect(ctx context.Context, login, password, server string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, c.cfg.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(msgpackcodec.Name)),
		grpc.WithBlock(),
	)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrTerminalDown, err)
	}

	req := bridgepb.ConnectRequest{Login: login, Password: password, Server: server}
	var reply bridgepb.ConnectReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/Connect", &req, &reply); err != nil {
		_ = conn.Close()
		return err
	}
	if !reply.Connected {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrAuth, reply.Message)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// invoke applies rate limiting and circuit breaking uniformly around a
// single grpc.Invoke call, mapping an open breaker directly to
// ErrTerminalDown without attempting a round trip (spec.md §4.2).
func (c *Client) invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, reply interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("terminal: rate limiter: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, conn.Invoke(callCtx, method, req, reply)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrTerminalDown
	}
	return err
}

func (c *Client) activeConn() (*grpc.ClientConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.connected {
		return nil, ErrTerminalDown
	}
	return c.conn, nil
}

func (c *Client) GetAccountState(ctx context.Context) (AccountState, error) {
	conn, err := c.activeConn()
	if err != nil {
		return AccountState{}, err
	}
	var reply bridgepb.AccountStateReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/AccountState", &bridgepb.Empty{}, &reply); err != nil {
		return AccountState{}, err
	}
	return AccountState{
		Balance:      reply.Balance,
		Equity:       reply.Equity,
		MarginFree:   reply.MarginFree,
		Leverage:     reply.Leverage,
		TradeAllowed: reply.TradeAllowed,
	}, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	conn, err := c.activeConn()
	if err != nil {
		return SymbolInfo{}, err
	}
	req := bridgepb.SymbolInfoRequest{Symbol: symbol}
	var reply bridgepb.SymbolInfoReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/SymbolInfo", &req, &reply); err != nil {
		return SymbolInfo{}, err
	}
	return SymbolInfo{
		Digits:       reply.Digits,
		Point:        reply.Point,
		ContractSize: reply.ContractSize,
		MinLot:       reply.MinLot,
		LotStep:      reply.LotStep,
		Spread:       reply.Spread,
	}, nil
}

func (c *Client) GetOHLC(ctx context.Context, symbol string, timeframe string, count int) ([]Bar, error) {
	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}
	req := bridgepb.OHLCRequest{Symbol: symbol, Timeframe: timeframe, Count: count}
	var reply bridgepb.OHLCReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/OHLC", &req, &reply); err != nil {
		return nil, err
	}
	return reply.Bars, nil
}

func (c *Client) GetTick(ctx context.Context, symbol string) (Tick, error) {
	conn, err := c.activeConn()
	if err != nil {
		return Tick{}, err
	}
	req := bridgepb.TickRequest{Symbol: symbol}
	var reply bridgepb.TickReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/Tick", &req, &reply); err != nil {
		return Tick{}, err
	}
	return Tick{Bid: reply.Bid, Ask: reply.Ask, Timestamp: reply.Timestamp}, nil
}

// fillModeOrder is tried in sequence until the bridge accepts an order
// (spec.md §6: fill mode is probed, not configured).
var fillModeOrder = []bridgepb.FillMode{bridgepb.FillFOK, bridgepb.FillIOC, bridgepb.FillReturn}

func (c *Client) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	conn, err := c.activeConn()
	if err != nil {
		return OrderResult{}, err
	}

	var lastErr error
	for _, mode := range fillModeOrder {
		wireReq := bridgepb.OrderRequest{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Volume:   req.Volume,
			SL:       req.SL,
			TP:       req.TP,
			FillMode: mode,
		}
		var reply bridgepb.OrderReply
		err := c.invoke(ctx, conn, "/bridge.Terminal/SendOrder", &wireReq, &reply)
		if err == nil {
			return OrderResult{Ticket: reply.Ticket, FillPrice: reply.FillPrice}, nil
		}
		lastErr = err
		var rejected *bridgepb.RejectedError
		if !asRejected(err, &rejected) {
			return OrderResult{}, err
		}
	}
	return OrderResult{}, lastErr
}

func asRejected(err error, target **bridgepb.RejectedError) bool {
	r, ok := err.(*bridgepb.RejectedError)
	if !ok {
		return false
	}
	*target = r
	return true
}

func (c *Client) ModifyPosition(ctx context.Context, ticket int64, newSL, newTP *float64) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	req := bridgepb.ModifyPositionRequest{Ticket: ticket, NewSL: newSL, NewTP: newTP}
	var reply bridgepb.Empty
	return c.invoke(ctx, conn, "/bridge.Terminal/ModifyPosition", &req, &reply)
}

func (c *Client) ClosePosition(ctx context.Context, ticket int64, volume *float64) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	req := bridgepb.ClosePositionRequest{Ticket: ticket, Volume: volume}
	var reply bridgepb.Empty
	return c.invoke(ctx, conn, "/bridge.Terminal/ClosePosition", &req, &reply)
}

func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}
	var reply bridgepb.ListPositionsReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/ListPositions", &bridgepb.Empty{}, &reply); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(reply.Positions))
	for _, p := range reply.Positions {
		out = append(out, Position{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Volume:     p.Volume,
			EntryPrice: p.EntryPrice,
			SL:         p.SL,
			TP:         p.TP,
		})
	}
	return out, nil
}

func (c *Client) CheckAutoTrading(ctx context.Context) (AutoTrading, error) {
	conn, err := c.activeConn()
	if err != nil {
		return AutoTrading{}, err
	}
	var reply bridgepb.AutoTradingReply
	if err := c.invoke(ctx, conn, "/bridge.Terminal/AutoTrading", &bridgepb.Empty{}, &reply); err != nil {
		return AutoTrading{}, err
	}
	return AutoTrading{Enabled: reply.Enabled, TradeAllowed: reply.TradeAllowed, Message: reply.Message}, nil
}

var _ Session = (*Client)(nil)
