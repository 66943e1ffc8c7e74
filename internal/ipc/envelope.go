// Package ipc defines the Command/Result envelope exchanged between a
// Worker Supervisor (C7) and the worker process it owns, and the
// length-prefixed msgpack framing used to carry it over the worker's
// stdin/stdout pipes.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// CommandType enumerates the commands recognized by a worker, per
// spec.md §3.
type CommandType string

const (
	CmdStart            CommandType = "Start"
	CmdStop             CommandType = "Stop"
	CmdPause            CommandType = "Pause"
	CmdResume           CommandType = "Resume"
	CmdExecuteCycle     CommandType = "ExecuteCycle"
	CmdGetStatus        CommandType = "GetStatus"
	CmdCheckAutoTrading CommandType = "CheckAutoTrading"
	CmdSetEmergencyStop CommandType = "SetEmergencyStop"
	CmdShutdown         CommandType = "Shutdown"
)

// ResultType enumerates the results a worker may emit, per spec.md §3.
type ResultType string

const (
	ResReady              ResultType = "Ready"
	ResCycleComplete      ResultType = "CycleComplete"
	ResStatusUpdate       ResultType = "StatusUpdate"
	ResAutoTradingStatus  ResultType = "AutoTradingStatus"
	ResError              ResultType = "Error"
	ResClosed             ResultType = "Closed"
)

// Command is sent from the supervisor to the worker.
type Command struct {
	Type          CommandType `msgpack:"type"`
	CorrelationID string      `msgpack:"correlation_id"`
	AccountID     int64       `msgpack:"account_id"`
	Payload       []byte      `msgpack:"payload,omitempty"`
}

// NewCommand builds a Command with a fresh correlation ID.
func NewCommand(accountID int64, typ CommandType, payload []byte) Command {
	return Command{
		Type:          typ,
		CorrelationID: uuid.NewString(),
		AccountID:     accountID,
		Payload:       payload,
	}
}

// CycleCompletePayload is the payload of a CycleComplete result.
type CycleCompletePayload struct {
	Trades  int      `msgpack:"trades"`
	Signals int      `msgpack:"signals"`
	Errors  []string `msgpack:"errors"`
}

// StatusUpdatePayload is the payload of a StatusUpdate result.
type StatusUpdatePayload struct {
	State          string  `msgpack:"state"`
	OpenPositions  int     `msgpack:"open_positions"`
	LastCycleAtUTC int64   `msgpack:"last_cycle_at_utc"`
	RSSBytes       uint64  `msgpack:"rss_bytes"`
}

// AutoTradingStatusPayload is the payload of an AutoTradingStatus result.
type AutoTradingStatusPayload struct {
	Enabled      bool   `msgpack:"enabled"`
	TradeAllowed bool   `msgpack:"trade_allowed"`
	Message      string `msgpack:"message"`
}

// EmergencyStopPayload is the payload of a SetEmergencyStop command,
// replicating the control plane's global flag into a worker (spec.md §5).
// CloseAll mirrors emergency_stop's optional "close all positions across
// all accounts" behavior (spec.md §4.10); a worker receiving it closes
// every position it currently holds as part of handling this command.
type EmergencyStopPayload struct {
	Enabled  bool `msgpack:"enabled"`
	CloseAll bool `msgpack:"close_all"`
}

// ErrorPayload is the payload of an Error result.
type ErrorPayload struct {
	Kind   string `msgpack:"kind"`
	Detail string `msgpack:"detail"`
}

// Result is sent from the worker to the supervisor.
type Result struct {
	Type          ResultType `msgpack:"type"`
	CorrelationID string     `msgpack:"correlation_id,omitempty"`
	AccountID     int64      `msgpack:"account_id"`
	Payload       []byte     `msgpack:"payload,omitempty"`
}

// Encode marshals v with msgpack and packs it behind the payload field.
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode unmarshals a payload previously produced by Encode.
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

const maxFrameSize = 16 << 20 // 16MiB guards against a corrupt length prefix

// WriteFrame writes a length-prefixed msgpack-encoded frame to w.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipc: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed msgpack-encoded frame from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err // includes io.EOF on clean close, propagated to caller
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return fmt.Errorf("ipc: frame size %d exceeds limit %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("ipc: read frame body: %w", err)
	}
	return msgpack.Unmarshal(body, v)
}
