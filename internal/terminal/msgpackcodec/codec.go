// Package msgpackcodec registers a grpc encoding.Codec that marshals
// request/response messages with msgpack instead of protobuf wire format.
// The terminal bridge client (internal/terminal) uses it so the same
// msgpack encoding already used for worker IPC framing (internal/ipc)
// also carries gRPC payloads to the external terminal bridge, without
// requiring protoc-generated stubs for the bridge's own wire messages.
package msgpackcodec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// Name is the codec name passed to grpc.CallContentSubtype /
// registered via encoding.RegisterCodec.
const Name = "msgpack"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpackcodec: marshal: %w", err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpackcodec: unmarshal: %w", err)
	}
	return nil
}

func (codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(codec{})
}
