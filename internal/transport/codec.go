// Package transport carries protocol batches over WebSocket.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/blockflow/internal/protocol"
)

// Codec encodes one batch per WebSocket frame.
type Codec interface {
	Name() string
	Encode(batch []protocol.Message) ([]byte, error)
	Decode(data []byte) ([]protocol.Message, error)
	// FrameType is the WebSocket message type the codec writes.
	FrameType() int
}

// JSONCodec writes batches as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(batch []protocol.Message) ([]byte, error) {
	return json.Marshal(batch)
}

func (JSONCodec) Decode(data []byte) ([]protocol.Message, error) {
	var batch []protocol.Message
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode json batch: %w", err)
	}
	return batch, nil
}

func (JSONCodec) FrameType() int { return websocket.TextMessage }

// MsgpackCodec writes batches as MessagePack binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(batch []protocol.Message) ([]byte, error) {
	return msgpack.Marshal(batch)
}

func (MsgpackCodec) Decode(data []byte) ([]protocol.Message, error) {
	var batch []protocol.Message
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode msgpack batch: %w", err)
	}
	return batch, nil
}

func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

// CodecByName returns the codec called name: "json" or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
