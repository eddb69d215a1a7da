// Package protocol implements the duplex message protocol between a graph
// host and its clients.
//
// Both directions exchange batches of Messages. A Connection accumulates
// outbound units and flushes them as one batch, keeping at most one batch
// in flight. Server answers requests against a block.Root; Client issues
// them and merges subscriptions to the same path into one wire request.
//
// Every method of Connection, Server and Client must be called on the
// goroutine that drains the connection's executor. Transports deliver
// inbound batches by posting to that executor.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/event"
)

// Message is one request or response.
type Message = map[string]any

// Request commands.
const (
	CmdGet         = "get"
	CmdSet         = "set"
	CmdUpdate      = "update"
	CmdBind        = "bind"
	CmdCreate      = "create"
	CmdList        = "list"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdWatch       = "watch"
	CmdUnwatch     = "unwatch"
	CmdWatchDesc   = "watchDesc"
	CmdCommand     = "command"
	CmdSave        = "save"
	CmdDelete      = "delete"
)

// Response commands. CmdUpdate doubles as the streaming response.
const (
	CmdFinal = "final"
	CmdError = "error"
	CmdDone  = "done"
)

// Message fields.
const (
	FieldID          = "id"
	FieldCmd         = "cmd"
	FieldPath        = "path"
	FieldValue       = "value"
	FieldFrom        = "from"
	FieldAbsolute    = "absolute"
	FieldFilter      = "filter"
	FieldMax         = "max"
	FieldMsg         = "msg"
	FieldBindingPath = "bindingPath"
	FieldHasListener = "hasListener"
	FieldData        = "data"
	FieldJob         = "job"
	FieldName        = "name"
	FieldParams      = "params"
)

// BlockRefField marks an encoded block reference.
const BlockRefField = "#id"

// ProtocolError is a request failure, sent as {cmd: error, msg}.
type ProtocolError struct {
	Cmd  string
	Path string
	Msg  string
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Cmd != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Cmd, e.Path, e.Msg)
	case e.Cmd != "":
		return fmt.Sprintf("%s: %s", e.Cmd, e.Msg)
	}
	return e.Msg
}

// ErrDisconnected fails requests outstanding when the connection drops.
var ErrDisconnected = &ProtocolError{Msg: "disconnected"}

// EncodeValue converts a graph value into plain data. Blocks become
// {"#id": id}, events their wire form; maps and slices are converted
// recursively.
func EncodeValue(v any) any {
	switch x := v.(type) {
	case *block.Block:
		if x == nil {
			return nil
		}
		return map[string]any{BlockRefField: x.ID()}
	case *event.Event:
		return x.Wire()
	case *event.ErrorEvent:
		return x.Wire()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = EncodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = EncodeValue(item)
		}
		return out
	}
	return v
}

// Size returns the JSON-encoded size of m, the unit of the frame budget.
func Size(m Message) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}

// BatchSize returns the JSON-encoded size of a batch.
func BatchSize(batch []Message) int {
	n := 2
	for i, m := range batch {
		if i > 0 {
			n++
		}
		n += Size(m)
	}
	return n
}

func stringField(m Message, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m Message, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// intField accepts the numeric types the JSON and msgpack codecs produce.
func intField(m Message, key string) (int, bool) {
	switch n := m[key].(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
