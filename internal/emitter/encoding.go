// Package emitter publishes scan session events to an MQTT broker.
package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	codescanner "github.com/e7canasta/code-scanner"
)

// Encoder serializes an event for the wire.
type Encoder func(codescanner.Event) ([]byte, error)

// EncodeJSON encodes ev as JSON.
func EncodeJSON(ev codescanner.Event) ([]byte, error) { return json.Marshal(ev) }

// EncodeMsgpack encodes ev as MessagePack.
func EncodeMsgpack(ev codescanner.Event) ([]byte, error) { return msgpack.Marshal(ev) }

// EncoderFor returns the encoder named "json" (or "") or "msgpack".
func EncoderFor(name string) (Encoder, error) {
	switch name {
	case "", "json":
		return EncodeJSON, nil
	case "msgpack":
		return EncodeMsgpack, nil
	}
	return nil, fmt.Errorf("emitter: unknown encoding %q", name)
}
