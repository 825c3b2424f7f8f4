package relay

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Subprotocols offered during the WebSocket upgrade, in preference order.
const (
	SubprotocolJSON    = "json"
	SubprotocolMsgpack = "msgpack"
)

// Subprotocols lists what the upgrader negotiates.
var Subprotocols = []string{SubprotocolJSON, SubprotocolMsgpack}

// Codec encodes and decodes frames for one connection.
type Codec interface {
	Name() string
	FrameType() int
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// CodecFor picks the codec for a negotiated subprotocol. Anything other than
// msgpack, including no subprotocol, is JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return SubprotocolJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return SubprotocolMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }
