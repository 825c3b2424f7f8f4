package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// RTCMessage is the opaque signaling payload exchanged between peers.
// Clients usually send some of label, id, candidate and sdp, but the relay
// never inspects it. The value is kept in the encoding it arrived in and
// converted at most once when a peer speaks the other codec.
type RTCMessage struct {
	raw       []byte
	isMsgpack bool

	asJSON    converted
	asMsgpack converted
}

type converted struct {
	once sync.Once
	data []byte
	err  error
}

// RTCMessageFromJSON wraps an encoded JSON value.
func RTCMessageFromJSON(raw []byte) *RTCMessage {
	return &RTCMessage{raw: append([]byte(nil), raw...)}
}

// RTCMessageFromMsgpack wraps an encoded MessagePack value.
func RTCMessageFromMsgpack(raw []byte) *RTCMessage {
	return &RTCMessage{raw: append([]byte(nil), raw...), isMsgpack: true}
}

func (m *RTCMessage) UnmarshalJSON(b []byte) error {
	m.raw = append(m.raw[:0], b...)
	m.isMsgpack = false
	return nil
}

func (m *RTCMessage) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	if !m.isMsgpack {
		return m.raw, nil
	}
	m.asJSON.once.Do(func() {
		m.asJSON.data, m.asJSON.err = msgpackToJSON(m.raw)
	})
	return m.asJSON.data, m.asJSON.err
}

func (m *RTCMessage) UnmarshalMsgpack(b []byte) error {
	m.raw = append(m.raw[:0], b...)
	m.isMsgpack = true
	return nil
}

func (m *RTCMessage) MarshalMsgpack() ([]byte, error) {
	if len(m.raw) == 0 {
		return msgpack.Marshal(nil)
	}
	if m.isMsgpack {
		return m.raw, nil
	}
	m.asMsgpack.once.Do(func() {
		m.asMsgpack.data, m.asMsgpack.err = jsonToMsgpack(m.raw)
	})
	return m.asMsgpack.data, m.asMsgpack.err
}

func msgpackToJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode msgpack rtcMessage: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode rtcMessage as json: %w", err)
	}
	return out, nil
}

func jsonToMsgpack(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json rtcMessage: %w", err)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(exactNumbers(v)); err != nil {
		return nil, fmt.Errorf("encode rtcMessage as msgpack: %w", err)
	}
	return buf.Bytes(), nil
}

// exactNumbers replaces json.Number with the narrowest Go number that holds
// it without rounding.
func exactNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return u
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, e := range t {
			t[k] = exactNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = exactNumbers(e)
		}
		return t
	default:
		return v
	}
}
