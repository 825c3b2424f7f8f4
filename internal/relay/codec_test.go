package relay

import (
	"reflect"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/call-relay/internal/models"
)

func TestCodecFor(t *testing.T) {
	if c := CodecFor(""); c.Name() != SubprotocolJSON || c.FrameType() != websocket.TextMessage {
		t.Fatalf("default codec = %s/%d", c.Name(), c.FrameType())
	}
	if c := CodecFor("msgpack"); c.Name() != SubprotocolMsgpack || c.FrameType() != websocket.BinaryMessage {
		t.Fatalf("msgpack codec = %s/%d", c.Name(), c.FrameType())
	}
}

func TestCodecs_PreserveOpaqueRTCMessage(t *testing.T) {
	frame := map[string]interface{}{
		"event": "call",
		"data": map[string]interface{}{
			"calleeId": "bob",
			"rtcMessage": map[string]interface{}{
				"sdp":    "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n",
				"type":   "offer",
				"custom": "kept",
			},
		},
	}
	want := map[string]interface{}{
		"sdp":    "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n",
		"type":   "offer",
		"custom": "kept",
	}

	for _, name := range []string{SubprotocolJSON, SubprotocolMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec := CodecFor(name)
			raw, err := codec.Marshal(frame)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got models.InboundFrame
			if err := codec.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Event != models.EventCall || got.Data.CalleeID != "bob" {
				t.Fatalf("frame = %+v", got)
			}

			// Both codecs must be able to carry the value onward.
			for _, out := range []string{SubprotocolJSON, SubprotocolMsgpack} {
				target := CodecFor(out)
				encoded, err := target.Marshal(got.Data.RTCMessage)
				if err != nil {
					t.Fatalf("%s: marshal rtcMessage: %v", out, err)
				}
				var decoded map[string]interface{}
				if err := target.Unmarshal(encoded, &decoded); err != nil {
					t.Fatalf("%s: unmarshal rtcMessage: %v", out, err)
				}
				if !reflect.DeepEqual(decoded, want) {
					t.Fatalf("%s: rtcMessage = %#v, want %#v", out, decoded, want)
				}
			}
		})
	}
}
