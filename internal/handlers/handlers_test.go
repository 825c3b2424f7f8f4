package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mossy-p/call-relay/config"
	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/relay"
)

type testRelay struct {
	server  *httptest.Server
	service *relay.Service
	metrics *metrics.Metrics
	cfg     *config.Config
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, mutate func(*config.Config, *relay.Options)) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.LogFormat = config.LogFormatText
	cfg.StaticDir = ""
	m := metrics.New()
	opts := relay.Options{
		DuplicatePolicy: relay.DuplicateFanout,
		Metrics:         m,
		Logger:          discardLogger(),
	}
	if mutate != nil {
		mutate(cfg, &opts)
	}

	svc := relay.NewService(opts)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	router := NewRouter(RouterDeps{
		Config:     cfg,
		Service:    svc,
		Metrics:    m,
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example:3478"}}},
		Logger:     discardLogger(),
	})
	ts := httptest.NewServer(router)

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &testRelay{server: ts, service: svc, metrics: m, cfg: cfg}
}

func (r *testRelay) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (r *testRelay) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL("callerId="+url.QueryEscape(identity)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", identity, err)
	}
	t.Cleanup(func() { ws.Close() })
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections > 0 })
	return ws
}

// waitFor polls the hub until cond holds.
func (r *testRelay) waitFor(t *testing.T, cond func(models.RelayStats) bool) models.RelayStats {
	t.Helper()
	hub := r.service.MustHub()
	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, err := hub.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if cond(stats) {
			return stats
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last stats %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := ws.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

type wireFrame struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) wireFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wireFrame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var f wireFrame
	if err := ws.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestSignaling_CallReachesCallee(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	sendJSON(t, alice, "call", map[string]interface{}{
		"calleeId":   "bob",
		"rtcMessage": map[string]interface{}{"sdp": "offer1"},
	})

	f := readFrame(t, bob)
	if f.Event != "newCall" {
		t.Fatalf("event = %q, want newCall", f.Event)
	}
	if f.Data["callerId"] != "alice" {
		t.Fatalf("callerId = %v, want alice", f.Data["callerId"])
	}
	rtc, _ := f.Data["rtcMessage"].(map[string]interface{})
	if len(rtc) != 1 || rtc["sdp"] != "offer1" {
		t.Fatalf("rtcMessage = %v, want {sdp: offer1}", f.Data["rtcMessage"])
	}

	expectSilence(t, bob)
	expectSilence(t, alice)
}

func TestSignaling_FullExchange(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	sendJSON(t, bob, "answerCall", map[string]interface{}{
		"callerId":   "alice",
		"rtcMessage": map[string]interface{}{"sdp": "answer1", "type": "answer"},
	})
	f := readFrame(t, alice)
	if f.Event != "callAnswered" || f.Data["callee"] != "bob" {
		t.Fatalf("frame = %+v, want callAnswered from bob", f)
	}
	if rtc := f.Data["rtcMessage"].(map[string]interface{}); rtc["type"] != "answer" {
		t.Fatalf("rtcMessage lost keys: %v", rtc)
	}

	sendJSON(t, alice, "ICEcandidate", map[string]interface{}{
		"calleeId":   "bob",
		"rtcMessage": map[string]interface{}{"label": 0, "id": "0", "candidate": "candidate:1 1 udp 1 10.0.0.1 5000 typ host"},
	})
	f = readFrame(t, bob)
	if f.Event != "ICEcandidate" || f.Data["sender"] != "alice" {
		t.Fatalf("frame = %+v, want ICEcandidate from alice", f)
	}

	sendJSON(t, alice, "endCall", nil)
	expectSilence(t, bob)
	if got := r.metrics.Get(metrics.CallsEndedWithout); got != 1 {
		t.Fatalf("calls_end_without_active = %d, want 1", got)
	}
}

func TestSignaling_OfflineTargetIsSilent(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.dial(t, "alice")

	sendJSON(t, alice, "call", map[string]interface{}{"calleeId": "nobody", "rtcMessage": map[string]interface{}{}})
	expectSilence(t, alice)

	// The connection is still usable afterwards.
	bob := r.dial(t, "bob")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })
	sendJSON(t, alice, "call", map[string]interface{}{"calleeId": "bob", "rtcMessage": map[string]interface{}{}})
	if f := readFrame(t, bob); f.Event != "newCall" {
		t.Fatalf("event = %q, want newCall", f.Event)
	}
}

func TestSignaling_MissingIdentityRejected(t *testing.T) {
	r := newTestRelay(t, nil)

	for _, query := range []string{"", "callerId=", "calleeId=bob"} {
		ws, resp, err := websocket.DefaultDialer.Dial(r.wsURL(query), nil)
		if err == nil {
			ws.Close()
			t.Fatalf("query %q: dial succeeded", query)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q: response = %v, want 400", query, resp)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "Invalid callerId") {
			t.Fatalf("query %q: body = %s", query, body)
		}
	}

	stats := r.waitFor(t, func(models.RelayStats) bool { return true })
	if stats.Connections != 0 {
		t.Fatalf("connections = %d, want 0", stats.Connections)
	}
	if got := r.metrics.Get(metrics.ConnectionsRejected); got != 3 {
		t.Fatalf("connections_rejected = %d, want 3", got)
	}
}

func TestSignaling_DuplicateIdentityRejected(t *testing.T) {
	r := newTestRelay(t, func(_ *config.Config, o *relay.Options) {
		o.DuplicatePolicy = relay.DuplicateReject
	})
	r.dial(t, "bob")

	_, resp, err := websocket.DefaultDialer.Dial(r.wsURL("callerId=bob"), nil)
	if err == nil {
		t.Fatal("duplicate dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("response = %v, want 409", resp)
	}
}

func TestSignaling_DisconnectReleasesIdentity(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	bob.Close()
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 1 })

	online, err := r.service.MustHub().IsOnline(context.Background(), "bob")
	if err != nil || online {
		t.Fatalf("IsOnline(bob) = %v, %v, want false", online, err)
	}

	sendJSON(t, alice, "call", map[string]interface{}{"calleeId": "bob"})
	expectSilence(t, alice)
}

func TestSignaling_MsgpackSubprotocol(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.dial(t, "alice")

	dialer := websocket.Dialer{Subprotocols: []string{relay.SubprotocolMsgpack}}
	bob, _, err := dialer.Dial(r.wsURL("callerId=bob"), nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	if bob.Subprotocol() != relay.SubprotocolMsgpack {
		t.Fatalf("negotiated %q, want msgpack", bob.Subprotocol())
	}
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	sendJSON(t, alice, "call", map[string]interface{}{
		"calleeId":   "bob",
		"rtcMessage": map[string]interface{}{"sdp": "offer-mp"},
	})

	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := bob.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", msgType)
	}
	var f struct {
		Event string                 `msgpack:"event"`
		Data  map[string]interface{} `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Event != "newCall" || f.Data["callerId"] != "alice" {
		t.Fatalf("frame = %+v", f)
	}

	// And back: bob answers in msgpack, alice receives JSON.
	answer, _ := msgpack.Marshal(map[string]interface{}{
		"event": "answerCall",
		"data":  map[string]interface{}{"callerId": "alice", "rtcMessage": map[string]interface{}{"sdp": "answer-mp"}},
	})
	if err := bob.WriteMessage(websocket.BinaryMessage, answer); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(t, alice); got.Event != "callAnswered" || got.Data["callee"] != "bob" {
		t.Fatalf("frame = %+v", got)
	}
}

func TestSignaling_RateLimitClosesConnection(t *testing.T) {
	r := newTestRelay(t, func(_ *config.Config, o *relay.Options) {
		o.MaxMessagesPerSecond = 2
	})
	alice := r.dial(t, "alice")

	// Writes after the relay closes may fail; only the close frame matters.
	for i := 0; i < 5; i++ {
		_ = alice.WriteJSON(map[string]interface{}{"event": "endCall"})
	}

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := alice.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read err = %v, want policy violation close", err)
	}
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 0 })
	if got := r.metrics.Get(metrics.DropRateLimited); got != 1 {
		t.Fatalf("drop_rate_limited = %d, want 1", got)
	}
}

func TestSignaling_NotInitialized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.StaticDir = ""
	svc := relay.NewService(relay.Options{Logger: discardLogger()})
	router := NewRouter(RouterDeps{Config: cfg, Service: svc, Logger: discardLogger()})

	for _, path := range []string{"/ws?callerId=alice", "/api/stats", "/api/presence/alice"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: status = %d, want 503", path, rec.Code)
		}
	}
}

func TestAPI_StatsAndPresence(t *testing.T) {
	r := newTestRelay(t, nil)
	r.dial(t, "alice")
	r.dial(t, "alice")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	var stats models.RelayStats
	getJSON(t, r.server.URL+"/api/stats", "", http.StatusOK, &stats)
	if stats.Connections != 2 || stats.Identities != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	var p models.PresenceResponse
	getJSON(t, r.server.URL+"/api/presence/alice", "", http.StatusOK, &p)
	if !p.Online || p.Identity != "alice" {
		t.Fatalf("presence = %+v", p)
	}
	getJSON(t, r.server.URL+"/api/presence/bob", "", http.StatusOK, &p)
	if p.Online {
		t.Fatalf("presence = %+v, want offline", p)
	}
}

func TestAPI_ICEServers(t *testing.T) {
	r := newTestRelay(t, nil)

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	getJSON(t, r.server.URL+"/api/ice-servers", "", http.StatusOK, &body)
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example:3478" {
		t.Fatalf("iceServers = %+v", body.ICEServers)
	}
}

func TestAPI_CallsRequiresOperatorToken(t *testing.T) {
	r := newTestRelay(t, func(c *config.Config, _ *relay.Options) {
		c.JWTSecret = "test-secret"
		c.AdminPassword = "hunter2"
	})

	getJSON(t, r.server.URL+"/api/calls", "", http.StatusUnauthorized, nil)

	status, _ := postJSON(t, r.server.URL+"/api/auth/login", map[string]string{"username": "ops", "password": "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("login with wrong password: status %d", status)
	}
	status, _ = postJSON(t, r.server.URL+"/api/auth/login", map[string]string{"username": "ops"})
	if status != http.StatusBadRequest {
		t.Fatalf("login without password: status %d", status)
	}

	status, body := postJSON(t, r.server.URL+"/api/auth/login", map[string]string{"username": "ops", "password": "hunter2"})
	if status != http.StatusOK {
		t.Fatalf("login: status %d body %s", status, body)
	}
	var login LoginResponse
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" || login.Operator != "ops" {
		t.Fatalf("login response = %s (%v)", body, err)
	}

	var calls struct {
		Calls []models.ActiveCall `json:"calls"`
	}
	getJSON(t, r.server.URL+"/api/calls", login.Token, http.StatusOK, &calls)
	if len(calls.Calls) != 0 {
		t.Fatalf("calls = %+v, want none", calls.Calls)
	}
}

func TestAPI_CallsListsTrackedCalls(t *testing.T) {
	r := newTestRelay(t, func(c *config.Config, o *relay.Options) {
		c.JWTSecret = "test-secret"
		o.TrackCallDuration = true
	})
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	r.waitFor(t, func(s models.RelayStats) bool { return s.Connections == 2 })

	sendJSON(t, bob, "answerCall", map[string]interface{}{"callerId": "alice"})
	readFrame(t, alice)
	r.waitFor(t, func(s models.RelayStats) bool { return s.ActiveCalls == 2 })

	_, body := postJSON(t, r.server.URL+"/api/auth/login", map[string]string{"username": "ops", "password": "any"})
	var login LoginResponse
	_ = json.Unmarshal(body, &login)

	var calls struct {
		Calls []models.ActiveCall `json:"calls"`
	}
	getJSON(t, r.server.URL+"/api/calls", login.Token, http.StatusOK, &calls)
	if len(calls.Calls) != 2 {
		t.Fatalf("calls = %+v, want 2", calls.Calls)
	}

	bob.Close()
	r.waitFor(t, func(s models.RelayStats) bool { return s.ActiveCalls == 1 })
}

func TestRouter_HealthMetricsAndStatic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>relay</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	r := newTestRelay(t, func(c *config.Config, _ *relay.Options) { c.StaticDir = dir })

	var health map[string]string
	getJSON(t, r.server.URL+"/health", "", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}

	resp, err := http.Get(r.server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "relay") {
		t.Fatalf("GET / = %d %s", resp.StatusCode, body)
	}

	r.metrics.Inc(metrics.MessagesForwarded)
	resp, err = http.Get(r.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `call_relay_events_total{event="messages_forwarded"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}

func TestOriginFilter(t *testing.T) {
	r := newTestRelay(t, func(c *config.Config, _ *relay.Options) {
		c.AllowedOrigins = []string{"https://app.example"}
	})

	req, _ := http.NewRequest(http.MethodGet, r.server.URL+"/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, r.server.URL+"/health", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("status = %d, allow-origin = %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(r.wsURL("callerId=alice"), header); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("websocket from disallowed origin: err=%v resp=%v", err, resp)
	}
}

func getJSON(t *testing.T, url, token string, wantStatus int, out interface{}) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d, want %d (body %s)", url, resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", url, err)
		}
	}
}

func postJSON(t *testing.T, url string, body interface{}) (int, []byte) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}
