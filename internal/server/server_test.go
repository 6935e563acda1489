package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"webtrx/internal/floor"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := Config{
		CaptureDisabled: true,
		RecordingsDir:   t.TempDir(),
		MaxTransmitTime: 30 * time.Second,
		STUNURL:         "stun:stun.l.google.com:19302",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(zaptest.NewLogger(t).Sugar(), cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
		ts.Close()
	})
	return srv, ts
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ts *httptest.Server, path string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) read() map[string]interface{} {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var msg map[string]interface{}
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func (c *testClient) readUntil(msgType string) map[string]interface{} {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := c.read()
		if msg["type"] == msgType {
			return msg
		}
	}
	c.t.Fatalf("no %s message before deadline", msgType)
	return nil
}

func (c *testClient) send(v interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// drain reads until the deadline and returns the message types seen.
// The connection is unusable afterwards.
func (c *testClient) drain(d time.Duration) []string {
	c.t.Helper()
	var types []string
	deadline := time.Now().Add(d)
	for {
		c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return types
		}
		var msg map[string]interface{}
		require.NoError(c.t, json.Unmarshal(data, &msg))
		typ, _ := msg["type"].(string)
		types = append(types, typ)
	}
}

// join performs the member handshake: config then the initial floor
// state.
func join(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	c := dial(t, ts, "/ws")

	cfg := c.read()
	require.Equal(t, "config", cfg["type"])
	id, _ := cfg["clientId"].(string)
	require.Len(t, id, 8)
	c.id = id

	status := c.read()
	require.Equal(t, "ptt_status", status["type"])
	return c
}

func TestHandshakeOrder(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dial(t, ts, "/ws")

	cfg := c.read()
	assert.Equal(t, "config", cfg["type"])
	assert.NotEmpty(t, cfg["iceServers"])
	assert.Len(t, cfg["clientId"], 8)

	status := c.read()
	assert.Equal(t, "ptt_status", status["type"])
	assert.Equal(t, "idle", status["state"])
	assert.Nil(t, status["speaker"])
	assert.Nil(t, status["speakerName"])
}

func TestPTTGrantReleaseCycle(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})

	// The requester sees the grant and the transmitting status, in
	// either order.
	seen := map[string]map[string]interface{}{}
	for len(seen) < 2 {
		msg := a.read()
		seen[msg["type"].(string)] = msg
	}
	require.Contains(t, seen, "ptt_granted")
	require.Contains(t, seen, "ptt_status")
	assert.Equal(t, "transmitting", seen["ptt_status"]["state"])
	assert.Equal(t, a.id, seen["ptt_status"]["speaker"])

	status := b.readUntil("ptt_status")
	assert.Equal(t, "transmitting", status["state"])
	assert.Equal(t, a.id, status["speaker"])
	assert.Equal(t, "Client-"+a.id[:4], status["speakerName"])

	assert.Equal(t, a.id, srv.arb.Snapshot().Owner)

	a.send(map[string]string{"type": "ptt_release"})
	for _, c := range []*testClient{a, b} {
		idle := c.readUntil("ptt_status")
		assert.Equal(t, "idle", idle["state"])
		assert.Nil(t, idle["speaker"])
	}
}

func TestPTTDeniedWhileHeld(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	b.readUntil("ptt_status")

	b.send(map[string]string{"type": "ptt_request"})
	denied := b.readUntil("ptt_denied")
	assert.Equal(t, a.id, denied["speaker"])
	assert.Equal(t, "Client-"+a.id[:4], denied["speakerName"])

	assert.Equal(t, a.id, srv.arb.Snapshot().Owner)
}

func TestDisconnectReleasesFloorAndAnnouncesDeparture(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	b.readUntil("ptt_status")

	a.conn.Close()

	var sawLeft, sawIdle bool
	deadline := time.Now().Add(5 * time.Second)
	for (!sawLeft || !sawIdle) && time.Now().Before(deadline) {
		msg := b.read()
		switch msg["type"] {
		case "client_left":
			assert.Equal(t, a.id, msg["clientId"])
			sawLeft = true
		case "ptt_status":
			if msg["state"] == "idle" {
				sawIdle = true
			}
		}
	}
	assert.True(t, sawLeft, "client_left delivered")
	assert.True(t, sawIdle, "floor released")
	assert.Equal(t, floor.StateIdle, srv.arb.Snapshot().State)
}

func TestFloorTimeoutRevocation(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) {
		cfg.MaxTransmitTime = time.Second
	})
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	b.readUntil("ptt_status")

	idle := b.readUntil("ptt_status")
	assert.Equal(t, "idle", idle["state"])
	assert.Equal(t, floor.StateIdle, srv.arb.Snapshot().State)
}

func TestP2PRelayRewritesFromOnly(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]interface{}{
		"type":  "p2p_offer",
		"to":    b.id,
		"sdp":   "v=0 fake offer",
		"extra": "payload survives the relay",
	})

	msg := b.readUntil("p2p_offer")
	assert.Equal(t, a.id, msg["from"])
	assert.Equal(t, b.id, msg["to"])
	assert.Equal(t, "v=0 fake offer", msg["sdp"])
	assert.Equal(t, "payload survives the relay", msg["extra"])
}

func TestP2PRelayUnknownTargetDropped(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]interface{}{"type": "p2p_answer", "to": "zzzz9999", "sdp": "x"})

	// Nothing reaches b; the next observable message must not be the
	// misrouted answer.
	b.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := b.conn.ReadMessage()
	assert.Error(t, err)
}

// A member leaving while someone else transmits must not silence the
// floor state: the remaining members get client_left followed by a
// repeated transmitting ptt_status.
func TestDepartureWhileAnotherTransmitsRepeatsFloorStatus(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	b.readUntil("ptt_status")

	b.conn.Close()

	left := a.readUntil("client_left")
	assert.Equal(t, b.id, left["clientId"])

	status := a.readUntil("ptt_status")
	assert.Equal(t, "transmitting", status["state"])
	assert.Equal(t, a.id, status["speaker"])
	assert.Equal(t, a.id, srv.arb.Snapshot().Owner)
}

// Grant, release and departure broadcasts go to members only; an
// observer's inbound stream stays config + monitor_state.
func TestObserverExcludedFromMemberBroadcasts(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := join(t, ts)
	m := dial(t, ts, "/ws/monitor")
	require.Equal(t, "config", m.read()["type"])

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	a.send(map[string]string{"type": "ptt_release"})
	a.readUntil("ptt_status")
	a.conn.Close()

	types := m.drain(1500 * time.Millisecond)
	require.NotEmpty(t, types)
	for _, typ := range types {
		assert.Equal(t, "monitor_state", typ)
	}
}

// Drives a real SDP offer through negotiation: the joiner gets a mono
// Opus answer and one client_list excluding itself, the room gets
// client_joined, and the floor state is repeated for everyone because
// someone is transmitting.
func TestOfferNegotiationAnnouncesMembership(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) { cfg.STUNURL = "" })
	a := join(t, ts)
	b := join(t, ts)

	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
	b.readUntil("ptt_status")

	c := join(t, ts)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gathered

	c.send(map[string]string{"type": "offer", "sdp": pc.LocalDescription().SDP})

	answer := c.readUntil("answer")
	sdp, _ := answer["sdp"].(string)
	require.NotEmpty(t, sdp)
	assert.Contains(t, sdp, "stereo=0;sprop-stereo=0")

	list := c.readUntil("client_list")
	var ids []string
	for _, entry := range list["clients"].([]interface{}) {
		ids = append(ids, entry.(map[string]interface{})["clientId"].(string))
	}
	assert.ElementsMatch(t, []string{a.id, b.id}, ids)

	status := c.readUntil("ptt_status")
	assert.Equal(t, "transmitting", status["state"])
	assert.Equal(t, a.id, status["speaker"])

	for _, existing := range []*testClient{a, b} {
		joined := existing.readUntil("client_joined")
		assert.Equal(t, c.id, joined["clientId"])
		assert.Equal(t, "Client-"+c.id[:4], joined["displayName"])

		repeat := existing.readUntil("ptt_status")
		assert.Equal(t, "transmitting", repeat["state"])
		assert.Equal(t, a.id, repeat["speaker"])
	}

	// The announcement happens once; nothing else lists the membership
	// toward the joiner again.
	assert.NotContains(t, c.drain(500*time.Millisecond), "client_list")
}

func TestMonitorReceivesSnapshots(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := join(t, ts)
	_ = a

	m := dial(t, ts, "/ws/monitor")

	cfg := m.read()
	require.Equal(t, "config", cfg["type"])
	assert.Len(t, cfg["monitorId"], 8)
	assert.Nil(t, cfg["clientId"])

	// The handshake carries an initial snapshot; the 1 Hz loop keeps
	// them coming and counts the observer itself.
	initial := m.readUntil("monitor_state")
	assert.NotNil(t, initial["timestamp"])

	var stats map[string]interface{}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.readUntil("monitor_state")
		stats = snap["stats"].(map[string]interface{})
		if stats["observers"] == float64(1) {
			clients := snap["clients"].([]interface{})
			require.Len(t, clients, 1)
			entry := clients[0].(map[string]interface{})
			assert.Equal(t, a.id, entry["client_id"])
			assert.Equal(t, "Client-"+a.id[:4], entry["display_name"])
			break
		}
	}
	require.NotNil(t, stats)
	assert.Equal(t, float64(1), stats["members"])
	assert.Equal(t, float64(1), stats["observers"])
}

func TestObserverPTTRequestIgnored(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	m := dial(t, ts, "/ws/monitor")
	m.read() // config
	m.send(map[string]string{"type": "ptt_request"})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, floor.StateIdle, srv.arb.Snapshot().State)
}

func TestMalformedMessageKeepsSessionAlive(t *testing.T) {
	_, ts := newTestServer(t, nil)
	a := join(t, ts)

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	a.send(map[string]string{"type": "bogus_type"})

	// The session still serves requests afterwards.
	a.send(map[string]string{"type": "ptt_request"})
	a.readUntil("ptt_granted")
}
