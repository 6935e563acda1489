// Package session holds the per-client runtime: the websocket control
// channel, the peer connection toward that client, and the registry of
// live sessions.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"webtrx/internal/audio"
	"webtrx/internal/signal"
)

// State is the session lifecycle state.
type State string

const (
	StateNew         State = "new"
	StateHandshaking State = "handshaking"
	StateReady       State = "ready"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
)

const (
	outQueueDepth  = 64
	pingInterval   = 30 * time.Second
	pongWait       = 70 * time.Second
	writeWait      = 10 * time.Second
	gatherTimeout  = 10 * time.Second
	opusPayloadTyp = 111
)

// Session is one connected client or observer.
type Session struct {
	ID          string
	DisplayName string
	IsObserver  bool
	ConnectedAt time.Time

	log        *zap.SugaredLogger
	ws         *websocket.Conn
	src        *audio.Source
	iceServers []webrtc.ICEServer

	// OnClose runs exactly once when the session enters closing, before
	// the peer connection is torn down. Set before the read loop starts.
	OnClose func(*Session)
	// OnRemoteTrack fires when the client publishes its audio track.
	OnRemoteTrack func(*Session, *webrtc.TrackRemote)

	mu          sync.Mutex
	state       State
	pc          *webrtc.PeerConnection
	sender      *audio.Sender
	remoteTrack *webrtc.TrackRemote

	out       chan []byte
	stop      chan struct{}
	closeOnce sync.Once
}

// New wraps an accepted websocket in a session and starts its writer.
func New(log *zap.SugaredLogger, ws *websocket.Conn, id, displayName string, observer bool, src *audio.Source, iceServers []webrtc.ICEServer) *Session {
	s := &Session{
		ID:          id,
		DisplayName: displayName,
		IsObserver:  observer,
		ConnectedAt: time.Now(),
		log:         log.Named("session").With("client", id),
		ws:          ws,
		src:         src,
		iceServers:  iceServers,
		state:       StateHandshaking,
		out:         make(chan []byte, outQueueDepth),
		stop:        make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// MarkReady records handshake completion.
func (s *Session) MarkReady() { s.setState(StateReady) }

// Send marshals v and enqueues it on the control channel. A full queue
// drops the message; a slow client must not stall the caller.
func (s *Session) Send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("marshal outbound message", "error", err)
		return
	}
	s.SendRaw(data)
}

// SendRaw enqueues a pre-marshaled message.
func (s *Session) SendRaw(data []byte) {
	select {
	case s.out <- data:
	case <-s.stop:
	default:
		s.log.Debugw("outbound queue full, message dropped")
	}
}

// writeLoop owns the websocket write side: queued messages in FIFO
// order plus the keepalive ping.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case data := <-s.out:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debugw("control write", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

// ReadLoop pumps inbound control messages through handle until the
// channel closes, then tears the session down. Messages are handled in
// arrival order.
func (s *Session) ReadLoop(handle func(data []byte)) {
	defer s.Close()

	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugw("control read", "error", err)
			}
			return
		}
		handle(data)
	}
}

// HandleOffer runs the server side of the negotiation: remote
// description in, media sender attached, answer out once ICE gathering
// settles. The returned SDP already carries the mono Opus fmtp.
func (s *Session) HandleOffer(sdp string) (string, error) {
	s.mu.Lock()
	if s.pc != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("session %s: renegotiation not supported", s.ID)
	}
	s.state = StateNegotiating
	s.mu.Unlock()

	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: opusPayloadTyp,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return "", fmt.Errorf("register Opus: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		s.remoteTrack = track
		cb := s.OnRemoteTrack
		s.mu.Unlock()
		s.log.Infow("remote track attached", "codec", track.Codec().MimeType)
		if cb != nil {
			cb(s, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debugw("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			s.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	sender, err := audio.NewSender(s.log, s.src, s.ID)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create media sender: %w", err)
	}
	if _, err := pc.AddTrack(sender.Track()); err != nil {
		sender.Stop()
		pc.Close()
		return "", fmt.Errorf("add audio track: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		sender.Stop()
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		sender.Stop()
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	// Non-trickle toward the client: wait so the answer embeds the
	// gathered candidates, but never past the gather timeout.
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		s.log.Warnw("ice gathering timed out, answering with partial candidates")
	}

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		sender.Stop()
		pc.Close()
		return "", fmt.Errorf("session %s closed during negotiation", s.ID)
	}
	s.pc = pc
	s.sender = sender
	s.state = StateActive
	s.mu.Unlock()

	return signal.ForceOpusMono(pc.LocalDescription().SDP), nil
}

// AddICECandidate applies a client candidate after validation.
func (s *Session) AddICECandidate(c signal.CandidateInit) error {
	if err := signal.ValidateCandidate(c.Candidate); err != nil {
		return err
	}
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("session %s: no peer connection", s.ID)
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// RemoteTrack returns the client's published audio track, nil until the
// client has sent one.
func (s *Session) RemoteTrack() *webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTrack
}

// ConnectionState reports the peer connection state for the monitor
// snapshot.
func (s *Session) ConnectionState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return "new"
	}
	return s.pc.ConnectionState().String()
}

// ICEState reports the ICE connection state for the monitor snapshot.
func (s *Session) ICEState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return "new"
	}
	return s.pc.ICEConnectionState().String()
}

// Dropped reports outbound audio frames lost to backpressure.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender == nil {
		return 0
	}
	return s.sender.Dropped()
}

// Close tears the session down exactly once: the close callback runs
// first so floor release and membership broadcasts go out before the
// transport disappears, then the media sender, peer connection and
// websocket are closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		if s.OnClose != nil {
			s.OnClose(s)
		}

		close(s.stop)

		s.mu.Lock()
		sender := s.sender
		pc := s.pc
		s.mu.Unlock()

		if sender != nil {
			sender.Stop()
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				s.log.Debugw("close peer connection", "error", err)
			}
		}
		s.ws.Close()

		s.setState(StateClosed)
		s.log.Infow("session closed")
	})
}
