// Package server ties the service together: the websocket signaling
// endpoints, the floor arbiter, the broadcast dispatcher, the p2p relay
// and the recordings read API.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"webtrx/internal/audio"
	"webtrx/internal/floor"
	"webtrx/internal/recordings"
	"webtrx/internal/session"
	"webtrx/internal/signal"
	webtrxtls "webtrx/internal/tls"
)

// Config holds all server configuration.
type Config struct {
	Addr          string
	RecordingsDir string

	// CaptureSourceName selects the PulseAudio source; empty uses the
	// default source. CaptureDisabled runs without a local device,
	// which keeps the service useful as a pure signaling broker.
	CaptureSourceName string
	CaptureDisabled   bool
	SampleRate        int

	MaxTransmitTime time.Duration

	STUNURL        string
	TURNURL        string
	TURNUsername   string
	TURNCredential string

	// VoxEnabled arms the voice-activated recorder on the capture
	// source; while it detects speech the floor is held by the
	// local-capture sentinel.
	VoxEnabled bool
	Vox        audio.VoxConfig

	// SelfSignedTLS serves HTTPS with an ephemeral certificate;
	// browsers require a secure context for microphone access.
	SelfSignedTLS bool
	TLSCert       string
	TLSKey        string
}

// Server is the process-wide service state.
type Server struct {
	cfg Config
	log *zap.SugaredLogger

	src    *audio.Source
	device *audio.Device
	vox    *audio.VoxRecorder
	arb    *floor.Arbiter
	reg    *session.Registry
	ids    *idAllocator
	disp   *Dispatcher
	router *Router
	store  *recordings.Store

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	started  time.Time

	mu        sync.Mutex
	running   bool
	announced map[string]struct{}
	recorder  *audio.TrackRecorder

	stopOnce sync.Once
	stop     chan struct{}
	loopDone chan struct{}
}

// New assembles the server. The capture device is opened in
// ListenAndServe so construction never touches hardware.
func New(log *zap.SugaredLogger, cfg Config) (*Server, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.MaxTransmitTime == 0 {
		cfg.MaxTransmitTime = 30 * time.Second
	}

	store, err := recordings.NewStore(log.Named("recordings"), cfg.RecordingsDir)
	if err != nil {
		return nil, err
	}

	reg := session.NewRegistry()
	s := &Server{
		cfg:    cfg,
		log:    log.Named("server"),
		src:    audio.NewSource(cfg.SampleRate),
		arb:    floor.NewArbiter(cfg.MaxTransmitTime),
		reg:    reg,
		ids:    newIDAllocator(),
		disp:   NewDispatcher(log, reg),
		router: NewRouter(log, reg),
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		announced: make(map[string]struct{}),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	s.arb.OnChange = s.onFloorChange
	return s, nil
}

// Start opens the capture device and launches the housekeeping loop.
// Serving HTTP is separate so tests can drive the handler directly.
func (s *Server) Start() error {
	if !s.cfg.CaptureDisabled {
		device, err := audio.OpenDevice(s.log.Named("capture"), s.src, s.cfg.CaptureSourceName)
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		s.device = device

		if s.cfg.VoxEnabled {
			s.vox = audio.NewVoxRecorder(s.log.Named("vox"), s.cfg.Vox, s.store.Dir(), s.src)
			s.vox.OnActive = s.onVoxActive
			s.vox.Start()
		}
	}

	s.started = time.Now()
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	go s.run()
	return nil
}

// Handler builds the HTTP surface: the two websocket endpoints and the
// recordings read API, CORS-wrapped for the browser client.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/ws/monitor", s.handleMonitorWS)
	r.HandleFunc("/api/srt/list", s.handleSRTList).Methods(http.MethodGet)
	r.HandleFunc("/api/srt/get", s.handleSRTGet).Methods(http.MethodGet)
	r.HandleFunc("/api/srt/save", s.handleSRTSave).Methods(http.MethodPost)
	r.HandleFunc("/api/audio", s.handleAudio).Methods(http.MethodGet, http.MethodHead)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// ListenAndServe starts the service and serves until Stop.
func (s *Server) ListenAndServe() error {
	if err := s.Start(); err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	s.log.Infow("listening",
		"addr", s.cfg.Addr,
		"recordings", s.store.Dir(),
		"max_transmit", s.cfg.MaxTransmitTime,
	)

	switch {
	case s.cfg.TLSCert != "" && s.cfg.TLSKey != "":
		err := s.httpSrv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		return ignoreServerClosed(err)
	case s.cfg.SelfSignedTLS:
		tlsCfg, fingerprint, err := webtrxtls.SelfSigned()
		if err != nil {
			return fmt.Errorf("self-signed tls: %w", err)
		}
		s.log.Infow("self-signed certificate", "sha256", fingerprint)
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return err
		}
		return ignoreServerClosed(s.httpSrv.Serve(tls.NewListener(ln, tlsCfg)))
	default:
		return ignoreServerClosed(s.httpSrv.ListenAndServe())
	}
}

func ignoreServerClosed(err error) error {
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// run is the 1 Hz housekeeping loop: floor timeout enforcement and the
// observer snapshot.
func (s *Server) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if revoked, ok := s.arb.Tick(now); ok {
				s.log.Infow("floor revoked on timeout", "client", revoked)
			}
			s.disp.MonitorState(buildMonitorState(s.reg, s.arb.Snapshot(), s.started, now))
		}
	}
}

// Stop shuts the service down: sessions closed first, then the capture
// chain, then the HTTP listener.
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stop)

		for _, sess := range s.reg.Members(true) {
			sess.Close()
		}
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running {
			<-s.loopDone
		}

		if s.vox != nil {
			s.vox.Stop()
		}
		if s.device != nil {
			s.device.Close()
		}
		s.stopRecorder()

		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				s.log.Warnw("http shutdown", "error", err)
			}
		}
		s.log.Infow("stopped")
	})
}

func (s *Server) iceServers() ([]webrtc.ICEServer, []signal.ICEServer) {
	var rtcServers []webrtc.ICEServer
	var wireServers []signal.ICEServer

	if s.cfg.STUNURL != "" {
		rtcServers = append(rtcServers, webrtc.ICEServer{URLs: []string{s.cfg.STUNURL}})
		wireServers = append(wireServers, signal.ICEServer{URLs: []string{s.cfg.STUNURL}})
	}
	if s.cfg.TURNURL != "" {
		rtcServers = append(rtcServers, webrtc.ICEServer{
			URLs:       []string{s.cfg.TURNURL},
			Username:   s.cfg.TURNUsername,
			Credential: s.cfg.TURNCredential,
		})
		wireServers = append(wireServers, signal.ICEServer{
			URLs:       []string{s.cfg.TURNURL},
			Username:   s.cfg.TURNUsername,
			Credential: s.cfg.TURNCredential,
		})
	}
	return rtcServers, wireServers
}


func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.acceptSession(w, r, false)
}

func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	s.acceptSession(w, r, true)
}

func (s *Server) acceptSession(w http.ResponseWriter, r *http.Request, observer bool) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("websocket upgrade", "error", err)
		return
	}

	id := s.ids.next()
	name := "Client-" + id[:4]
	rtcServers, wireServers := s.iceServers()

	sess := session.New(s.log, ws, id, name, observer, s.src, rtcServers)
	sess.OnClose = s.onSessionClose
	sess.OnRemoteTrack = s.onRemoteTrack

	// Handshake: config first, then the current floor state, then the
	// session becomes visible to broadcasts.
	if observer {
		sess.Send(signal.MonitorConfig{
			Type:       signal.TypeConfig,
			ICEServers: wireServers,
			MonitorID:  id,
		})
		sess.Send(buildMonitorState(s.reg, s.arb.Snapshot(), s.started, time.Now()))
	} else {
		sess.Send(signal.Config{
			Type:       signal.TypeConfig,
			ICEServers: wireServers,
			ClientID:   id,
		})
		sess.Send(floorStatus(s.arb.Snapshot()))
	}
	s.reg.Insert(sess)
	sess.MarkReady()

	s.log.Infow("session connected",
		"client", id, "observer", observer, "remote", r.RemoteAddr)

	go sess.ReadLoop(func(data []byte) { s.handleMessage(sess, data) })
}

// handleMessage dispatches one inbound control message. Malformed or
// unknown messages are logged and dropped; the session continues.
func (s *Server) handleMessage(sess *session.Session, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Debugw("malformed message", "client", sess.ID, "error", err)
		return
	}

	switch env.Type {
	case signal.TypeOffer:
		s.handleOffer(sess, env.SDP)

	case signal.TypeICECandidate:
		if env.Candidate == nil {
			s.log.Debugw("candidate message without candidate", "client", sess.ID)
			return
		}
		if err := sess.AddICECandidate(*env.Candidate); err != nil {
			s.log.Debugw("add ice candidate", "client", sess.ID, "error", err)
		}

	case signal.TypePTTRequest:
		if sess.IsObserver {
			s.log.Debugw("observer ptt request dropped", "client", sess.ID)
			return
		}
		granted, holder := s.arb.Request(sess.ID, sess.DisplayName)
		if granted {
			sess.Send(signal.PTTGranted{Type: signal.TypePTTGranted})
			return
		}
		sess.Send(signal.PTTDenied{
			Type:        signal.TypePTTDenied,
			Speaker:     holder.Owner,
			SpeakerName: holder.OwnerName,
		})

	case signal.TypePTTRelease:
		s.arb.Release(sess.ID)

	default:
		if IsP2P(env.Type) {
			if sess.IsObserver {
				s.log.Debugw("observer p2p message dropped", "client", sess.ID)
				return
			}
			if err := s.router.Relay(sess, env.To, data); err != nil {
				s.log.Debugw("p2p relay", "client", sess.ID, "error", err)
			}
			return
		}
		s.log.Debugw("unknown message type", "client", sess.ID, "type", env.Type)
	}
}

func (s *Server) handleOffer(sess *session.Session, sdp string) {
	answer, err := sess.HandleOffer(sdp)
	if err != nil {
		s.log.Errorw("negotiate", "client", sess.ID, "error", err)
		return
	}
	sess.Send(signal.Answer{Type: signal.TypeAnswer, SDP: answer})

	// Membership is announced once the session is fully negotiated.
	// Observers attach media without becoming members.
	if sess.IsObserver {
		return
	}
	s.mu.Lock()
	_, done := s.announced[sess.ID]
	if !done {
		s.announced[sess.ID] = struct{}{}
	}
	s.mu.Unlock()
	if !done {
		s.disp.ClientList(sess)
		s.disp.ClientJoined(sess)
		// Membership changed while someone is transmitting: repeat the
		// floor state so every member, the joiner included, agrees on
		// the current speaker.
		if snap := s.arb.Snapshot(); snap.State == floor.StateTransmitting {
			s.disp.FloorStatus(snap)
		}
	}
}

// onSessionClose runs inside Session.Close before the transport is torn
// down: floor release and departure broadcast happen while the rest of
// the room is still reachable.
func (s *Server) onSessionClose(sess *session.Session) {
	present := s.reg.Remove(sess.ID)

	s.mu.Lock()
	delete(s.announced, sess.ID)
	s.mu.Unlock()

	member := present && !sess.IsObserver
	if member {
		s.disp.ClientLeft(sess.ID)
	}
	// Release after the departure broadcast; the resulting ptt_status
	// follows client_left for every recipient. When a departing member
	// did not own the floor the release is a no-op, so repeat the floor
	// state for the remaining members instead.
	if !s.arb.Release(sess.ID) && member {
		if snap := s.arb.Snapshot(); snap.State == floor.StateTransmitting {
			s.disp.FloorStatus(snap)
		}
	}

	s.log.Infow("session disconnected", "client", sess.ID, "observer", sess.IsObserver)
}

// onFloorChange is the arbiter change hook: broadcast the new state and
// keep the floor-holder recording in step with it.
func (s *Server) onFloorChange(snap floor.Snapshot) {
	s.disp.FloorStatus(snap)

	if snap.State != floor.StateTransmitting || snap.Owner == floor.LocalCapture {
		s.stopRecorder()
		return
	}
	if sess, ok := s.reg.Get(snap.Owner); ok {
		if track := sess.RemoteTrack(); track != nil {
			s.startRecorder(track)
		}
	}
}

// onRemoteTrack starts a recording when the floor holder's track shows
// up after the grant.
func (s *Server) onRemoteTrack(sess *session.Session, track *webrtc.TrackRemote) {
	snap := s.arb.Snapshot()
	if snap.State == floor.StateTransmitting && snap.Owner == sess.ID {
		s.startRecorder(track)
	}
}

func (s *Server) onVoxActive(active bool) {
	if active {
		s.arb.Request(floor.LocalCapture, "Operator")
		return
	}
	s.arb.Release(floor.LocalCapture)
}

func (s *Server) startRecorder(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorder != nil {
		return
	}
	rec, err := audio.NewTrackRecorder(s.log.Named("recorder"), s.store.Dir(), track)
	if err != nil {
		s.log.Errorw("start track recording", "error", err)
		return
	}
	s.recorder = rec
}

func (s *Server) stopRecorder() {
	s.mu.Lock()
	rec := s.recorder
	s.recorder = nil
	s.mu.Unlock()
	if rec != nil {
		rec.Stop()
	}
}
