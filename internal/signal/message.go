// Package signal defines the JSON control-channel protocol: the message
// envelopes exchanged over the websocket, the Opus SDP transform, and
// ICE candidate validation.
package signal

// Message type discriminators, client to server.
const (
	TypeOffer           = "offer"
	TypeICECandidate    = "ice-candidate"
	TypePTTRequest      = "ptt_request"
	TypePTTRelease      = "ptt_release"
	TypeP2POffer        = "p2p_offer"
	TypeP2PAnswer       = "p2p_answer"
	TypeP2PICECandidate = "p2p_ice_candidate"
)

// Message type discriminators, server to client.
const (
	TypeConfig       = "config"
	TypeAnswer       = "answer"
	TypePTTStatus    = "ptt_status"
	TypePTTGranted   = "ptt_granted"
	TypePTTDenied    = "ptt_denied"
	TypeClientList   = "client_list"
	TypeClientJoined = "client_joined"
	TypeClientLeft   = "client_left"
	TypeMonitorState = "monitor_state"
)

// Envelope is the decoded header of an inbound message. The body is kept
// as raw bytes by the caller so routed messages can be relayed without
// re-encoding losses beyond the from/to rewrite.
type Envelope struct {
	Type      string         `json:"type"`
	SDP       string         `json:"sdp,omitempty"`
	To        string         `json:"to,omitempty"`
	From      string         `json:"from,omitempty"`
	Candidate *CandidateInit `json:"candidate,omitempty"`
}

// CandidateInit mirrors the browser RTCIceCandidateInit shape.
type CandidateInit struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ICEServer is the entry sent to clients in the config message.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config is the first message a member session receives.
type Config struct {
	Type       string      `json:"type"`
	ICEServers []ICEServer `json:"iceServers"`
	ClientID   string      `json:"clientId"`
}

// MonitorConfig is the first message an observer session receives.
type MonitorConfig struct {
	Type       string      `json:"type"`
	ICEServers []ICEServer `json:"iceServers"`
	MonitorID  string      `json:"monitorId"`
}

// Answer carries the server's SDP answer to a client offer.
type Answer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidateMsg carries a server candidate toward the client.
type ICECandidateMsg struct {
	Type      string        `json:"type"`
	Candidate CandidateInit `json:"candidate"`
}

// PTTStatus reports the floor state. Speaker and SpeakerName are null
// when the floor is idle.
type PTTStatus struct {
	Type        string  `json:"type"`
	State       string  `json:"state"`
	Speaker     *string `json:"speaker"`
	SpeakerName *string `json:"speakerName"`
}

// PTTGranted confirms a floor grant to the requester.
type PTTGranted struct {
	Type string `json:"type"`
}

// PTTDenied reports a denied request together with the current owner.
type PTTDenied struct {
	Type        string `json:"type"`
	Speaker     string `json:"speaker"`
	SpeakerName string `json:"speakerName"`
}

// ClientInfo is a member entry in client_list.
type ClientInfo struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
}

// ClientList is sent once to a newly joined session.
type ClientList struct {
	Type    string       `json:"type"`
	Clients []ClientInfo `json:"clients"`
}

// ClientJoined announces a new member to existing members.
type ClientJoined struct {
	Type        string `json:"type"`
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
}

// ClientLeft announces a departed member.
type ClientLeft struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// MonitorClient is a member entry in monitor_state.
type MonitorClient struct {
	ClientID        string  `json:"client_id"`
	DisplayName     string  `json:"display_name"`
	ConnectedAt     string  `json:"connected_at"`
	Duration        float64 `json:"duration"`
	ConnectionState string  `json:"connection_state"`
	ICEState        string  `json:"ice_state"`
}

// MonitorPTT is the floor section of monitor_state.
type MonitorPTT struct {
	State       string  `json:"state"`
	Speaker     *string `json:"speaker"`
	SpeakerName *string `json:"speakerName"`
	Elapsed     float64 `json:"elapsed"`
}

// MonitorStats holds the coarse counters of monitor_state.
type MonitorStats struct {
	Members   int     `json:"members"`
	Observers int     `json:"observers"`
	Uptime    float64 `json:"uptime"`
}

// MonitorState is the 1 Hz observer snapshot.
type MonitorState struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Clients   []MonitorClient `json:"clients"`
	PTT       MonitorPTT      `json:"ptt"`
	Stats     MonitorStats    `json:"stats"`
}
