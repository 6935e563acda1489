package server

import (
	"time"

	"webtrx/internal/floor"
	"webtrx/internal/session"
	"webtrx/internal/signal"
)

// buildMonitorState assembles the 1 Hz observer snapshot from the
// registry and the arbiter.
func buildMonitorState(reg *session.Registry, snap floor.Snapshot, started time.Time, now time.Time) signal.MonitorState {
	members := reg.Members(false)
	clients := make([]signal.MonitorClient, 0, len(members))
	for _, m := range members {
		clients = append(clients, signal.MonitorClient{
			ClientID:        m.ID,
			DisplayName:     m.DisplayName,
			ConnectedAt:     m.ConnectedAt.Format(time.RFC3339),
			Duration:        now.Sub(m.ConnectedAt).Seconds(),
			ConnectionState: m.ConnectionState(),
			ICEState:        m.ICEState(),
		})
	}

	ptt := signal.MonitorPTT{
		State:   string(snap.State),
		Elapsed: snap.Elapsed(now).Seconds(),
	}
	if snap.State == floor.StateTransmitting {
		owner := snap.Owner
		name := snap.OwnerName
		ptt.Speaker = &owner
		ptt.SpeakerName = &name
	}

	nMembers, nObservers := reg.Counts()
	return signal.MonitorState{
		Type:      signal.TypeMonitorState,
		Timestamp: now.Format(time.RFC3339),
		Clients:   clients,
		PTT:       ptt,
		Stats: signal.MonitorStats{
			Members:   nMembers,
			Observers: nObservers,
			Uptime:    now.Sub(started).Seconds(),
		},
	}
}
