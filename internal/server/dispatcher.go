package server

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"webtrx/internal/floor"
	"webtrx/internal/session"
	"webtrx/internal/signal"
)

// Dispatcher serializes every broadcast so all recipients observe the
// same emission order. Messages are marshaled once and enqueued
// best-effort per recipient; one slow client never blocks the rest.
type Dispatcher struct {
	mu  sync.Mutex
	log *zap.SugaredLogger
	reg *session.Registry
}

func NewDispatcher(log *zap.SugaredLogger, reg *session.Registry) *Dispatcher {
	return &Dispatcher{log: log, reg: reg}
}

func (d *Dispatcher) broadcast(v interface{}, includeObservers bool, skip string) {
	data, err := json.Marshal(v)
	if err != nil {
		d.log.Errorw("marshal broadcast", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.reg.Members(includeObservers) {
		if s.ID == skip {
			continue
		}
		s.SendRaw(data)
	}
}

// FloorStatus broadcasts the ptt_status derived from a floor snapshot.
// Observers are excluded; they learn the floor state from the 1 Hz
// monitor_state instead.
func (d *Dispatcher) FloorStatus(snap floor.Snapshot) {
	d.broadcast(floorStatus(snap), false, "")
}

// ClientJoined announces a new member to every other member.
func (d *Dispatcher) ClientJoined(s *session.Session) {
	d.broadcast(signal.ClientJoined{
		Type:        signal.TypeClientJoined,
		ClientID:    s.ID,
		DisplayName: s.DisplayName,
	}, false, s.ID)
}

// ClientLeft announces a departed member to the remaining members.
func (d *Dispatcher) ClientLeft(id string) {
	d.broadcast(signal.ClientLeft{Type: signal.TypeClientLeft, ClientID: id}, false, id)
}

// ClientList sends the current membership to one session. Observers are
// never listed.
func (d *Dispatcher) ClientList(to *session.Session) {
	members := d.reg.Members(false)
	list := signal.ClientList{
		Type:    signal.TypeClientList,
		Clients: make([]signal.ClientInfo, 0, len(members)),
	}
	for _, m := range members {
		if m.ID == to.ID {
			continue
		}
		list.Clients = append(list.Clients, signal.ClientInfo{
			ClientID:    m.ID,
			DisplayName: m.DisplayName,
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	to.Send(list)
}

// MonitorState delivers a snapshot to every observer.
func (d *Dispatcher) MonitorState(state signal.MonitorState) {
	data, err := json.Marshal(state)
	if err != nil {
		d.log.Errorw("marshal monitor state", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.reg.Members(true) {
		if !s.IsObserver {
			continue
		}
		s.SendRaw(data)
	}
}

// floorStatus projects a floor snapshot onto the wire shape. Speaker
// fields are explicit nulls when idle.
func floorStatus(snap floor.Snapshot) signal.PTTStatus {
	msg := signal.PTTStatus{
		Type:  signal.TypePTTStatus,
		State: string(snap.State),
	}
	if snap.State == floor.StateTransmitting {
		owner := snap.Owner
		name := snap.OwnerName
		msg.Speaker = &owner
		msg.SpeakerName = &name
	}
	return msg
}
