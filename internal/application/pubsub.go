package application

import (
	"sync"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// AgentEvent pairs a persisted event with the agent it belongs to, the
// unit the WebSocket relay fans out (spec §6 "/agency/:id/ws").
type AgentEvent struct {
	AgentID string
	Event   entity.Event
}

// wsSubscriber is one open WebSocket connection's mailbox. AgentIDs, when
// non-empty, restricts delivery to events from those agents only (spec §6
// subscribe payload: "agentIds: optional filter, absent/empty means all").
type wsSubscriber struct {
	id       string
	ch       chan AgentEvent
	mu       sync.RWMutex
	muted    bool
	agentIDs map[string]bool // nil/empty, unmuted => all agents
}

func newWSSubscriber(id string) *wsSubscriber {
	return &wsSubscriber{id: id, ch: make(chan AgentEvent, 256)}
}

// Channel exposes the subscriber's event channel to the websocket layer.
func (s *wsSubscriber) Channel() <-chan AgentEvent { return s.ch }

func (s *wsSubscriber) setFilter(agentIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = false
	if len(agentIDs) == 0 {
		s.agentIDs = nil
		return
	}
	s.agentIDs = make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		s.agentIDs[id] = true
	}
}

// mute implements the client's `{type:"unsubscribe"}` message (spec §6):
// stop all relay without dropping the connection or its registration.
func (s *wsSubscriber) mute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = true
}

func (s *wsSubscriber) wants(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.muted {
		return false
	}
	if len(s.agentIDs) == 0 {
		return true
	}
	return s.agentIDs[agentID]
}

// Subscribe registers a new WebSocket connection and returns its channel
// plus a handle used to adjust its filter or unsubscribe. Grounded on the
// teacher's fan-out broadcaster, scoped from process-wide to per-agency
// (spec §3: cross-agency isolation extends to the relay channel).
func (a *Agency) Subscribe(connID string) *wsSubscriber {
	sub := newWSSubscriber(connID)
	a.subMu.Lock()
	a.subscribers[connID] = sub
	a.subMu.Unlock()
	return sub
}

func (a *Agency) SetSubscriberFilter(connID string, agentIDs []string) {
	a.subMu.RLock()
	sub, ok := a.subscribers[connID]
	a.subMu.RUnlock()
	if ok {
		sub.setFilter(agentIDs)
	}
}

// MuteSubscriber implements the client's `{type:"unsubscribe"}` message: it
// stops relay to this connection without tearing it down, so a later
// `{type:"subscribe"}` on the same socket resumes delivery.
func (a *Agency) MuteSubscriber(connID string) {
	a.subMu.RLock()
	sub, ok := a.subscribers[connID]
	a.subMu.RUnlock()
	if ok {
		sub.mute()
	}
}

func (a *Agency) Unsubscribe(connID string) {
	a.subMu.Lock()
	sub, ok := a.subscribers[connID]
	delete(a.subscribers, connID)
	a.subMu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// broadcastEvent fans one agent's event out to every subscriber whose
// filter admits it. A slow or dead consumer never blocks the agent's own
// run: the channel is buffered and a full buffer just drops the event for
// that subscriber (spec §9: "the relay is best-effort; events remain
// durably stored and replayable via the HTTP event log regardless").
func (a *Agency) broadcastEvent(agentID string, e entity.Event) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, sub := range a.subscribers {
		if !sub.wants(agentID) {
			continue
		}
		select {
		case sub.ch <- AgentEvent{AgentID: agentID, Event: e}:
		default:
		}
	}
}
