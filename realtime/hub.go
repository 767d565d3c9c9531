// Package realtime fans work item events out to the websocket subscribers
// of a workspace.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types
const (
	EventWorkItemCreated      = "work_item.created"
	EventWorkItemUpdated      = "work_item.updated"
	EventWorkItemDeleted      = "work_item.deleted"
	EventWorkItemTransitioned = "work_item.transitioned"
	EventReviewRequested      = "review.requested"
	EventReviewApproved       = "review.approved"
	EventReviewRejected       = "review.rejected"
	EventReviewSettings       = "review.settings_changed"
	EventAssignmentChanged    = "assignment.changed"
	EventAssignmentRevoked    = "assignment.revoked"
	EventWorkspaceDeleted     = "workspace.deleted"
)

// Event is one change inside a workspace.
type Event struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	TeamID      uint        `json:"team_id"`
	WorkspaceID uint        `json:"workspace_id"`
	WorkItemID  uint        `json:"work_item_id,omitempty"`
	ActorID     uint        `json:"actor_id"`
	Data        interface{} `json:"data,omitempty"`
	At          time.Time   `json:"at"`
	Origin      string      `json:"origin,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType string, teamID, workspaceID, actorID uint) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		TeamID:      teamID,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		At:          time.Now().UTC(),
	}
}

// Forwarder receives every locally published event, e.g. to relay it to
// other instances.
type Forwarder interface {
	Forward(ev Event) error
}

// Hub keeps the subscribers of every workspace. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint]map[*Subscription]struct{}
	buffer    int
	forwarder Forwarder
	log       *logrus.Entry
}

// Subscription is one listener on a workspace.
type Subscription struct {
	C <-chan Event

	ch          chan Event
	workspaceID uint
	hub         *Hub
	once        sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[uint]map[*Subscription]struct{}),
		buffer: buffer,
		log:    logrus.WithField("component", "realtime"),
	}
}

// SetForwarder installs f; pass nil to stop forwarding.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Subscribe registers a listener for workspaceID. Callers must Close it.
func (h *Hub) Subscribe(workspaceID uint) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, workspaceID: workspaceID, hub: h}

	h.mu.Lock()
	if h.subs[workspaceID] == nil {
		h.subs[workspaceID] = make(map[*Subscription]struct{})
	}
	h.subs[workspaceID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.workspaceID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.workspaceID)
			}
		}
		h.mu.Unlock()
		close(s.ch)
	})
}

// Subscribers returns the number of listeners on workspaceID.
func (h *Hub) Subscribers(workspaceID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[workspaceID])
}

// Publish delivers ev locally and hands it to the forwarder, if any.
func (h *Hub) Publish(ev Event) {
	h.Deliver(ev)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f == nil {
		return
	}
	if err := f.Forward(ev); err != nil {
		h.log.WithError(err).WithField("event_type", ev.Type).Warn("Failed to forward event")
	}
}

// Deliver hands ev to the local subscribers of its workspace only.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.WorkspaceID] {
		select {
		case sub.ch <- ev:
		default:
			h.log.WithFields(logrus.Fields{
				"workspace_id": ev.WorkspaceID,
				"event_type":   ev.Type,
			}).Debug("Subscriber buffer full, event dropped")
		}
	}
}
