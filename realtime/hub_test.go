package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	events []Event
	err    error
}

func (f *recordingForwarder) Forward(ev Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestPublishReachesOnlyThatWorkspace(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe(1)
	defer a.Close()
	b := h.Subscribe(2)
	defer b.Close()

	h.Publish(NewEvent(EventWorkItemCreated, 9, 1, 3))

	ev := receive(t, a)
	assert.Equal(t, EventWorkItemCreated, ev.Type)
	assert.NotEmpty(t, ev.ID)
	select {
	case <-b.C:
		t.Fatal("other workspace received the event")
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(NewEvent(EventWorkItemUpdated, 1, 1, 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub.C, 1)
}

func TestCloseUnregisters(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe(5)
	assert.Equal(t, 1, h.Subscribers(5))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers(5))
	_, open := <-sub.C
	assert.False(t, open)

	h.Publish(NewEvent(EventWorkItemDeleted, 1, 5, 1))
}

func TestForwarderSeesPublishedEvents(t *testing.T) {
	h := NewHub(1)
	f := &recordingForwarder{err: errors.New("redis down")}
	h.SetForwarder(f)

	h.Publish(NewEvent(EventReviewRequested, 1, 2, 3))
	require.Len(t, f.events, 1)

	h.Deliver(NewEvent(EventReviewApproved, 1, 2, 3))
	assert.Len(t, f.events, 1)
}

func TestBridgeSkipsOwnEvents(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe(2)
	defer sub.Close()
	b := &RedisBridge{hub: h, channel: Channel, origin: "self", log: h.log}

	own := NewEvent(EventWorkItemCreated, 1, 2, 3)
	own.Origin = "self"
	foreign := NewEvent(EventWorkItemTransitioned, 1, 2, 3)
	foreign.Origin = "other"

	for _, ev := range []Event{own, foreign} {
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		b.handle(string(payload))
	}
	b.handle("not json")

	ev := receive(t, sub)
	assert.Equal(t, foreign.ID, ev.ID)
	assert.Len(t, sub.C, 0)
}
