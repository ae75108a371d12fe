package websocket

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

func newTestClient(hub *Hub, jobID string) *Client {
	return &Client{hub: hub, id: jobID + "-client", jobID: jobID, send: make(chan *Event, sendBufferSize)}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.byJobID)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_RegisterAndUnregisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "job-1")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.mu.RLock()
	_, ok := hub.byJobID["job-1"][client]
	hub.mu.RUnlock()
	assert.True(t, ok)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())

	hub.mu.RLock()
	_, stillIndexed := hub.byJobID["job-1"]
	hub.mu.RUnlock()
	assert.False(t, stillIndexed)
}

func TestHub_UnregisterUnknownClientIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "job-1")
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_PublishDeliversOnlyToSubscribedJob(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	clientA := newTestClient(hub, "job-a")
	clientB := newTestClient(hub, "job-b")
	hub.register <- clientA
	hub.register <- clientB
	time.Sleep(10 * time.Millisecond)

	hub.Publish(Event{Type: EventTerminal, JobID: "job-a", Status: "completed"})

	select {
	case ev := <-clientA.send:
		assert.Equal(t, "job-a", ev.JobID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("clientA did not receive its event")
	}

	select {
	case <-clientB.send:
		t.Fatal("clientB should not receive an event for a different job")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_PublishPhaseWrapsEvent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "job-1")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.PublishPhase("job-1", domain.PhaseRecord{Phase: domain.PhaseGenerating})

	select {
	case ev := <-client.send:
		assert.Equal(t, EventPhaseUpdate, ev.Type)
		require.NotNil(t, ev.Phase)
		assert.Equal(t, domain.PhaseGenerating, ev.Phase.Phase)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive phase update")
	}
}

func TestHub_PublishTerminalWrapsEvent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "job-1")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.PublishTerminal("job-1", "failed")

	select {
	case ev := <-client.send:
		assert.Equal(t, EventTerminal, ev.Type)
		assert.Equal(t, "failed", ev.Status)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive terminal event")
	}
}

func TestHub_MultipleClientsOnSameJobBothReceive(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client1 := newTestClient(hub, "job-shared")
	client2 := newTestClient(hub, "job-shared")
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	hub.Publish(Event{Type: EventTerminal, JobID: "job-shared", Status: "completed"})

	for _, c := range []*Client{client1, client2} {
		select {
		case ev := <-c.send:
			assert.Equal(t, "job-shared", ev.JobID)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("expected client to receive shared-job event")
		}
	}
}

func TestHub_ClientCountTracksRegistrations(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	for i := 0; i < 3; i++ {
		hub.register <- newTestClient(hub, "job-n")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, hub.ClientCount())
}
