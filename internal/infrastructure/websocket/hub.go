// Package websocket pushes phase-timeline deltas for a running Job to
// any subscribed client, additive to spec.md §6's polling-only pinned
// surface. Grounded on the teacher's internal/infrastructure/websocket
// (Hub/Client/gorilla-websocket), narrowed from its generic
// user/workflow/execution subscription indexing down to the single
// dimension this repo needs: one topic per job id.
package websocket

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// Hub manages WebSocket connections and fans Events out to clients
// subscribed to the originating job id, the same register/unregister/
// broadcast channel shape as the teacher's Hub.Run.
type Hub struct {
	clients map[*Client]bool
	byJobID map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event

	log zerolog.Logger
	mu  sync.RWMutex
}

// NewHub builds a Hub. Run must be started in its own goroutine before
// clients can be registered.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byJobID:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		log:        log,
	}
}

// Run is the hub's single-goroutine event loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.byJobID[c.jobID] == nil {
		h.byJobID[c.jobID] = make(map[*Client]bool)
	}
	h.byJobID[c.jobID][c] = true
	h.log.Debug().Str("job_id", c.jobID).Msg("websocket client registered")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if set, ok := h.byJobID[c.jobID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byJobID, c.jobID)
		}
	}
}

// Publish enqueues an Event for delivery to every client subscribed to
// ev.JobID. Called by JobManager (or an adapter in front of it) whenever
// a Job's phase timeline grows or the Job reaches a terminal status.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- &ev:
	default:
		h.log.Warn().Str("job_id", ev.JobID).Msg("websocket broadcast buffer full, dropping event")
	}
}

func (h *Hub) deliver(ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byJobID[ev.JobID] {
		select {
		case c.send <- ev:
		default:
			h.log.Warn().Str("client_id", c.id).Msg("client send buffer full, dropping event")
		}
	}
}

// Register and Unregister let a Client attach to and detach from the hub
// without exposing the hub's internal channels directly.
func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishPhase implements jobmanager.Publisher: it wraps record as a
// phase_update Event for jobID's subscribers.
func (h *Hub) PublishPhase(jobID string, record domain.PhaseRecord) {
	h.Publish(Event{Type: EventPhaseUpdate, JobID: jobID, Phase: &record})
}

// PublishTerminal implements jobmanager.Publisher: it wraps status as a
// terminal Event for jobID's subscribers.
func (h *Hub) PublishTerminal(jobID string, status string) {
	h.Publish(Event{Type: EventTerminal, JobID: jobID, Status: status})
}
