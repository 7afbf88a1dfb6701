package bridge

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
)

const (
	EventSession   = "wakelisten:session"
	EventPartial   = "wakelisten:partial"
	EventWake      = "wakelisten:wake"
	EventCommand   = "wakelisten:command"
	EventLifecycle = "wakelisten:lifecycle"
	EventError     = "wakelisten:error"
	EventStatus    = "wakelisten:status"

	clientBuffer = 32
)

// Envelope is the JSON frame written to every websocket client.
type Envelope struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type SessionPayload struct {
	State   domain.SessionState       `json:"state"`
	Label   string                    `json:"label"`
	Reason  domain.SessionStateReason `json:"reason,omitempty"`
	Message string                    `json:"message,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type LifecyclePayload struct {
	Name string `json:"name"`
}

type ErrorPayload struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Detail  string           `json:"detail,omitempty"`
}

// Hub is an EventSink that broadcasts session events to subscribed clients.
// Callbacks never block: a client whose buffer is full is disconnected.
type Hub struct {
	log logrus.FieldLogger
	now func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:     log.WithField("component", "bridge_hub"),
		now:     time.Now,
		clients: map[*client]struct{}{},
	}
}

// Clients returns the number of subscribed clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// subscribe registers a client whose first frame is initial.
func (h *Hub) subscribe(initial []byte) *client {
	c := &client{send: make(chan []byte, clientBuffer)}
	c.send <- initial
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

func (h *Hub) encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, At: h.now().UTC(), Payload: payload})
}

func (h *Hub) broadcast(event string, payload any) {
	frame, err := h.encode(event, payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("failed to encode bridge event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.log.WithField("event", event).Warn("dropping slow bridge client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	h.broadcast(EventSession, SessionPayload{
		State:   state,
		Label:   state.Label(),
		Reason:  reason,
		Message: sessionReasonMessage(reason),
	})
}

func (h *Hub) PartialTranscript(text string) {
	h.broadcast(EventPartial, TextPayload{Text: text})
}

func (h *Hub) WakeDetected(transcript string) {
	h.broadcast(EventWake, TextPayload{Text: transcript})
}

func (h *Hub) CommandCaptured(entry domain.CommandEntry) {
	h.broadcast(EventCommand, entry)
}

func (h *Hub) LifecycleChanged(name string) {
	h.broadcast(EventLifecycle, LifecyclePayload{Name: name})
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(EventError, ErrorPayload{
		Code:    code,
		Message: errorMessage(code, detail),
		Detail:  detail,
	})
}
