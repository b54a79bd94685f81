// Package relay is the realtime message relay. Clients hold a WebSocket
// bound to their session identity; a sendMessage frame is validated,
// persisted through the message store and fanned out as receiveMessage
// to the connections in the configured broadcast scope.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/message"
)

// Event names on the wire.
const (
	EventSendMessage      = "sendMessage"
	EventReceiveMessage   = "receiveMessage"
	EventSendMessageError = "sendMessageError"
)

// Broadcast scopes.
const (
	ScopeGlobal       = "global"
	ScopeParticipants = "participants"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	sendBufferSize = 256
	handleTimeout  = 10 * time.Second
)

// Error texts sent back in sendMessageError frames.
const (
	errTextInternal       = "Internal server error."
	errTextNotFound       = "Sender or receiver not found."
	errTextSenderMismatch = "Sender does not match the signed-in user."
	errTextEmpty          = "Message content is required."
	errTextMalformed      = "Malformed frame."
	errTextUnknownEvent   = "Unknown event."
)

// ErrClosed is returned by Serve after Shutdown, before anything has
// been written to the client.
var ErrClosed = errors.New("relay: hub is shut down")

// Users resolves identities for the relay.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*account.User, error)
	GetByUsername(ctx context.Context, username string) (*account.User, error)
}

// Messages persists relayed messages.
type Messages interface {
	Create(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*message.Message, error)
}

// Identity is the session identity a connection is bound to.
type Identity struct {
	SessionID uuid.UUID
	ID        uuid.UUID
	Username  string
}

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessage is the payload of an inbound sendMessage frame. Message is
// accepted as an alias of Content for older clients.
type SendMessage struct {
	SenderUsername   string `json:"senderUsername"`
	ReceiverUsername string `json:"receiverUsername"`
	Content          string `json:"content"`
	Message          string `json:"message,omitempty"`
}

// ErrorPayload is the payload of a sendMessageError frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Hub tracks live connections and routes messages between them.
type Hub struct {
	users    Users
	messages Messages
	scope    string
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*conn]struct{}
	closed bool
}

// NewHub creates a Hub. An empty allowedOrigins accepts any Origin.
func NewHub(users Users, messages Messages, scope string, allowedOrigins []string) *Hub {
	if scope == "" {
		scope = ScopeGlobal
	}
	h := &Hub{
		users:    users,
		messages: messages,
		scope:    scope,
		conns:    make(map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve upgrades the request and runs the connection bound to who until
// the client disconnects or the hub shuts down.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, who Identity) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		return fmt.Errorf("relay: upgrade: %w", err)
	}

	c := &conn{
		hub:  h,
		ws:   ws,
		who:  who,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		// Shut down during the handshake. The connection is hijacked, so
		// the refusal goes out as a close frame.
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
		return nil
	}
	log.Printf("Relay: %s connected (%d live)", who.Username, h.Len())

	go c.writeLoop()
	c.readLoop()

	h.unregister(c)
	log.Printf("Relay: %s disconnected", who.Username)
	return nil
}

// Shutdown closes every connection and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		c.stop()
		delete(h.conns, c)
	}
}

// CloseSession closes every connection opened under sessionID and
// returns how many were closed.
func (h *Hub) CloseSession(sessionID uuid.UUID) int {
	return h.closeWhere(func(who Identity) bool { return who.SessionID == sessionID })
}

// CloseUser closes every connection bound to the identity id.
func (h *Hub) CloseUser(id uuid.UUID) int {
	return h.closeWhere(func(who Identity) bool { return who.ID == id })
}

func (h *Hub) closeWhere(match func(Identity) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		if match(c.who) {
			c.stop()
			delete(h.conns, c)
			n++
		}
	}
	return n
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.stop()
}

// handle processes one inbound frame from c.
func (h *Hub) handle(c *conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.reply(errTextMalformed)
		return
	}
	if env.Event != EventSendMessage {
		c.reply(errTextUnknownEvent)
		return
	}

	var req SendMessage
	if err := json.Unmarshal(env.Data, &req); err != nil {
		c.reply(errTextMalformed)
		return
	}
	body := req.Content
	if body == "" {
		body = req.Message
	}
	if body == "" {
		c.reply(errTextEmpty)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	// The bound identity is reloaded so a rename after connecting is seen.
	sender, err := h.users.GetByID(ctx, c.who.ID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.reply(errTextNotFound)
			return
		}
		log.Printf("Error resolving relay sender %s: %v", c.who.ID, err)
		c.reply(errTextInternal)
		return
	}
	if req.SenderUsername != "" && req.SenderUsername != sender.Username {
		c.reply(errTextSenderMismatch)
		return
	}

	receiver, err := h.users.GetByUsername(ctx, req.ReceiverUsername)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.reply(errTextNotFound)
			return
		}
		log.Printf("Error resolving relay receiver %q: %v", req.ReceiverUsername, err)
		c.reply(errTextInternal)
		return
	}

	msg, err := h.messages.Create(ctx, sender.ID, receiver.ID, body)
	if err != nil {
		if errors.Is(err, message.ErrEmptyContent) {
			c.reply(errTextEmpty)
			return
		}
		log.Printf("Error saving message from %s to %s: %v", sender.Username, receiver.Username, err)
		c.reply(errTextInternal)
		return
	}

	frame, err := encode(EventReceiveMessage, msg)
	if err != nil {
		log.Printf("Error encoding message %s: %v", msg.ID, err)
		return
	}
	h.broadcast(frame, msg.SenderID, msg.ReceiverID)
}

// broadcast queues frame on every connection in scope. Connections whose
// buffer is full are dropped; the client should reconnect.
func (h *Hub) broadcast(frame []byte, sender, receiver uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if h.scope == ScopeParticipants && c.who.ID != sender && c.who.ID != receiver {
			continue
		}
		if !c.enqueue(frame) {
			log.Printf("Relay: dropping slow consumer %s", c.who.Username)
			go c.stop()
		}
	}
}

func encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// conn is one client connection. The send channel is never closed;
// done signals the writer to stop.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	who  Identity
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// reply sends a sendMessageError frame to this connection only.
func (c *conn) reply(text string) {
	frame, err := encode(EventSendMessageError, ErrorPayload{Message: text})
	if err != nil {
		return
	}
	if !c.enqueue(frame) {
		go c.stop()
	}
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Relay: read error from %s: %v", c.who.Username, err)
			}
			return
		}
		c.hub.handle(c, raw)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
