// Package client provides the canonical realtime client: a websocket
// connection to the /ws endpoint with event handler dispatch, read
// watermark tracking, typing throttling and call session state.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Wire event names. These mirror the server's protocol surface.
const (
	EvRegister    = "register"
	EvTyping      = "chat:typing"
	EvChatMessage = "chat:message"
	EvCall        = "rtc:call"
	EvOffer       = "rtc:offer"
	EvAnswer      = "rtc:answer"
	EvCandidate   = "rtc:candidate"
	EvEnd         = "rtc:end"

	EvChatIncoming = "chat:incoming"
	EvChatSent     = "chat:sent"
	EvChatRead     = "chat:read"
	EvChatAck      = "chat:ack"
	EvUnreadUpdate = "unread_update"
	EvNotifUpdate  = "notif_update"
	EvNotify       = "notify"
	EvRTCIncoming  = "rtc:incoming"
	EvRTCRing      = "rtc:ring"
	EvRTCError     = "rtc:error"
)

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler is invoked for a server event. Payload is the raw JSON payload.
type Handler func(payload json.RawMessage)

// Client is a realtime connection to the messaging server.
type Client struct {
	url    string
	userID string
	header http.Header
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	registered bool
	handlers   map[string][]Handler

	// client-side protocol state
	Watermarks *ReadWatermarks
	typing     *typingThrottle
	call       *CallSession

	done chan struct{}
}

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/ws.
	URL string
	// UserID is the caller's own id, sent in the register event.
	UserID string
	// Header carries the session cookie used by the server's auth layer.
	Header http.Header
	// TypingInterval bounds how often a typing event goes out. Defaults to
	// one second.
	TypingInterval time.Duration
	Logger         *slog.Logger
}

func New(opts Options) *Client {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		url:        opts.URL,
		userID:     opts.UserID,
		header:     opts.Header,
		logger:     logger,
		handlers:   make(map[string][]Handler),
		Watermarks: NewReadWatermarks(),
		typing:     newTypingThrottle(opts.TypingInterval),
		call:       NewCallSession(),
		done:       make(chan struct{}),
	}
}

// On registers a handler for a server event. Multiple handlers per event
// are allowed and run in registration order.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect dials the server, sends the register event and starts the read
// loop. Calling Connect on an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.registered = false
	c.mu.Unlock()

	// Registration is idempotent server-side; re-sending after a reconnect
	// is safe.
	if err := c.Emit(ctx, EvRegister, map[string]string{"userId": c.userID}); err != nil {
		conn.Close(websocket.StatusInternalError, "register failed")
		return err
	}
	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.logger.Debug("read loop ended", slog.Any("error", err))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed server frame", slog.Any("error", err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	// Built-in protocol state is updated before user handlers run, so a
	// handler observing Watermarks or CallState sees the post-event value.
	switch env.Event {
	case EvChatRead:
		var p struct {
			With  string    `json:"with"`
			Until time.Time `json:"until"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.Watermarks.Observe(p.With, p.Until)
		}
	case EvRTCIncoming:
		c.call.Ring()
	case EvOffer:
		c.call.Negotiate()
	case EvAnswer:
		c.call.Connect()
	case EvEnd, EvRTCError:
		c.call.End()
	}

	c.mu.Lock()
	handlers := c.handlers[env.Event]
	c.mu.Unlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

// Emit sends an event to the server.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	env := envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Typing emits a typing event to the peer, at most once per throttle
// interval. Suppressed emissions are silently dropped.
func (c *Client) Typing(ctx context.Context, to string) error {
	if !c.typing.allow() {
		return nil
	}
	return c.Emit(ctx, EvTyping, map[string]string{"to": to})
}

// Call asks the server to ring the peer.
func (c *Client) Call(ctx context.Context, to string, meta any) error {
	payload := map[string]any{"to": to}
	if meta != nil {
		payload["meta"] = meta
	}
	if err := c.Emit(ctx, EvCall, payload); err != nil {
		return err
	}
	c.call.Ring()
	return nil
}

// EndCall tears the call session down and notifies the peer. Safe to call
// repeatedly and after a remote rtc:end already arrived.
func (c *Client) EndCall(ctx context.Context, to, reason string) error {
	if !c.call.End() {
		return nil
	}
	return c.Emit(ctx, EvEnd, map[string]string{"to": to, "reason": reason})
}

// CallState reports the current call session phase.
func (c *Client) CallState() CallState {
	return c.call.State()
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closed")
}
