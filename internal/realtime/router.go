package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/helenkilolo/afrovibe/internal/metrics"
	"github.com/helenkilolo/afrovibe/internal/store"
	"github.com/helenkilolo/afrovibe/pkg/config"
	"github.com/helenkilolo/afrovibe/pkg/presence"
	"github.com/helenkilolo/afrovibe/pkg/ratelimit"
)

// UnreadService re-derives unread badges after a state change. Implemented
// by the notify service; narrowed here so the router stays decoupled.
type UnreadService interface {
	RecomputeMessages(ctx context.Context, userID string)
}

// Router dispatches inbound realtime events and relays the chat and call
// signaling traffic between user rooms. The event set is closed: anything
// outside it is dropped at the boundary.
type Router struct {
	logger   *slog.Logger
	registry presence.Registry
	messages store.MessageStore
	users    store.UserStore
	unread   UnreadService
	cooldown *ratelimit.PairCooldown
	calls    *callTable
	cfg      config.RealtimeConfig

	// per-connection send windows, connection-local by construction
	windowMu sync.Mutex
	windows  map[uuid.UUID]*ratelimit.Window
}

func NewRouter(
	logger *slog.Logger,
	registry presence.Registry,
	messages store.MessageStore,
	users store.UserStore,
	unread UnreadService,
	cooldown *ratelimit.PairCooldown,
	cfg config.RealtimeConfig,
) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "realtime_router")),
		registry: registry,
		messages: messages,
		users:    users,
		unread:   unread,
		cooldown: cooldown,
		calls:    newCallTable(),
		cfg:      cfg,
		windows:  make(map[uuid.UUID]*ratelimit.Window),
	}
}

// HandleMessage is the transport's message callback.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	conn, ok := r.registry.Get(connID)
	if !ok {
		r.logger.Error("Event from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	payload := string(env.Payload)
	switch env.Event {
	case EvRegister:
		r.registry.Join(connID, gjson.Get(payload, "userId").String())
	case EvTyping:
		r.handleTyping(conn, payload)
	case EvChatMessage:
		r.handleChatMessage(ctx, conn, payload)
	case EvCall:
		r.guarded(conn, func() { r.handleCall(conn, payload) })
	case EvOffer:
		r.guarded(conn, func() { r.relaySDP(conn, EvOffer, payload) })
	case EvAnswer:
		r.guarded(conn, func() { r.relaySDP(conn, EvAnswer, payload) })
	case EvCandidate:
		r.guarded(conn, func() { r.handleCandidate(conn, payload) })
	case EvEnd:
		// Ungated: either party may always hang up.
		r.handleEnd(conn, payload)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", env.Event), slog.String("connID", connID.String()))
		metrics.EventsDropped.WithLabelValues("unknown_event").Inc()
	}
}

// ConnectionClosed is the transport's close callback. If this was the
// user's last connection and a call was in flight, the peer gets a
// synthesized hangup instead of a silently dead line.
func (r *Router) ConnectionClosed(connID uuid.UUID) {
	r.windowMu.Lock()
	delete(r.windows, connID)
	r.windowMu.Unlock()

	conn, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	r.registry.Leave(connID)

	if r.registry.ConnectionCount(conn.UserID) > 0 {
		return
	}
	if peerID, ok := r.calls.peerOf(conn.UserID); ok {
		r.calls.end(conn.UserID, peerID)
		r.deliver(peerID, EvEnd, map[string]any{"from": conn.UserID, "reason": "disconnected"})
		r.logger.Info("Synthesized call end on disconnect",
			slog.String("userID", conn.UserID),
			slog.String("peerID", peerID),
		)
	}
}

// MessageCreated fans out a freshly persisted message: the recipient gets
// the incoming event, the sender's other devices get the echo.
func (r *Router) MessageCreated(msg *store.Message) {
	r.deliver(msg.RecipientID, EvChatIncoming, msg)
	r.deliver(msg.SenderID, EvChatSent, msg)
}

// ThreadRead tells the peer how far the reader has caught up. The
// watermark is the latest read message's timestamp so clients can take the
// max under out-of-order delivery.
func (r *Router) ThreadRead(byUserID, peerUserID string, until time.Time) {
	r.deliver(peerUserID, EvChatRead, readPayload{
		With:  byUserID,
		Until: until.UTC().Format(time.RFC3339Nano),
	})
}

// --- chat events ---

func (r *Router) handleTyping(conn *presence.Connection, payload string) {
	to := gjson.Get(payload, "to").String()
	if !presence.ValidUserID(to) {
		return // fire-and-forget, silently dropped
	}
	r.deliver(to, EvTyping, fromPayload{From: conn.UserID})
}

// ClampContent bounds message content to max bytes without cutting through
// a multi-byte rune: the cut point walks back to the nearest rune start so
// the result is always valid UTF-8.
func ClampContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (r *Router) handleChatMessage(ctx context.Context, conn *presence.Connection, payload string) {
	if !r.cfg.AllowSocketSend {
		r.ack(conn, ackPayload{OK: false, Error: CodeDisabled})
		return
	}
	if !r.sendWindow(conn.ID).Allow() {
		metrics.RateLimitHits.WithLabelValues("message_window").Inc()
		r.ack(conn, ackPayload{OK: false, Error: CodeRateLimited})
		return
	}

	recipient := gjson.Get(payload, "recipient").String()
	content := strings.TrimSpace(gjson.Get(payload, "content").String())
	if !presence.ValidUserID(recipient) || recipient == conn.UserID || content == "" {
		r.ack(conn, ackPayload{OK: false, Error: CodeInvalid})
		return
	}
	content = ClampContent(content, r.cfg.MaxContentLength)

	matched, err := r.users.IsMutualMatch(ctx, conn.UserID, recipient)
	if err != nil {
		r.logger.Error("Match lookup failed", slog.Any("error", err))
		r.ack(conn, ackPayload{OK: false, Error: CodeServerError})
		return
	}
	if !matched {
		r.ack(conn, ackPayload{OK: false, Error: "not_matched"})
		return
	}

	msg, err := r.messages.CreateMessage(ctx, conn.UserID, recipient, content)
	if err != nil {
		r.logger.Error("Message create failed", slog.Any("error", err))
		r.ack(conn, ackPayload{OK: false, Error: CodeServerError})
		return
	}
	metrics.MessagesSent.Inc()

	r.MessageCreated(msg)
	r.unread.RecomputeMessages(ctx, recipient)
	r.ack(conn, ackPayload{OK: true, Item: msg})
}

// --- call signaling ---

// guarded runs a privileged handler only when the connection's cached
// entitlement allows video calls; otherwise the originator alone gets an
// upgrade-required error. The snapshot is never re-resolved here.
func (r *Router) guarded(conn *presence.Connection, handler func()) {
	if !conn.Entitlement.CanVideoChat {
		metrics.EventsDropped.WithLabelValues("unauthorized").Inc()
		r.sendTo(conn, EvRTCError, rtcErrorPayload{
			Code:    CodeUpgradeRequired,
			Message: "Upgrade required for video chat.",
		})
		return
	}
	handler()
}

func (r *Router) handleCall(conn *presence.Connection, payload string) {
	to := gjson.Get(payload, "to").String()
	if !presence.ValidUserID(to) {
		return
	}
	if !r.cooldown.Try(conn.UserID, to) {
		metrics.RateLimitHits.WithLabelValues("call_cooldown").Inc()
		r.sendTo(conn, EvRTCError, rtcErrorPayload{
			Code:    CodeCooldown,
			Message: "Please wait before calling this person again.",
		})
		return
	}
	metrics.CallsInitiated.Inc()
	r.calls.ring(conn.UserID, to)

	meta := json.RawMessage(`{}`)
	if m := gjson.Get(payload, "meta"); m.Exists() {
		meta = json.RawMessage(m.Raw)
	}
	r.logger.Info("Call initiated", slog.String("from", conn.UserID), slog.String("to", to))
	r.deliver(to, EvRTCIncoming, map[string]any{"from": conn.UserID, "meta": meta})
}

// relaySDP passes offer/answer payloads through verbatim; the relay never
// inspects SDP contents.
func (r *Router) relaySDP(conn *presence.Connection, event, payload string) {
	to := gjson.Get(payload, "to").String()
	sdp := gjson.Get(payload, "sdp")
	if !presence.ValidUserID(to) || !sdp.Exists() {
		return
	}
	switch event {
	case EvOffer:
		r.calls.advance(conn.UserID, to, PhaseNegotiating)
	case EvAnswer:
		r.calls.advance(conn.UserID, to, PhaseConnected)
	}
	r.deliver(to, event, map[string]any{"from": conn.UserID, "sdp": json.RawMessage(sdp.Raw)})
}

func (r *Router) handleCandidate(conn *presence.Connection, payload string) {
	to := gjson.Get(payload, "to").String()
	candidate := gjson.Get(payload, "candidate")
	if !presence.ValidUserID(to) || !candidate.Exists() {
		return
	}
	r.deliver(to, EvCandidate, map[string]any{"from": conn.UserID, "candidate": json.RawMessage(candidate.Raw)})
}

func (r *Router) handleEnd(conn *presence.Connection, payload string) {
	to := gjson.Get(payload, "to").String()
	if !presence.ValidUserID(to) {
		return
	}
	reason := gjson.Get(payload, "reason").String()
	if reason == "" {
		reason = "hangup"
	}
	r.calls.end(conn.UserID, to)
	r.deliver(to, EvEnd, map[string]any{"from": conn.UserID, "reason": reason})
}

// --- plumbing ---

func (r *Router) deliver(userID, event string, payload any) {
	n := r.registry.Deliver(userID, event, payload)
	if n > 0 {
		metrics.EventsRelayed.WithLabelValues(event).Add(float64(n))
	}
}

// sendTo addresses one connection only, bypassing the room. Used for
// errors and acks that must not reach the user's other devices.
func (r *Router) sendTo(conn *presence.Connection, event string, payload any) {
	msg, err := json.Marshal(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload"`
	}{Event: event, Payload: payload})
	if err != nil {
		r.logger.Error("Failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	conn.Transport.Send(msg)
}

func (r *Router) ack(conn *presence.Connection, payload ackPayload) {
	r.sendTo(conn, EvChatAck, payload)
}

func (r *Router) sendWindow(connID uuid.UUID) *ratelimit.Window {
	r.windowMu.Lock()
	defer r.windowMu.Unlock()
	w, ok := r.windows[connID]
	if !ok {
		w = ratelimit.NewWindow(r.cfg.MessageWindow, r.cfg.MessageBurst)
		r.windows[connID] = w
	}
	return w
}
