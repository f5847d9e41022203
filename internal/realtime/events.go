package realtime

import "encoding/json"

// Envelope is the wire frame for both directions: an event name plus an
// event-specific payload. Unknown events are dropped at the boundary.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound events (client to server).
const (
	EvRegister    = "register"
	EvTyping      = "chat:typing"
	EvChatMessage = "chat:message"
	EvCall        = "rtc:call"
	EvOffer       = "rtc:offer"
	EvAnswer      = "rtc:answer"
	EvCandidate   = "rtc:candidate"
	EvEnd         = "rtc:end"
)

// Outbound events (server to client). The rtc relays reuse the inbound
// names; the payload swaps "to" for "from".
const (
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

// Error codes carried on rtc:error and chat:ack.
const (
	CodeUpgradeRequired = "upgrade-required"
	CodeCooldown        = "cooldown"
	CodeRateLimited     = "rate_limited"
	CodeDisabled        = "disabled"
	CodeInvalid         = "invalid"
	CodeServerError     = "server_error"
)

type rtcErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Item  any    `json:"item,omitempty"`
}

type fromPayload struct {
	From string `json:"from"`
}

type readPayload struct {
	With  string `json:"with"`
	Until string `json:"until"`
}
