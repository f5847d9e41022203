package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helenkilolo/afrovibe/internal/metrics"
	"github.com/helenkilolo/afrovibe/internal/notify"
	"github.com/helenkilolo/afrovibe/internal/realtime"
	mw "github.com/helenkilolo/afrovibe/internal/server/middleware"
	"github.com/helenkilolo/afrovibe/internal/store"
	"github.com/helenkilolo/afrovibe/pkg/config"
	"github.com/helenkilolo/afrovibe/pkg/entitlement"
	"github.com/helenkilolo/afrovibe/pkg/presence"
	"github.com/helenkilolo/afrovibe/pkg/ratelimit"
)

// Handler carries the REST endpoints that drive the realtime layer: the
// canonical message send path, read receipts, unread counts, notification
// management, likes, and call requests.
type Handler struct {
	logger   *slog.Logger
	st       store.Store
	rt       *realtime.Router
	notifier *notify.Service
	registry presence.Registry
	cooldown *ratelimit.PairCooldown
	cfg      *config.Config
}

func NewHandler(
	logger *slog.Logger,
	st store.Store,
	rt *realtime.Router,
	notifier *notify.Service,
	registry presence.Registry,
	cooldown *ratelimit.PairCooldown,
	cfg *config.Config,
) *Handler {
	return &Handler{
		logger:   logger.With(slog.String("component", "api")),
		st:       st,
		rt:       rt,
		notifier: notifier,
		registry: registry,
		cooldown: cooldown,
		cfg:      cfg,
	}
}

func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

func (h *Handler) Fail(w http.ResponseWriter, status int, code string) {
	h.JSON(w, status, map[string]any{"ok": false, "error": code})
}

// userID pulls the authenticated identity out of the request metadata.
func (h *Handler) userID(r *http.Request) string {
	meta, ok := mw.ReqMetadataFrom(r.Context())
	if !ok {
		return ""
	}
	return meta.UserID
}

// --- messages ---

type sendMessageRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// SendMessage is the canonical send path. A successful insert fans out
// chat:incoming to the recipient, chat:sent to the sender's other devices,
// and a fresh unread badge to the recipient.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}
	recipient := strings.TrimSpace(req.To)
	content := strings.TrimSpace(req.Content)

	if !presence.ValidUserID(recipient) {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}
	if recipient == me {
		h.Fail(w, http.StatusBadRequest, "cannot_message_self")
		return
	}
	if content == "" {
		h.Fail(w, http.StatusBadRequest, "content_required")
		return
	}
	content = realtime.ClampContent(content, h.cfg.Realtime.MaxContentLength)

	matched, err := h.st.IsMutualMatch(r.Context(), me, recipient)
	if err != nil {
		h.logger.Error("Match lookup failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !matched {
		h.JSON(w, http.StatusForbidden, map[string]any{
			"ok": false, "code": "not_matched", "message": "Chat requires a mutual match.",
		})
		return
	}

	msg, err := h.st.CreateMessage(r.Context(), me, recipient, content)
	if err != nil {
		h.logger.Error("Message create failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}
	metrics.MessagesSent.Inc()

	h.rt.MessageCreated(msg)
	h.notifier.RecomputeMessages(r.Context(), recipient)

	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "message": msg})
}

// MarkThreadRead flips every visible unread message from peer to me, then
// refreshes my badge and sends the peer a read watermark carrying the
// latest read message's timestamp.
func (h *Handler) MarkThreadRead(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	peer := chi.URLParam(r, "peerID")
	if !presence.ValidUserID(peer) {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}

	until, err := h.st.MarkThreadRead(r.Context(), me, peer)
	if err != nil {
		h.logger.Error("Mark read failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	h.notifier.RecomputeMessages(r.Context(), me)
	if until != nil {
		h.rt.ThreadRead(me, peer, *until)
	}

	unread, err := h.st.CountUnreadMessages(r.Context(), me)
	if err != nil {
		h.logger.Error("Unread count failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "unread": unread, "until": until})
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	peer := chi.URLParam(r, "peerID")
	if !presence.ValidUserID(peer) {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}

	before := time.Now().UTC()
	if b := r.URL.Query().Get("before"); b != "" {
		if t, err := time.Parse(time.RFC3339Nano, b); err == nil {
			before = t
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.st.Thread(r.Context(), me, peer, before, limit)
	if err != nil {
		h.logger.Error("Thread fetch failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"items": items})
}

type bulkMessagesRequest struct {
	Action        string   `json:"action"` // "deleteThreads" | "deleteMessages"
	ThreadUserIDs []string `json:"threadUserIds"`
	MessageIDs    []string `json:"messageIds"`
}

// BulkMessages soft-deletes messages or whole threads for the caller only;
// the rows stay visible to the other party.
func (h *Handler) BulkMessages(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)

	var req bulkMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}

	var modified int64
	var err error
	switch req.Action {
	case "deleteThreads":
		modified, err = h.st.SoftDeleteThreads(r.Context(), me, req.ThreadUserIDs)
	case "deleteMessages":
		modified, err = h.st.SoftDeleteMessages(r.Context(), me, req.MessageIDs)
	default:
		h.Fail(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if err != nil {
		h.logger.Error("Bulk soft-delete failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Hiding unread messages changes the badge.
	h.notifier.RecomputeMessages(r.Context(), me)
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "modified": modified})
}

func (h *Handler) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	count, err := h.st.CountUnreadMessages(r.Context(), h.userID(r))
	if err != nil {
		h.JSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "count": 0})
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

func (h *Handler) UnreadNotifications(w http.ResponseWriter, r *http.Request) {
	count, err := h.st.CountUnreadNotifications(r.Context(), h.userID(r))
	if err != nil {
		h.JSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "count": 0})
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

// --- notifications ---

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.st.Notifications(r.Context(), h.userID(r), limit)
	if err != nil {
		h.logger.Error("Notification list failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	id := chi.URLParam(r, "id")

	err := h.st.MarkNotificationRead(r.Context(), me, id)
	if errors.Is(err, store.ErrNotFound) {
		h.Fail(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		h.logger.Error("Notification mark-read failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	h.notifier.RecomputeNotifications(r.Context(), me)
	h.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	if err := h.st.MarkAllNotificationsRead(r.Context(), me); err != nil {
		h.logger.Error("Notification mark-all-read failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	h.notifier.RecomputeNotifications(r.Context(), me)
	h.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	id := chi.URLParam(r, "id")

	err := h.st.DismissNotification(r.Context(), me, id)
	if errors.Is(err, store.ErrNotFound) {
		h.Fail(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		h.logger.Error("Notification dismiss failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	h.notifier.RecomputeNotifications(r.Context(), me)
	h.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- likes ---

// Like records a directed like. Completing a mutual match pushes a match
// notification to both parties; otherwise the recipient gets a like nudge.
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	target := chi.URLParam(r, "id")
	if !presence.ValidUserID(target) || target == me {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}

	meUser, err := h.st.User(r.Context(), me)
	if err != nil {
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	matched, err := h.st.Like(r.Context(), me, target)
	if err != nil {
		h.logger.Error("Like failed", slog.Any("error", err))
		h.Fail(w, http.StatusInternalServerError, "server_error")
		return
	}

	if matched {
		targetUser, err := h.st.User(r.Context(), target)
		if err != nil {
			h.Fail(w, http.StatusInternalServerError, "server_error")
			return
		}
		h.pushNotification(r, target, &me, store.NotifMatch,
			"You matched with "+meUser.Username+"!",
			map[string]any{"threadUrl": "/messages?with=" + me})
		h.pushNotification(r, me, &target, store.NotifMatch,
			"You matched with "+targetUser.Username+"!",
			map[string]any{"threadUrl": "/messages?with=" + target})
	} else {
		h.pushNotification(r, target, &me, store.NotifLike,
			meUser.Username+" liked your profile", nil)
	}

	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "matched": matched})
}

func (h *Handler) pushNotification(r *http.Request, recipient string, sender *string, typ store.NotificationType, message string, extra map[string]any) {
	n := &store.Notification{
		RecipientID: recipient,
		SenderID:    sender,
		Type:        typ,
		Message:     message,
		Extra:       extra,
	}
	if err := h.notifier.Push(r.Context(), n); err != nil {
		h.logger.Error("Notification push failed", slog.Any("error", err))
	}
}

// --- calls ---

// RequestCall is the out-of-band call initiation path: Elite callers only,
// both parties verified, callee opted in, and the caller-callee pair
// outside its cooldown. The callee gets a ring event plus a persistent
// notification in case no device is connected.
func (h *Handler) RequestCall(w http.ResponseWriter, r *http.Request) {
	me := h.userID(r)
	target := chi.URLParam(r, "id")
	if !presence.ValidUserID(target) || target == me {
		h.Fail(w, http.StatusBadRequest, "invalid")
		return
	}

	meUser, err := h.st.User(r.Context(), me)
	if err != nil {
		h.Fail(w, http.StatusNotFound, "not_found")
		return
	}
	other, err := h.st.User(r.Context(), target)
	if err != nil {
		h.Fail(w, http.StatusNotFound, "not_found")
		return
	}

	if entitlement.ParsePlan(meUser.Plan) != entitlement.PlanElite {
		h.JSON(w, http.StatusPaymentRequired, map[string]any{"ok": false, "error": "elite_required"})
		return
	}

	// Safety gate: established account, both verified, recipient opted in.
	ageOK := time.Since(meUser.CreatedAt) >= h.cfg.Calls.MinAccountAge
	if !ageOK || meUser.VerifiedAt == nil || other.VerifiedAt == nil || !other.VideoOptIn {
		h.Fail(w, http.StatusBadRequest, "not_allowed")
		return
	}

	if !h.cooldown.Try(me, target) {
		metrics.RateLimitHits.WithLabelValues("call_cooldown").Inc()
		h.JSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "cooldown"})
		return
	}
	metrics.CallsInitiated.Inc()

	h.pushNotification(r, target, &me, store.NotifSystem,
		meUser.Username+" wants to start a video chat",
		map[string]any{"link": "/messages?with=" + me})

	h.registry.Deliver(target, realtime.EvRTCRing, map[string]any{
		"from": map[string]any{"_id": me, "username": meUser.Username},
	})

	h.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
