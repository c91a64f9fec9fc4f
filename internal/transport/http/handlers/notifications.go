package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pribylovaa/recycle-communities/internal/metrics"
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	apierrors "github.com/pribylovaa/recycle-communities/internal/transport/http/errors"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out, err := h.Service.GetUserNotifications(r.Context(), id.UserID, limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: orEmpty(out)})
}

func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	n, err := h.Service.GetUnreadCount(r.Context(), id.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UnreadCountResponse{Unread: n})
}

func (h *Handlers) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	if err := h.Service.MarkAsRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	n, err := h.Service.MarkAllAsRead(r.Context(), id.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MarkAllResponse{Updated: n})
}

// SubscribeNotifications - живая страница уведомлений по websocket.
// Каждый кадр несёт полную страницу (новые первыми); клиент только читает.
func (h *Handlers) SubscribeNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	lg := log.From(r.Context()).With("op", "http/notifications/Subscribe", "user_id", id.UserID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту.
		lg.Warn("ws_upgrade_failed", "err", err)
		return
	}
	defer conn.Close()

	metrics.WebSocketSubscribers.Inc()
	defer metrics.WebSocketSubscribers.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Держим только последнюю страницу: промежуточные снимки клиенту не нужны.
	pages := make(chan []models.Notification, 1)
	push := func(page []models.Notification) {
		for {
			select {
			case pages <- page:
				return
			default:
			}

			select {
			case <-pages:
			default:
			}
		}
	}

	// Обрыв подписки в хранилище: закрываем сокет, клиент переподключится.
	failed := make(chan error, 1)
	onErr := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	unsubscribe, err := h.Service.Subscribe(ctx, id.UserID, limit, push, onErr)
	if err != nil {
		closeWithError(conn, err)
		return
	}
	defer unsubscribe()

	lg.Info("ws_subscribed")
	defer lg.Info("ws_closed")

	go readUntilClosed(conn, cancel)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failed:
			lg.Warn("ws_subscription_failed", "err", err)
			closeWithError(conn, err)
			return
		case page := <-pages:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(WSMessage{Type: "notifications", Data: page}); err != nil {
				lg.Warn("ws_write_failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// closeWithError отправляет клиенту кадр ошибки и закрывает соединение кодом 1011.
func closeWithError(conn *websocket.Conn, err error) {
	_, resp := apierrors.ToHTTP(err)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(WSMessage{Type: "error", Data: resp.Error})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, resp.Error.Code))
}

// readUntilClosed разбирает входящие кадры (pong, close) и отменяет подписку, когда клиент ушёл.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
