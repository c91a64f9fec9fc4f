package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/service"
	apierrors "github.com/pribylovaa/recycle-communities/internal/transport/http/errors"
	"github.com/pribylovaa/recycle-communities/internal/transport/http/middleware"
)

// Handlers агрегирует зависимости REST-слоя.
type Handlers struct {
	Service  *service.Service
	upgrader websocket.Upgrader
}

func New(svc *service.Service) *Handlers {
	return &Handlers{
		Service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin проверяет шлюз перед сервисом.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// writeJSON - единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// decodeOptional - как decodeStrict, но пустое тело не ошибка.
func decodeOptional(r *http.Request, value any) error {
	if err := decodeStrict(r, value); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// requireIdentity достаёт пользователя из контекста или пишет 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return models.Identity{}, false
	}

	return id, true
}

// parseLimit читает ?limit=; отсутствие - 0 (лимит по умолчанию сервиса).
func parseLimit(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, apierrors.ErrBadRequest
	}

	return n, nil
}

// orEmpty отдаёт [] вместо null для пустых выборок.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
