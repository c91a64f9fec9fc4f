package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/recycle-communities/internal/service"
	"github.com/pribylovaa/recycle-communities/internal/transport/http/handlers"
	"github.com/pribylovaa/recycle-communities/internal/transport/http/middleware"
)

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой - роуты регистрируются на корне.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(),            // латентность по шаблону маршрута
		middleware.Identity(),           // X-User-* от шлюза -> models.Identity в контексте
	)

	// Зависимости хендлеров.
	h := handlers.New(svc)

	// Регистрация маршрутов.
	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, opts.Timeout)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, opts.Timeout)
	return root
}

// registerRoutes - единая точка регистрации всех REST-эндпойнтов.
// Websocket живёт дольше любого дедлайна запроса, поэтому регистрируется вне группы с Timeout.
func registerRoutes(r chi.Router, h *handlers.Handlers, timeout time.Duration) {
	r.Get("/notifications/ws", h.SubscribeNotifications)

	r.Group(func(r chi.Router) {
		if timeout > 0 {
			r.Use(middleware.Timeout(timeout)) // общий дедлайн запроса
		}

		// communities
		r.Post("/communities", h.CreateCommunity)
		r.Get("/communities", h.ListCommunities)
		r.Get("/communities/slug/{slug}", h.GetCommunityBySlug)
		r.Get("/communities/{id}", h.GetCommunity)
		r.Patch("/communities/{id}", h.UpdateCommunity)
		r.Delete("/communities/{id}", h.DeleteCommunity)

		// memberships
		r.Post("/communities/{id}/join", h.JoinCommunity)
		r.Post("/communities/{id}/leave", h.LeaveCommunity)
		r.Get("/communities/{id}/membership", h.GetMembership)
		r.Put("/communities/{id}/preference", h.SetNotificationPreference)
		r.Get("/communities/{id}/members", h.ListMembers)
		r.Get("/users/me/communities", h.ListMyCommunities)

		// posts & votes
		r.Post("/posts", h.CreatePost)
		r.Get("/posts", h.ListPosts)
		r.Get("/posts/{id}", h.GetPost)
		r.Delete("/posts/{id}", h.DeletePost)
		r.Post("/posts/{id}/vote", h.Vote)
		r.Get("/posts/{id}/vote", h.GetVote)

		// comments
		r.Get("/posts/{id}/comments", h.ListComments)
		r.Post("/posts/{id}/comments", h.AddComment)
		r.Delete("/comments/{id}", h.DeleteComment)

		// notifications
		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/unread-count", h.UnreadCount)
		r.Post("/notifications/read-all", h.MarkAllAsRead)
		r.Post("/notifications/{id}/read", h.MarkAsRead)
	})
}
