package handle

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
)

func (h *Handle) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", h.Token)
		r.Post("/users", h.Register)
		r.Post("/admin/init", h.InitAdmin)
		r.Get("/assistant/health", h.AssistantHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.Tokens))

			r.Get("/users/me", h.Me)
			r.Put("/users/me", h.UpdateMe)
			r.Patch("/users/me/password", h.ChangePassword)
			r.Get("/users/{userID}", h.GetUser)
			r.Post("/assistant/chat", h.AssistantChat)
			r.Get("/images/*", h.Image)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", h.ListUsers)
				r.Post("/users", h.CreateUser)
				r.Put("/users/{userID}", h.UpdateUser)
				r.Delete("/users/{userID}", h.DeleteUser)
				r.Get("/divisions", h.Divisions)
				r.Post("/assignments", h.Assign)
				r.Get("/users/{clerkID}/assigned", h.Assigned)
			})

			r.Route("/chats", func(r chi.Router) {
				r.Post("/", h.CreateChat)
				r.Get("/", h.ListChats)
				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", h.GetChat)
					r.Delete("/", h.DeleteChat)
					r.Post("/messages", h.SendMessage)
					r.Post("/messages/image", h.SendImage)
					r.Post("/template", h.UploadTemplate)
					r.Get("/steps", h.ListSteps)
					r.Get("/steps/current", h.CurrentStep)
					r.Patch("/steps/{stepID}/complete", h.CompleteStep)
					r.With(auth.RequireRole(auth.RoleMaintenance, auth.RoleAdmin)).
						Post("/generate-history", h.GenerateHistory)
					r.Get("/history", h.ChatHistory)
				})
			})

			r.Route("/histories", func(r chi.Router) {
				r.Get("/", h.ListHistories)
				r.Get("/{historyID}", h.GetHistory)
				r.Get("/{historyID}/pdf", h.HistoryPDF)
				r.Delete("/{historyID}", h.DeleteHistory)
			})
		})
	})
	return r
}

func (h *Handle) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
