package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/service"
)

// Broadcaster delivers a text message to every registered user.
type Broadcaster interface {
	BroadcastText(ctx context.Context, text string) service.BroadcastResult
}

type Server struct {
	addr        string
	username    string
	password    string
	log         *slog.Logger
	users       *service.UserService
	keys        *service.KeyService
	broadcaster Broadcaster
	router      *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, keys *service.KeyService, broadcaster Broadcaster) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		users:       users,
		keys:        keys,
		broadcaster: broadcaster,
		router:      r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/keys", func(r chi.Router) {
			r.Get("/", s.handleListKeys)
			r.Post("/", s.handleIssueKeys)
		})
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/ban", s.handleBan)
			r.Post("/unban", s.handleUnban)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	result := s.broadcaster.BroadcastText(r.Context(), req.Message)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  result.Sent,
		"total": result.Total,
	})
}

type keysResponse struct {
	Credits       []string `json:"credits"`
	Subscriptions []string `json:"subscriptions"`
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	credits, subscriptions := s.keys.List(r.Context())
	if credits == nil {
		credits = []string{}
	}
	if subscriptions == nil {
		subscriptions = []string{}
	}
	s.writeJSON(w, http.StatusOK, keysResponse{Credits: credits, Subscriptions: subscriptions})
}

type issueRequest struct {
	Kind  models.KeyKind `json:"kind"`
	Value int            `json:"value"`
	Count int            `json:"count"`
}

func (s *Server) handleIssueKeys(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	codes, err := s.keys.Issue(r.Context(), req.Kind, req.Value, req.Count)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse{ID: user.ID, User: user})
}

// userResponse adds the id, which the stored record omits.
type userResponse struct {
	ID string `json:"id"`
	*models.User
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	s.changeStatus(w, r, s.users.Ban)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	s.changeStatus(w, r, s.users.Unban)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := apply(r.Context(), id); err != nil {
		s.serviceError(w, err)
		return
	}
	s.log.Info("user status changed via admin api", "target", id, "path", r.URL.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="keybot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrMalformedInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotRegistered):
		http.Error(w, "user not found", http.StatusNotFound)
	default:
		s.log.Error("admin handler error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
