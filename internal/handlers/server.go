// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/middleware"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/room"
	"github.com/sirupsen/logrus"
)

// AccountStore is the persistence the HTTP API needs.
type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	AuthenticateUser(ctx context.Context, email, password string) (*models.User, error)
	GetUserStats(ctx context.Context, id uuid.UUID, lang string) (*models.UserStats, error)
	ListCategories(ctx context.Context, lang string) ([]models.Category, error)
	CreateSoloSession(ctx context.Context, sess *models.SoloSession) error
	CompleteSoloSession(ctx context.Context, id int64, caller uuid.UUID, correct, total int, secondsSpent float64) (*models.SoloResult, error)
}

// Server bundles what the handlers share.
type Server struct {
	Accounts       AccountStore
	Questions      content.Source
	Rooms          *room.Manager
	Resolver       auth.Resolver
	Logger         *logrus.Logger
	AllowedOrigins []string
	TokenTTL       time.Duration

	conns sync.WaitGroup
}

// Router builds the HTTP API and the websocket endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(s.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/user", func(r chi.Router) {
		r.Post("/create", s.CreateUserHandler)
		r.Post("/login", s.LoginHandler)
		r.Get("/me", s.ProfileHandler)
	})
	r.Get("/users/{id}/stats", s.UserStatsHandler)
	r.Route("/quiz", func(r chi.Router) {
		r.Get("/categories", s.CategoriesHandler)
		r.Get("/questions", s.QuestionsHandler)
		r.Post("/sessions", s.CreateSoloSessionHandler)
		r.Put("/sessions/{id}/complete", s.CompleteSoloSessionHandler)
	})

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", s.CreateRoomHandler)
		r.Get("/", s.ListRoomsHandler)
		r.Get("/{code}", s.RoomInfoHandler)
	})

	r.Get("/ws", s.tracked(RoomWSHandler(s.Logger, s.Rooms, s.Resolver, s.AllowedOrigins)))
	return r
}

// requestUser resolves the caller from the auth_token cookie or a bearer token.
func (s *Server) requestUser(r *http.Request) (uuid.UUID, bool) {
	token := extractCookieToken(r.Header.Get("Cookie"), authCookieName)
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	return s.Resolver.Resolve(token)
}

// tracked counts running websocket handlers; http.Server.Shutdown does not
// wait for hijacked connections.
func (s *Server) tracked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.conns.Add(1)
		defer s.conns.Done()
		h(w, r)
	}
}

// WaitConnections blocks until every websocket handler returned or ctx expires.
func (s *Server) WaitConnections(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
