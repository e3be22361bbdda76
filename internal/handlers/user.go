package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/models"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 30
)

type createUserRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	Username          string `json:"username"`
	Avatar            string `json:"avatar"`
	PreferredLanguage string `json:"preferred_language"`
}

func (req createUserRequest) validate() string {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "invalid email"
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return "password must be at least 8 characters"
	}
	name := strings.TrimSpace(req.Username)
	if name == "" || utf8.RuneCountInString(name) > maxUsernameLength {
		return "username must be 1 to 30 characters"
	}
	return ""
}

// CreateUserHandler registers an account.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:             req.Email,
		Password:          req.Password,
		Username:          strings.TrimSpace(req.Username),
		Avatar:            req.Avatar,
		PreferredLanguage: content.NormalizeLanguage(req.PreferredLanguage),
	}
	if err := s.Accounts.CreateUser(r.Context(), &user); err != nil {
		if errors.Is(err, database.ErrDuplicateUser) {
			http.Error(w, "email or username already exists", http.StatusConflict)
			return
		}
		s.Logger.WithError(err).Error("failed to create user")
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// LoginHandler handles user login requests. It expects a JSON payload with email and password,
// and returns a JSON response with an authentication token if the login is successful.
//
// Request payload:
//
//	{
//	  "email": "someone@example.com",
//	  "password": "password"
//	}
//
// The token is also set as the auth_token cookie so browsers can open the
// room websocket without passing it explicitly.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	user, err := s.Accounts.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, database.ErrBadLogin) {
			s.Logger.WithError(err).Error("failed to authenticate user")
		}
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		s.Logger.WithError(err).Error("failed to sign token")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	if s.TokenTTL > 0 {
		cookie.MaxAge = int(s.TokenTTL.Seconds())
	}
	http.SetCookie(w, cookie)

	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// UserStatsHandler returns per-category statistics and recent sessions.
// Callers may only read their own statistics.
func (s *Server) UserStatsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requestUser(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if id != caller {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	lang := content.NormalizeLanguage(r.URL.Query().Get("lang"))
	stats, err := s.Accounts.GetUserStats(r.Context(), id, lang)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.Logger.WithError(err).WithField("user", id).Error("failed to load stats")
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ProfileHandler returns the caller's account together with their category statistics.
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requestUser(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	lang := content.NormalizeLanguage(r.URL.Query().Get("lang"))
	stats, err := s.Accounts.GetUserStats(r.Context(), caller, lang)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.Logger.WithError(err).WithField("user", caller).Error("failed to load profile")
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CategoriesHandler lists the question categories in the requested language.
func (s *Server) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	lang := content.NormalizeLanguage(r.URL.Query().Get("lang"))
	cats, err := s.Accounts.ListCategories(r.Context(), lang)
	if err != nil {
		s.Logger.WithError(err).Error("failed to list categories")
		http.Error(w, "failed to list categories", http.StatusInternalServerError)
		return
	}
	if cats == nil {
		cats = []models.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}
