package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/models"
)

const (
	defaultSoloQuestions = 10
	maxSoloQuestions     = 50
)

// unset reports whether a query value means "no filter". Browsers send the
// literal "undefined" for unbound selects.
func unset(v string) bool {
	return v == "" || v == "undefined"
}

// QuestionsHandler serves a random question set for solo play.
//
//	GET /quiz/questions?category=3&difficulty=easy&limit=10&lang=de
//
// The built-in placeholder set is returned when the catalogue has nothing
// matching or cannot be reached.
func (s *Server) QuestionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := content.Filter{
		Difficulty: content.DifficultyMixed,
		Language:   content.NormalizeLanguage(q.Get("lang")),
	}
	if c := q.Get("category"); !unset(c) && c != "all" {
		id, err := strconv.Atoi(c)
		if err != nil {
			http.Error(w, "invalid category", http.StatusBadRequest)
			return
		}
		filter.CategoryID = &id
	}
	if d := q.Get("difficulty"); !unset(d) {
		if !content.ValidDifficulty(d) {
			http.Error(w, "invalid difficulty", http.StatusBadRequest)
			return
		}
		filter.Difficulty = d
	}
	limit := defaultSoloQuestions
	if l := q.Get("limit"); !unset(l) {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxSoloQuestions {
			http.Error(w, "limit must be between 1 and 50", http.StatusBadRequest)
			return
		}
		limit = n
	}

	questions, err := s.Questions.FetchQuestions(r.Context(), filter, limit)
	if err != nil {
		if !errors.Is(err, content.ErrNoQuestions) {
			s.Logger.WithError(err).Warn("question fetch failed, serving placeholder set")
		}
		questions = content.Placeholder(filter.Language)
	}
	writeJSON(w, http.StatusOK, questions)
}

type createSessionRequest struct {
	CategoryID *int   `json:"categoryId"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
}

// CreateSoloSessionHandler opens a solo session. Signed-in callers own the
// session and have it counted in their statistics; guests get an anonymous one.
func (s *Server) CreateSoloSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = content.DifficultyMixed
	}
	if !content.ValidDifficulty(req.Difficulty) {
		http.Error(w, "invalid difficulty", http.StatusBadRequest)
		return
	}

	sess := models.SoloSession{
		CategoryID: req.CategoryID,
		Difficulty: req.Difficulty,
		Language:   content.NormalizeLanguage(req.Language),
	}
	if id, ok := s.requestUser(r); ok {
		sess.UserID = &id
	}
	if err := s.Accounts.CreateSoloSession(r.Context(), &sess); err != nil {
		s.Logger.WithError(err).Error("failed to create solo session")
		http.Error(w, "failed to create quiz session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type completeSessionRequest struct {
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	TimeSpent      float64 `json:"timeSpent"`
}

func (req completeSessionRequest) validate() string {
	if req.TotalQuestions < 1 || req.TotalQuestions > maxSoloQuestions {
		return "totalQuestions must be between 1 and 50"
	}
	if req.CorrectAnswers < 0 || req.CorrectAnswers > req.TotalQuestions {
		return "correctAnswers must be between 0 and totalQuestions"
	}
	if req.TimeSpent < 0 {
		return "timeSpent must not be negative"
	}
	return ""
}

// CompleteSoloSessionHandler scores a solo session and returns its performance.
func (s *Server) CompleteSoloSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	caller, ok := s.requestUser(r)
	if !ok {
		caller = uuid.Nil
	}
	res, err := s.Accounts.CompleteSoloSession(r.Context(), id, caller, req.CorrectAnswers, req.TotalQuestions, req.TimeSpent)
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, database.ErrSessionCompleted):
		http.Error(w, "session already completed", http.StatusConflict)
	case err != nil:
		s.Logger.WithError(err).WithField("session", id).Error("failed to complete solo session")
		http.Error(w, "failed to complete session", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
