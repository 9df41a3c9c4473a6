package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// IdentityResolver turns an incoming request into a resolved identity.
// Real authentication happens upstream (gateway/portal); the default
// resolver trusts the forwarded identity headers.
type IdentityResolver interface {
	Resolve(r *http.Request) (domain.Identity, error)
}

// HeaderIdentityResolver reads X-User-ID and X-User-Role.
type HeaderIdentityResolver struct{}

func (HeaderIdentityResolver) Resolve(r *http.Request) (domain.Identity, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return domain.Identity{}, errors.New("missing X-User-ID header")
	}
	role := domain.Role(r.Header.Get("X-User-Role"))
	switch role {
	case domain.RoleTeacher, domain.RoleAdmin:
	default:
		role = domain.RoleStudent
	}
	return domain.Identity{ID: id, Role: role}, nil
}

// Handler exposes the attempt session engine over REST.
type Handler struct {
	coordinator *app.SessionCoordinator
	identities  IdentityResolver
}

func NewHandler(coordinator *app.SessionCoordinator, identities IdentityResolver) *Handler {
	if identities == nil {
		identities = HeaderIdentityResolver{}
	}
	return &Handler{coordinator: coordinator, identities: identities}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/attempts/start", h.startAttempt)
	mux.HandleFunc("GET /api/attempts", h.myAttempts)
	mux.HandleFunc("GET /api/attempts/{id}", h.resumeAttempt)
	mux.HandleFunc("GET /api/attempts/{id}/time", h.remainingTime)
	mux.HandleFunc("POST /api/attempts/{id}/answers", h.saveAnswer)
	mux.HandleFunc("GET /api/attempts/{id}/answers", h.listAnswers)
	mux.HandleFunc("POST /api/attempts/{id}/submit", h.submitAttempt)
	mux.HandleFunc("GET /api/quizzes/{quizID}/eligibility", h.eligibility)
	mux.HandleFunc("GET /api/quizzes/{quizID}/attempts", h.quizAttempts)
}

type startRequest struct {
	QuizID string `json:"quizId"`
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	attempt, err := h.coordinator.Start(r.Context(), identity, req.QuizID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) resumeAttempt(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	state, err := h.coordinator.Resume(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type remainingTimeResponse struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

func (h *Handler) remainingTime(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	seconds, err := h.coordinator.RemainingTime(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remainingTimeResponse{RemainingSeconds: seconds})
}

type saveAnswerRequest struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
}

func (h *Handler) saveAnswer(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		http.Error(w, "missing questionId", http.StatusBadRequest)
		return
	}
	if err := h.coordinator.RecordAnswer(r.Context(), identity, r.PathValue("id"), req.QuestionID, req.AnswerText); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type answersResponse struct {
	Answers    []domain.AnswerRecord `json:"answers"`
	Answered   int                   `json:"answered"`
	Unanswered int                   `json:"unanswered"`
}

func (h *Handler) listAnswers(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	answers, totalQuestions, err := h.coordinator.AnswerProgress(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answersResponse{
		Answers:    answers,
		Answered:   len(answers),
		Unanswered: totalQuestions - len(answers),
	})
}

type submitRequest struct {
	Answers []domain.AnswerSubmission `json:"answers"`
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid submit payload", http.StatusBadRequest)
		return
	}
	result, err := h.coordinator.Submit(r.Context(), identity, r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.coordinator.Eligibility(r.Context(), identity, r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) myAttempts(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	attempts, err := h.coordinator.AttemptsByStudent(r.Context(), identity.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) quizAttempts(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	if !identity.Role.Privileged() {
		http.Error(w, "teacher or admin role required", http.StatusForbidden)
		return
	}
	attempts, err := h.coordinator.AttemptsByQuiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, err := h.identities.Resolve(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return domain.Identity{}, false
	}
	return identity, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrAttemptForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrQuestionNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAttemptNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
