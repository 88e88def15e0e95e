package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"eco-points-service/internal/app"
	"eco-points-service/internal/domain"
	"eco-points-service/internal/metrics"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler exposes the scoring, ranking and content use cases over JSON.
type Handler struct {
	scoring   *app.ScoringService
	ranking   *app.RankingService
	dashboard *app.DashboardService
	content   *app.ContentService
	logger    *zap.Logger
}

func NewHandler(scoring *app.ScoringService, ranking *app.RankingService, dashboard *app.DashboardService, content *app.ContentService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		scoring:   scoring,
		ranking:   ranking,
		dashboard: dashboard,
		content:   content,
		logger:    logger,
	}
}

// RouterConfig carries the cross-cutting pieces wrapped around the API.
type RouterConfig struct {
	Auth           *Authenticator
	Metrics        *metrics.Metrics
	Limiter        *RateLimiter
	AllowedOrigins []string
	// Health reports backing store reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter builds the full HTTP surface.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}
	r.HandleFunc("/api/health", healthHandler(cfg.Health)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(cfg.Auth.Middleware)

	student := api.PathPrefix("/student").Subrouter()
	student.Use(RequireRole(domain.RoleStudent))
	student.HandleFunc("/challenges/{id}/complete", h.completeChallenge).Methods(http.MethodPost)
	student.HandleFunc("/quizzes/{id}/submit", h.submitQuiz).Methods(http.MethodPost)
	student.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)
	student.HandleFunc("/rank", h.rank).Methods(http.MethodGet)
	student.HandleFunc("/profile", h.profile).Methods(http.MethodGet)
	student.HandleFunc("/activity", h.activity).Methods(http.MethodGet)
	student.HandleFunc("/challenges", h.availableChallenges).Methods(http.MethodGet)
	student.HandleFunc("/quizzes", h.availableQuizzes).Methods(http.MethodGet)

	school := api.PathPrefix("/school").Subrouter()
	school.Use(RequireRole(domain.RoleSchool))
	school.HandleFunc("/dashboard", h.schoolDashboard).Methods(http.MethodGet)
	school.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)
	school.HandleFunc("/challenges", h.schoolChallenges).Methods(http.MethodGet)
	school.HandleFunc("/challenges", h.createChallenge).Methods(http.MethodPost)
	school.HandleFunc("/quizzes", h.schoolQuizzes).Methods(http.MethodGet)
	school.HandleFunc("/quizzes", h.createQuiz).Methods(http.MethodPost)
	school.HandleFunc("/challenges/{id}/stats", h.challengeStats).Methods(http.MethodGet)
	school.HandleFunc("/quizzes/{id}/stats", h.quizStats).Methods(http.MethodGet)

	var handler http.Handler = r
	if len(cfg.AllowedOrigins) > 0 {
		handler = gorillahandlers.CORS(
			gorillahandlers.AllowedOrigins(cfg.AllowedOrigins),
			gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
			gorillahandlers.AllowCredentials(),
		)(handler)
	}
	return gorillahandlers.RecoveryHandler(gorillahandlers.PrintRecoveryStack(false))(handler)
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func actor(r *http.Request) domain.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %s", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func (h *Handler) completeChallenge(w http.ResponseWriter, r *http.Request) {
	result, err := h.scoring.CompleteChallenge(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type submitQuizRequest struct {
	Answers   json.RawMessage `json:"answers"`
	TimeTaken *int            `json:"timeTaken"`
}

func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	var req submitQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput))
		return
	}
	submission := domain.QuizSubmission{TimeTaken: req.TimeTaken}
	if len(req.Answers) > 0 {
		// Anything but a list of integers is treated as missing answers.
		if err := json.Unmarshal(req.Answers, &submission.Answers); err != nil {
			submission.Answers = nil
		}
	}

	result, err := h.scoring.SubmitQuiz(r.Context(), actor(r), mux.Vars(r)["id"], submission)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	kind := domain.ParseScopeKind(r.URL.Query().Get("scope"))
	board, err := h.ranking.Leaderboard(r.Context(), actor(r), kind, queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) rank(w http.ResponseWriter, r *http.Request) {
	kind := domain.ParseScopeKind(r.URL.Query().Get("scope"))
	result, err := h.ranking.Rank(r.Context(), actor(r), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.content.StudentProfile(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.content.StudentActivity(r.Context(), actor(r), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": entries})
}

func (h *Handler) availableChallenges(w http.ResponseWriter, r *http.Request) {
	views, err := h.content.AvailableChallenges(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": views})
}

func (h *Handler) availableQuizzes(w http.ResponseWriter, r *http.Request) {
	views, err := h.content.AvailableQuizzes(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": views})
}

func (h *Handler) schoolDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.dashboard.SchoolDashboard(r.Context(), actor(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) schoolChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.content.SchoolChallenges(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": challenges})
}

func (h *Handler) schoolQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.content.SchoolQuizzes(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	var in app.ChallengeInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	challenge, err := h.content.CreateChallenge(r.Context(), actor(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, challenge)
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var in app.QuizInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	quiz, err := h.content.CreateQuiz(r.Context(), actor(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) challengeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.content.ChallengeStats(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) quizStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.content.QuizStats(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
