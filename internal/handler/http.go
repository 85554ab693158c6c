package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/steptrack/steptrack/internal/domain"
	"github.com/steptrack/steptrack/internal/service"
	"github.com/steptrack/steptrack/internal/websocket"
)

type contextKey string

const playerContextKey contextKey = "player"

// Handler provides HTTP handlers for the score tracking API
type Handler struct {
	service *service.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.Service, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Registration needs no credential; everything below it does.
		r.Post("/players", h.RegisterPlayer)

		r.Get("/songs/{songHash}", h.GetSong)
		r.Get("/leaderboards/{songHash}", h.GetLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)

			r.Get("/players/me", h.GetMe)
			r.Get("/players/rivals", h.ListRivals)
			r.Put("/players/rivals/{rivalID}", h.AddRival)
			r.Delete("/players/rivals/{rivalID}", h.RemoveRival)

			r.Post("/score-submit", h.SubmitScore)
			r.Get("/player-scores", h.GetPlayerScores)

			r.Put("/songs/{songHash}/ranked", h.SetSongRanked)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Api-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller from the X-Api-Key header and stores
// the player on the request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player, err := h.service.Authenticate(r.Context(), r.Header.Get("X-Api-Key"))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnknownAPIKey)
			return
		}
		ctx := contextWithPlayer(r.Context(), player)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case domain.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrUnknownAPIKey):
		h.writeError(w, http.StatusUnauthorized, err)
	case domain.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrPlayerExists):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("failed to "+action, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternal)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

type registerRequest struct {
	APIKey     string `json:"api_key"`
	MachineTag string `json:"machine_tag"`
	Name       string `json:"name"`
}

type playerResponse struct {
	ID         int64  `json:"id"`
	MachineTag string `json:"machine_tag"`
	Name       string `json:"name,omitempty"`
}

func toPlayerResponse(p *domain.Player) playerResponse {
	return playerResponse{ID: p.ID, MachineTag: p.MachineTag, Name: p.Name}
}

// RegisterPlayer creates a player bound to the supplied API key.
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.service.RegisterPlayer(r.Context(), req.APIKey, req.MachineTag, req.Name)
	if err != nil {
		h.writeServiceError(w, "register player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    toPlayerResponse(player),
	})
}

// GetMe returns the authenticated player.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())
	h.writeSuccess(w, toPlayerResponse(player))
}

// ListRivals returns the authenticated player's rivals.
func (h *Handler) ListRivals(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	rivals, err := h.service.Rivals(r.Context(), player.ID)
	if err != nil {
		h.writeServiceError(w, "list rivals", err)
		return
	}

	out := make([]playerResponse, 0, len(rivals))
	for i := range rivals {
		out = append(out, toPlayerResponse(&rivals[i]))
	}
	h.writeSuccess(w, out)
}

// AddRival declares a rival for the authenticated player.
func (h *Handler) AddRival(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	rivalID, err := strconv.ParseInt(chi.URLParam(r, "rivalID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.AddRival(r.Context(), player.ID, rivalID); err != nil {
		h.writeServiceError(w, "add rival", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "added"})
}

// RemoveRival removes a rival declaration.
func (h *Handler) RemoveRival(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	rivalID, err := strconv.ParseInt(chi.URLParam(r, "rivalID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.RemoveRival(r.Context(), player.ID, rivalID); err != nil {
		h.writeServiceError(w, "remove rival", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "removed"})
}

type scoreSubmitRequest struct {
	SongHash    string `json:"song_hash"`
	Score       int64  `json:"score"`
	Comment     string `json:"comment"`
	ProfileName string `json:"profile_name"`
	MaxResults  int    `json:"max_leaderboard_results"`
}

type scoreSubmitResponse struct {
	ScoreID     int64                     `json:"score_id"`
	Rank        int                       `json:"rank"`
	IsTop       bool                      `json:"is_top"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// SubmitScore records a score for the authenticated player and returns its
// rank together with the refreshed leaderboard.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	var req scoreSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	created, rank, err := h.service.SubmitScore(r.Context(), player, domain.Submission{
		SongHash:    req.SongHash,
		Value:       req.Score,
		Comment:     req.Comment,
		ProfileName: req.ProfileName,
	})
	if err != nil {
		h.writeServiceError(w, "submit score", err)
		return
	}

	entries, err := h.service.GetLeaderboard(r.Context(), req.SongHash, req.MaxResults, player)
	if err != nil {
		h.writeServiceError(w, "compose leaderboard", err)
		return
	}

	h.writeSuccess(w, scoreSubmitResponse{
		ScoreID:     created.ID,
		Rank:        rank,
		IsTop:       created.IsTop,
		Leaderboard: entries,
	})
}

// GetPlayerScores returns the leaderboard for a song from the
// authenticated player's point of view.
func (h *Handler) GetPlayerScores(w http.ResponseWriter, r *http.Request) {
	player := playerFromContext(r.Context())

	songHash := r.URL.Query().Get("chartHash")
	count := 0
	if countStr := r.URL.Query().Get("maxLeaderboardResults"); countStr != "" {
		if c, err := strconv.Atoi(countStr); err == nil && c > 0 {
			count = c
		}
	}

	entries, err := h.service.GetLeaderboard(r.Context(), songHash, count, player)
	if err != nil {
		h.writeServiceError(w, "get player scores", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"song_hash":   songHash,
		"leaderboard": entries,
	})
}

type songResponse struct {
	Hash        string `json:"hash"`
	DisplayName string `json:"display_name"`
	Ranked      bool   `json:"ranked"`
}

// GetSong returns a song with its chart display name.
func (h *Handler) GetSong(w http.ResponseWriter, r *http.Request) {
	songHash := chi.URLParam(r, "songHash")

	song, name, err := h.service.SongInfo(r.Context(), songHash)
	if err != nil {
		h.writeServiceError(w, "get song", err)
		return
	}

	h.writeSuccess(w, songResponse{
		Hash:        song.Hash,
		DisplayName: name,
		Ranked:      song.Ranked,
	})
}

type setRankedRequest struct {
	Ranked bool `json:"ranked"`
}

// SetSongRanked flips a song's ranked flag.
func (h *Handler) SetSongRanked(w http.ResponseWriter, r *http.Request) {
	songHash := chi.URLParam(r, "songHash")

	var req setRankedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.SetSongRanked(r.Context(), songHash, req.Ranked); err != nil {
		h.writeServiceError(w, "set ranked flag", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{"hash": songHash, "ranked": req.Ranked})
}

// GetLeaderboard returns a song's leaderboard for anonymous viewers.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	songHash := chi.URLParam(r, "songHash")

	count := 0
	if countStr := r.URL.Query().Get("limit"); countStr != "" {
		if c, err := strconv.Atoi(countStr); err == nil && c > 0 {
			count = c
		}
	}

	entries, err := h.service.GetLeaderboard(r.Context(), songHash, count, nil)
	if err != nil {
		h.writeServiceError(w, "get leaderboard", err)
		return
	}

	h.writeSuccess(w, entries)
}
