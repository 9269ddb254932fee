package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/session"
	"github.com/wricardo/mcp-training/pongrelay/metrics"
	"github.com/wricardo/mcp-training/pongrelay/transport/websocket"
)

// HubStatter reports broadcast router membership
type HubStatter interface {
	Stats(ctx context.Context) (websocket.HubStats, error)
}

// Server represents the REST API server
type Server struct {
	service service.MatchService
	hub     HubStatter
	ws      http.Handler
	router  *mux.Router
}

// NewServer creates a new API server. ws serves the player gateway at /ws.
func NewServer(svc service.MatchService, hub HubStatter, ws http.Handler) *Server {
	s := &Server{
		service: svc,
		hub:     hub,
		ws:      ws,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/queue", s.handleQueue).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")

	// Player gateway
	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// StatsResponse combines matchmaking and router counts
type StatsResponse struct {
	Waiting     int `json:"waiting"`
	Sessions    int `json:"sessions"`
	Groups      int `json:"groups"`
	Subscribers int `json:"subscribers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := StatsResponse{Waiting: stats.Waiting, Sessions: stats.Sessions}
	if s.hub != nil {
		hubStats, err := s.hub.Stats(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		resp.Groups = hubStats.Groups
		resp.Subscribers = hubStats.Subscribers
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	waiting, err := s.service.WaitingClients(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if waiting == nil {
		waiting = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(waiting),
		"waiting": waiting,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(ids),
		"sessions": ids,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
