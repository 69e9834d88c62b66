package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zombar/matchscheduler/extraction"
	"github.com/zombar/matchscheduler/models"
)

type enhancedRequest struct {
	Players []string        `json:"players"`
	Config  json.RawMessage `json:"config"`
}

type enhancedResponse struct {
	OperationID string                  `json:"operation_id"`
	Status      models.Status           `json:"status"`
	Players     []models.PlayerProgress `json:"players"`
	Metrics     models.OperationMetrics `json:"metrics"`
	Errors      []models.ErrorRecord    `json:"errors"`
}

// handleStartEnhanced handles POST /api/enhanced
func (s *Server) handleStartEnhanced(w http.ResponseWriter, r *http.Request) {
	var req enhancedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cfg, err := s.decodeConfig(req.Config)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
		return
	}

	id, err := s.enhanced.Start(req.Players, cfg)
	if err != nil {
		var verr *extraction.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, verr.Message)
		case errors.Is(err, extraction.ErrNoPlayers), errors.Is(err, extraction.ErrDuplicatePlayer):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start extraction: %v", err))
		}
		return
	}

	s.respondEnhanced(w, http.StatusAccepted, id)
}

func (s *Server) respondEnhanced(w http.ResponseWriter, status int, id string) {
	opStatus, err := s.enhanced.OperationStatus(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "operation not found")
		return
	}
	players, _ := s.enhanced.Players(id)
	metrics, _ := s.enhanced.Metrics(id)
	errs := s.monitor.Errors(id)
	if errs == nil {
		errs = []models.ErrorRecord{}
	}

	respondJSON(w, status, enhancedResponse{
		OperationID: id,
		Status:      opStatus,
		Players:     players,
		Metrics:     metrics,
		Errors:      errs,
	})
}

// handleGetEnhanced handles GET /api/enhanced/{id}
func (s *Server) handleGetEnhanced(w http.ResponseWriter, r *http.Request) {
	s.respondEnhanced(w, http.StatusOK, chi.URLParam(r, "id"))
}

// handleCancelEnhanced handles POST /api/enhanced/{id}/cancel
func (s *Server) handleCancelEnhanced(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.enhanced.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, "operation not found")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"operation_id": id,
		"message":      "Cancellation requested",
	})
}

// handleCleanupEnhanced handles POST /api/enhanced/cleanup
func (s *Server) handleCleanupEnhanced(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{
		"removed": s.enhanced.CleanupCompletedOperations(),
	})
}

// handleRecommendations handles GET /api/enhanced/{id}/recommendations
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	rec, err := s.enhanced.Recommend(chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrOperationNotReady):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusNotFound, "operation not found")
		}
		return
	}

	respondJSON(w, http.StatusOK, rec)
}
