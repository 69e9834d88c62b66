package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zombar/matchscheduler/export"
	"github.com/zombar/matchscheduler/extraction"
	"github.com/zombar/matchscheduler/models"
)

func readConfig(r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, errors.New("body is not valid JSON")
	}
	return raw, nil
}

// handleValidateExtraction handles POST /api/extractions/validate
func (s *Server) handleValidateExtraction(w http.ResponseWriter, r *http.Request) {
	raw, err := readConfig(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	cfg, err := s.decodeConfig(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, s.manager.Validate(cfg))
}

// handleStartExtraction handles POST /api/extractions
func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	raw, err := readConfig(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	cfg, err := s.decodeConfig(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	id, err := s.manager.Start(r.Context(), cfg)
	if err != nil {
		var verr *extraction.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, verr.Message)
		} else {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start extraction: %v", err))
		}
		return
	}

	progress, err := s.manager.Progress(id)
	if err != nil {
		respondJSON(w, http.StatusAccepted, map[string]string{"operation_id": id})
		return
	}
	respondJSON(w, http.StatusAccepted, progress)
}

// handleListExtractions handles GET /api/extractions
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.ActiveOperations())
}

// handleGetExtraction handles GET /api/extractions/{id}
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	progress, err := s.manager.Progress(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "extraction not found")
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

type controlResponse struct {
	extraction.ControlResult
	Error string `json:"error,omitempty"`
}

func respondControl(w http.ResponseWriter, res extraction.ControlResult, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, controlResponse{ControlResult: res})
		return
	}

	status := http.StatusConflict
	switch {
	case errors.Is(err, extraction.ErrOperationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, extraction.ErrAmbiguousOperation):
		status = http.StatusBadRequest
	}
	respondJSON(w, status, controlResponse{ControlResult: res, Error: err.Error()})
}

// handlePause handles POST /api/extractions/pause and /api/extractions/{id}/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Pause(chi.URLParam(r, "id"))
	respondControl(w, res, err)
}

// handleResume handles POST /api/extractions/resume and /api/extractions/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Resume(chi.URLParam(r, "id"))
	respondControl(w, res, err)
}

// handleCancel handles POST /api/extractions/cancel and /api/extractions/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Cancel(chi.URLParam(r, "id"))
	respondControl(w, res, err)
}

// handleCleanupExtractions handles POST /api/extractions/cleanup
func (s *Server) handleCleanupExtractions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{
		"removed": s.manager.CleanupCompletedOperations(),
	})
}

// handleHistory handles GET /api/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.manager.History()
	if entries == nil {
		entries = []models.ExtractionHistory{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleExportHistory handles GET /api/history/export
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="extraction_history.xlsx"`)

	if err := export.WriteHistoryXLSX(w, s.manager.History()); err != nil {
		slog.Default().Error("failed to export history", "error", err)
	}
}
