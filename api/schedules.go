package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zombar/matchscheduler"
	"github.com/zombar/matchscheduler/models"
)

type scheduleRequest struct {
	Config        json.RawMessage `json:"config"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
	IntervalHours float64         `json:"interval_hours,omitempty"`
}

// decodeSchedule parses and validates the extraction config of a schedule request
func (s *Server) decodeSchedule(w http.ResponseWriter, r *http.Request) (scheduleRequest, models.ExtractionConfig, bool) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return req, models.ExtractionConfig{}, false
	}

	cfg, err := s.decodeConfig(req.Config)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
		return req, cfg, false
	}

	if res := s.manager.Validate(cfg); !res.Valid {
		respondError(w, http.StatusBadRequest, res.Message)
		return req, cfg, false
	}

	return req, cfg, true
}

// handleScheduleExtraction handles POST /api/schedules
func (s *Server) handleScheduleExtraction(w http.ResponseWriter, r *http.Request) {
	req, cfg, ok := s.decodeSchedule(w, r)
	if !ok {
		return
	}
	if req.RunAt == nil {
		respondError(w, http.StatusBadRequest, "run_at is required")
		return
	}

	id := s.scheduler.ScheduleExtraction(cfg, *req.RunAt)
	s.respondSchedule(w, http.StatusCreated, id)
}

// handleCreateRecurring handles POST /api/schedules/recurring
func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	req, cfg, ok := s.decodeSchedule(w, r)
	if !ok {
		return
	}
	if req.IntervalHours <= 0 {
		respondError(w, http.StatusBadRequest, "interval_hours must be greater than 0")
		return
	}

	id := s.scheduler.CreateRecurringSchedule(cfg, req.IntervalHours)
	s.respondSchedule(w, http.StatusCreated, id)
}

func (s *Server) respondSchedule(w http.ResponseWriter, status int, id string) {
	sched, err := s.scheduler.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	respondJSON(w, status, sched)
}

// handleListSchedules handles GET /api/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.List())
}

// handlePendingSchedules handles GET /api/schedules/pending
func (s *Server) handlePendingSchedules(w http.ResponseWriter, r *http.Request) {
	pending := s.scheduler.GetPendingOperations()
	if pending == nil {
		pending = []models.Schedule{}
	}
	respondJSON(w, http.StatusOK, pending)
}

// handleGetSchedule handles GET /api/schedules/{id}
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s.respondSchedule(w, http.StatusOK, chi.URLParam(r, "id"))
}

// handleDeactivateSchedule handles DELETE /api/schedules/{id}
func (s *Server) handleDeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Deactivate(id); err != nil {
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			respondError(w, http.StatusNotFound, "schedule not found")
		} else {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to deactivate schedule: %v", err))
		}
		return
	}

	s.respondSchedule(w, http.StatusOK, id)
}
