package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zombar/matchscheduler/db"
	"github.com/zombar/matchscheduler/export"
	"github.com/zombar/matchscheduler/models"
)

// handleListPlayers handles GET /api/players
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.db.ListPlayers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list players: %v", err))
		return
	}
	if players == nil {
		players = []*models.Player{}
	}

	respondJSON(w, http.StatusOK, players)
}

// handleCreatePlayer handles POST /api/players
func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var player models.Player
	if err := json.NewDecoder(r.Body).Decode(&player); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if msg := export.ValidatePlayer(&player); msg != "" {
		respondError(w, http.StatusBadRequest, "validation error: "+msg)
		return
	}

	added, err := s.db.AddPlayer(&player)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create player: %v", err))
		return
	}
	if !added {
		respondError(w, http.StatusConflict, fmt.Sprintf("player '%s' already exists", player.Name))
		return
	}

	respondJSON(w, http.StatusCreated, player)
}

// handleGetPlayer handles GET /api/players/{name}
func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.db.GetPlayerByName(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get player: %v", err))
		return
	}

	if player == nil {
		respondError(w, http.StatusNotFound, "player not found")
		return
	}

	respondJSON(w, http.StatusOK, player)
}

// handleUpdatePlayer handles PUT /api/players/{name}
func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var player models.Player
	if err := json.NewDecoder(r.Body).Decode(&player); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	player.Name = chi.URLParam(r, "name")

	if msg := export.ValidatePlayer(&player); msg != "" {
		respondError(w, http.StatusBadRequest, "validation error: "+msg)
		return
	}

	if err := s.db.UpdatePlayer(&player); err != nil {
		if errors.Is(err, db.ErrPlayerNotFound) {
			respondError(w, http.StatusNotFound, "player not found")
		} else {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update player: %v", err))
		}
		return
	}

	updated, err := s.db.GetPlayerByName(player.Name)
	if err != nil || updated == nil {
		respondJSON(w, http.StatusOK, player)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleDeletePlayer handles DELETE /api/players/{name}
func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.db.DeletePlayer(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete player: %v", err))
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "player not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type importResponse struct {
	Imported []string             `json:"imported"`
	Existing []string             `json:"existing"`
	Errors   []export.ImportError `json:"errors"`
}

// handleImportPlayers handles POST /api/players/import with an XLSX body
func (s *Server) handleImportPlayers(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	players, rejected, err := export.ReadPlayersXLSX(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid workbook: %v", err))
		return
	}

	resp := importResponse{
		Imported: []string{},
		Existing: []string{},
		Errors:   rejected,
	}
	if resp.Errors == nil {
		resp.Errors = []export.ImportError{}
	}

	for _, p := range players {
		added, err := s.db.AddPlayer(p)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to import player %s: %v", p.Name, err))
			return
		}
		if added {
			resp.Imported = append(resp.Imported, p.Name)
		} else {
			resp.Existing = append(resp.Existing, p.Name)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
