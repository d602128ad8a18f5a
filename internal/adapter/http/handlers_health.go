package adapthttp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"medico/internal/app"
	"medico/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userFrom(ctx)

	switch r.Method {
	case http.MethodGet:
		view, err := s.profiles.GetProfile(ctx, user.ID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case http.MethodPost:
		// Unknown fields are ignored: clients echo back whole profiles,
		// stats included.
		var patch domain.ProfilePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		p, created, err := s.profiles.UpsertProfile(ctx, user.ID, patch)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		view, err := viewOf(p)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, view)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Plan json.RawMessage `json:"plan"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.profiles.SaveDietPlan(r.Context(), userFrom(r.Context()).ID, body.Plan)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view, err := viewOf(p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	unit := domain.WeightUnit(r.URL.Query().Get("unit"))
	if unit == "" {
		unit = domain.UnitKg
	}
	limit := intQuery(r, "limit", 0)

	items, err := s.progress.History(r.Context(), userFrom(r.Context()).ID, unit, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit": unit, "items": items})
}

func viewOf(p *domain.HealthProfile) (*app.ProfileView, error) {
	stats, err := domain.ComputeStats(p)
	if err != nil {
		return nil, err
	}
	return &app.ProfileView{HealthProfile: p, Stats: stats}, nil
}
