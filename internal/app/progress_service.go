package app

import (
	"context"
	"fmt"

	"medico/internal/domain"
)

// ProgressService serves the weight history recorded by profile updates.
type ProgressService struct {
	repo domain.ProfileRepository
}

// NewProgressService creates a ProgressService backed by the given repository.
func NewProgressService(repo domain.ProfileRepository) *ProgressService {
	return &ProgressService{repo: repo}
}

// HistoryPoint is one history snapshot with its weight in the requested unit.
type HistoryPoint struct {
	domain.HistorySnapshot
	Unit domain.WeightUnit `json:"unit"`
}

// History returns up to limit snapshots, newest first, with weights
// converted from kg to unit. limit <= 0 means all of them.
func (s *ProgressService) History(ctx context.Context, userID int64, unit domain.WeightUnit, limit int) ([]HistoryPoint, error) {
	if !unit.Valid() {
		return nil, &domain.ValidationError{Field: "unit", Reason: "must be \"kg\" or \"lb\""}
	}
	p, err := s.repo.FindProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: "profile", UserID: userID}
	}

	n := len(p.History)
	if limit > 0 && limit < n {
		n = limit
	}
	points := make([]HistoryPoint, 0, n)
	for i := len(p.History) - 1; i >= 0 && len(points) < n; i-- {
		h := p.History[i]
		h.Weight = domain.ConvertWeight(h.Weight, domain.UnitKg, unit)
		points = append(points, HistoryPoint{HistorySnapshot: h, Unit: unit})
	}
	return points, nil
}
