package cases

import (
	"context"

	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetCase(ctx context.Context, caseID string) (*Case, error) {
	if caseID == "" {
		return nil, apperr.Validation("case_id", "must not be empty")
	}
	c, err := s.repo.GetByCaseID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	actor, _ := auth.ActorFromContext(ctx)
	if !actor.CanAccessStation(c.StationID) {
		return nil, apperr.Permission("station " + c.StationID + " is outside your scope")
	}
	return c, nil
}

func (s *Service) ListByStation(ctx context.Context, stationID string, limit, offset int) ([]*Case, int, error) {
	if stationID == "" {
		return nil, 0, apperr.Validation("station_id", "must not be empty")
	}
	return s.repo.ListByStation(ctx, stationID, limit, offset)
}

// ImportCase upserts a case record. Reserved for the seed/import path.
func (s *Service) ImportCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		return apperr.Validation("case_id", "must not be empty")
	}
	if c.StationID == "" {
		return apperr.Validation("station_id", "must not be empty")
	}
	if c.CaseStatus == "" {
		c.CaseStatus = StatusOpen
	}
	switch c.CaseStatus {
	case StatusOpen, StatusDocPending, StatusDocComplete:
	default:
		return apperr.Validation("case_status", "unknown status "+c.CaseStatus)
	}
	return s.repo.Upsert(ctx, c)
}
