package rules

import (
	"context"

	"github.com/stationboard/stationboard/internal/domain/cases"
	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/audit"
)

// recorder is the audit surface the service needs.
type recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

type Service struct {
	repo    Repository
	catalog *Catalog
	audit   recorder

	// onChange runs after every successful catalog mutation, after the
	// catalog itself has been invalidated. Main wires it to drop the
	// response cache.
	onChange func()
}

func NewService(repo Repository, catalog *Catalog, audit recorder, onChange func()) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, onChange: onChange}
}

var knownMetrics = func() map[string]bool {
	m := make(map[string]bool)
	for _, k := range cases.MetricKeys() {
		m[k] = true
	}
	return m
}()

// validate rejects malformed definitions at write time so evaluation never
// has to.
func validate(rd *RuleDefinition) error {
	if rd.RuleID == "" {
		return apperr.Validation("rule_id", "must not be empty")
	}
	if !knownMetrics[rd.Metric] {
		return apperr.Validation("metric", "unknown metric "+rd.Metric)
	}
	if !ValidOperator(rd.Operator) {
		return apperr.Validation("operator", "unknown operator "+rd.Operator)
	}
	switch rd.Operator {
	case OpGreaterThan, OpGreaterEqual:
		if rd.Expected == nil {
			return apperr.Validation("expected", "numeric comparison requires an expected value")
		}
	}
	switch rd.Severity {
	case SeverityOK, SeverityWarn, SeverityCritical:
	default:
		return apperr.Validation("severity", "unknown severity "+rd.Severity)
	}
	switch rd.Category {
	case CategoryCompleteness, CategoryMedical:
	default:
		return apperr.Validation("category", "unknown category "+rd.Category)
	}
	if rd.Message == "" {
		return apperr.Validation("message", "must not be empty")
	}
	return nil
}

func (s *Service) ListRules(ctx context.Context, actorID string) ([]*RuleDefinition, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) GetRule(ctx context.Context, ruleID string) (*RuleDefinition, error) {
	return s.repo.GetByRuleID(ctx, ruleID)
}

func (s *Service) CreateRule(ctx context.Context, rd *RuleDefinition, actorID string) error {
	if err := validate(rd); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, rd); err != nil {
		return err
	}
	s.changed(ctx, actorID, rd.RuleID, map[string]any{"op": "create"})
	return nil
}

func (s *Service) UpdateRule(ctx context.Context, rd *RuleDefinition, actorID string) error {
	if err := validate(rd); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, rd); err != nil {
		return err
	}
	s.changed(ctx, actorID, rd.RuleID, map[string]any{"op": "update"})
	return nil
}

func (s *Service) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool, actorID string) error {
	if err := s.repo.SetEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}
	s.changed(ctx, actorID, ruleID, map[string]any{"op": "set_enabled", "enabled": enabled})
	return nil
}

func (s *Service) ListShiftReasons(ctx context.Context) ([]*ShiftReason, error) {
	return s.repo.ListShiftReasons(ctx)
}

// changed invalidates the catalog synchronously, then the wider caches, and
// records the edit.
func (s *Service) changed(ctx context.Context, actorID, ruleID string, details map[string]any) {
	s.catalog.Invalidate()
	if s.onChange != nil {
		s.onChange()
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			ActorID:    actorID,
			Action:     audit.ActionRuleWrite,
			TargetType: "rule",
			TargetID:   ruleID,
			Success:    true,
			Details:    details,
		})
	}
}
