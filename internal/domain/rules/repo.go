package rules

import "context"

// Repository abstracts rule catalog and shift reason persistence.
type Repository interface {
	ListEnabled(ctx context.Context) ([]*RuleDefinition, error)
	ListAll(ctx context.Context) ([]*RuleDefinition, error)
	GetByRuleID(ctx context.Context, ruleID string) (*RuleDefinition, error)
	Create(ctx context.Context, r *RuleDefinition) error
	Update(ctx context.Context, r *RuleDefinition) error
	SetEnabled(ctx context.Context, ruleID string, enabled bool) error
	SeedRule(ctx context.Context, r *RuleDefinition) (inserted bool, err error)

	ListShiftReasons(ctx context.Context) ([]*ShiftReason, error)
	SeedShiftReason(ctx context.Context, sr *ShiftReason) (inserted bool, err error)
}
