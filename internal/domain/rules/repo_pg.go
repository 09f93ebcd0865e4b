package rules

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `rule_id, metric, operator, expected, severity, category, enabled,
	message, explanation, ack_roles, responsible_only, created_at, updated_at`

func (r *repoPG) ListEnabled(ctx context.Context) ([]*RuleDefinition, error) {
	return r.list(ctx, `SELECT `+ruleCols+` FROM rule_definition WHERE enabled ORDER BY rule_id`)
}

func (r *repoPG) ListAll(ctx context.Context) ([]*RuleDefinition, error) {
	return r.list(ctx, `SELECT `+ruleCols+` FROM rule_definition ORDER BY rule_id`)
}

func (r *repoPG) list(ctx context.Context, query string) ([]*RuleDefinition, error) {
	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, apperr.Storage("list rules", err)
	}
	defer rows.Close()

	var out []*RuleDefinition
	for rows.Next() {
		rd, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Storage("scan rule", err)
		}
		out = append(out, rd)
	}
	return out, nil
}

func (r *repoPG) GetByRuleID(ctx context.Context, ruleID string) (*RuleDefinition, error) {
	rd, err := scanRule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM rule_definition WHERE rule_id = $1`, ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("rule", ruleID)
		}
		return nil, apperr.Storage("get rule", err)
	}
	return rd, nil
}

func (r *repoPG) Create(ctx context.Context, rd *RuleDefinition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO rule_definition (
			rule_id, metric, operator, expected, severity, category, enabled,
			message, explanation, ack_roles, responsible_only
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rd.RuleID, rd.Metric, rd.Operator, rd.Expected, rd.Severity, rd.Category, rd.Enabled,
		rd.Message, rd.Explanation, rd.AckRoles, rd.ResponsibleOnly,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("rule " + rd.RuleID + " already exists")
		}
		return apperr.Storage("create rule", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, rd *RuleDefinition) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rule_definition SET
			metric=$2, operator=$3, expected=$4, severity=$5, category=$6, enabled=$7,
			message=$8, explanation=$9, ack_roles=$10, responsible_only=$11, updated_at=NOW()
		WHERE rule_id = $1`,
		rd.RuleID, rd.Metric, rd.Operator, rd.Expected, rd.Severity, rd.Category, rd.Enabled,
		rd.Message, rd.Explanation, rd.AckRoles, rd.ResponsibleOnly,
	)
	if err != nil {
		return apperr.Storage("update rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule", rd.RuleID)
	}
	return nil
}

func (r *repoPG) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE rule_definition SET enabled = $2, updated_at = NOW() WHERE rule_id = $1`,
		ruleID, enabled)
	if err != nil {
		return apperr.Storage("set rule enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule", ruleID)
	}
	return nil
}

// SeedRule inserts the rule only if no row with its id exists. Seeding never
// overwrites operator edits.
func (r *repoPG) SeedRule(ctx context.Context, rd *RuleDefinition) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO rule_definition (
			rule_id, metric, operator, expected, severity, category, enabled,
			message, explanation, ack_roles, responsible_only
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (rule_id) DO NOTHING`,
		rd.RuleID, rd.Metric, rd.Operator, rd.Expected, rd.Severity, rd.Category, rd.Enabled,
		rd.Message, rd.Explanation, rd.AckRoles, rd.ResponsibleOnly,
	)
	if err != nil {
		return false, apperr.Storage("seed rule", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ListShiftReasons(ctx context.Context) ([]*ShiftReason, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT code, label, active FROM shift_reason ORDER BY code`)
	if err != nil {
		return nil, apperr.Storage("list shift reasons", err)
	}
	defer rows.Close()

	var out []*ShiftReason
	for rows.Next() {
		var sr ShiftReason
		if err := rows.Scan(&sr.Code, &sr.Label, &sr.Active); err != nil {
			return nil, apperr.Storage("scan shift reason", err)
		}
		out = append(out, &sr)
	}
	return out, nil
}

func (r *repoPG) SeedShiftReason(ctx context.Context, sr *ShiftReason) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shift_reason (code, label, active)
		VALUES ($1,$2,$3)
		ON CONFLICT (code) DO NOTHING`,
		sr.Code, sr.Label, sr.Active)
	if err != nil {
		return false, apperr.Storage("seed shift reason", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanRule(row pgx.Row) (*RuleDefinition, error) {
	var rd RuleDefinition
	err := row.Scan(
		&rd.RuleID, &rd.Metric, &rd.Operator, &rd.Expected, &rd.Severity, &rd.Category, &rd.Enabled,
		&rd.Message, &rd.Explanation, &rd.AckRoles, &rd.ResponsibleOnly, &rd.CreatedAt, &rd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rd, nil
}
