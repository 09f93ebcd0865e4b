// Package audit writes acknowledgment and administration events to the
// audit_event table. Audit writes are best-effort: a failed write is logged
// and swallowed so it never fails the operation it records.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/platform/db"
)

// Actions recorded by the acknowledgment lifecycle.
const (
	ActionAckSubmit = "ack.submit"
	ActionAckUndo   = "ack.undo"
	ActionDayReset  = "day.reset"
	ActionRuleWrite = "rule.write"
	ActionRuleSeed  = "rule.seed"
)

// Event is a single audit record. Details carries action-specific context
// and is stored as jsonb.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    string         `json:"actor_id"`
	ActorRoles []string       `json:"actor_roles"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	StationID  string         `json:"station_id"`
	Success    bool           `json:"success"`
	Details    map[string]any `json:"details,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Sink persists audit events.
type Sink struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewSink(pool *pgxpool.Pool, logger zerolog.Logger) *Sink {
	return &Sink{pool: pool, logger: logger.With().Str("component", "audit").Logger()}
}

// Record writes the event. It never returns an error: the caller's operation
// must not fail because the audit trail is unavailable.
func (s *Sink) Record(ctx context.Context, ev Event) {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}

	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			s.logger.Error().Err(err).Str("action", ev.Action).Msg("marshal audit details")
			details = nil
		}
	}

	const query = `
		INSERT INTO audit_event (
			actor_id, actor_roles, action, target_type, target_id,
			station_id, success, details, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`

	args := []any{
		ev.ActorID, ev.ActorRoles, ev.Action, ev.TargetType, ev.TargetID,
		ev.StationID, ev.Success, details, ev.RecordedAt,
	}

	var err error
	if tx := db.TxFromContext(ctx); tx != nil {
		err = tx.QueryRow(ctx, query, args...).Scan(&ev.ID)
	} else {
		err = s.pool.QueryRow(ctx, query, args...).Scan(&ev.ID)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("action", ev.Action).
			Str("actor_id", ev.ActorID).
			Str("target_id", ev.TargetID).
			Msg("audit write failed")
	}
}
