package ack

import (
	"context"
	"errors"
	"time"

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

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

const ackCols = `case_id, station_id, scope, scope_id, action, shift_code, comment,
	fingerprint, business_date, day_version, acked_by, acked_at`

func (r *repoPG) Upsert(ctx context.Context, a *Ack) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_ack (
			case_id, station_id, scope, scope_id, action, shift_code, comment,
			fingerprint, business_date, day_version, acked_by, acked_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (case_id, station_id, scope, scope_id) DO UPDATE SET
			action = EXCLUDED.action,
			shift_code = EXCLUDED.shift_code,
			comment = EXCLUDED.comment,
			fingerprint = EXCLUDED.fingerprint,
			business_date = EXCLUDED.business_date,
			day_version = EXCLUDED.day_version,
			acked_by = EXCLUDED.acked_by,
			acked_at = EXCLUDED.acked_at`,
		a.CaseID, a.StationID, a.Scope, a.ScopeID, a.Action, a.ShiftCode, a.Comment,
		a.Fingerprint, a.BusinessDate, a.DayVersion, a.AckedBy, a.AckedAt,
	)
	if err != nil {
		return apperr.Storage("upsert ack", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, caseID, stationID, scope, scopeID string) (*Ack, error) {
	a, err := scanAck(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+ackCols+` FROM case_ack
		WHERE case_id = $1 AND station_id = $2 AND scope = $3 AND scope_id = $4`,
		caseID, stationID, scope, scopeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("ack", caseID+"/"+scopeID)
		}
		return nil, apperr.Storage("get ack", err)
	}
	return a, nil
}

func (r *repoPG) ListForCase(ctx context.Context, caseID, stationID string) ([]*Ack, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+ackCols+` FROM case_ack
		WHERE case_id = $1 AND station_id = $2`, caseID, stationID)
	if err != nil {
		return nil, apperr.Storage("list acks", err)
	}
	defer rows.Close()
	return collectAcks(rows)
}

func (r *repoPG) ListForStation(ctx context.Context, stationID string) (map[string][]*Ack, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+ackCols+` FROM case_ack WHERE station_id = $1`, stationID)
	if err != nil {
		return nil, apperr.Storage("list station acks", err)
	}
	defer rows.Close()

	acks, err := collectAcks(rows)
	if err != nil {
		return nil, err
	}
	byCase := make(map[string][]*Ack)
	for _, a := range acks {
		byCase[a.CaseID] = append(byCase[a.CaseID], a)
	}
	return byCase, nil
}

func (r *repoPG) Delete(ctx context.Context, caseID, stationID, scope, scopeID string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM case_ack
		WHERE case_id = $1 AND station_id = $2 AND scope = $3 AND scope_id = $4`,
		caseID, stationID, scope, scopeID)
	if err != nil {
		return false, apperr.Storage("delete ack", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) AppendEvent(ctx context.Context, ev *Event) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ack_event (
			case_id, station_id, scope, scope_id, action, actor, detail,
			old_version, new_version, fingerprint
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at`,
		ev.CaseID, ev.StationID, ev.Scope, ev.ScopeID, ev.Action, ev.Actor, ev.Detail,
		ev.OldVersion, ev.NewVersion, ev.Fingerprint,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return apperr.Storage("append ack event", err)
	}
	return nil
}

func (r *repoPG) ListEventsForCase(ctx context.Context, caseID string, limit, offset int) ([]*Event, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM ack_event WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("count ack events", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, case_id, station_id, scope, scope_id, action, actor, detail,
			old_version, new_version, fingerprint, created_at
		FROM ack_event WHERE case_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Storage("list ack events", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.StationID, &ev.Scope, &ev.ScopeID,
			&ev.Action, &ev.Actor, &ev.Detail,
			&ev.OldVersion, &ev.NewVersion, &ev.Fingerprint, &ev.CreatedAt); err != nil {
			return nil, 0, apperr.Storage("scan ack event", err)
		}
		out = append(out, &ev)
	}
	return out, total, nil
}

func scanAck(row pgx.Row) (*Ack, error) {
	var a Ack
	err := row.Scan(
		&a.CaseID, &a.StationID, &a.Scope, &a.ScopeID, &a.Action, &a.ShiftCode, &a.Comment,
		&a.Fingerprint, &a.BusinessDate, &a.DayVersion, &a.AckedBy, &a.AckedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAcks(rows pgx.Rows) ([]*Ack, error) {
	var out []*Ack
	for rows.Next() {
		a, err := scanAck(rows)
		if err != nil {
			return nil, apperr.Storage("scan ack", err)
		}
		out = append(out, a)
	}
	return out, nil
}

type dayRepoPG struct {
	pool *pgxpool.Pool
}

func NewDayVersionRepo(pool *pgxpool.Pool) DayVersionRepository {
	return &dayRepoPG{pool: pool}
}

// Current initializes the row at version 1 on first access. The insert race
// is resolved by DO NOTHING plus the follow-up read.
func (r *dayRepoPG) Current(ctx context.Context, stationID string, date time.Time) (int, error) {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		INSERT INTO day_version (station_id, business_date)
		VALUES ($1, $2) ON CONFLICT (station_id, business_date) DO NOTHING`,
		stationID, date); err != nil {
		return 0, apperr.Storage("init day version", err)
	}

	var version int
	if err := q.QueryRow(ctx, `
		SELECT version FROM day_version
		WHERE station_id = $1 AND business_date = $2`,
		stationID, date).Scan(&version); err != nil {
		return 0, apperr.Storage("read day version", err)
	}
	return version, nil
}

// Increment is a single atomic upsert: an absent row means the day was at
// its default version 1, so the insert lands directly at 2.
func (r *dayRepoPG) Increment(ctx context.Context, stationID string, date time.Time) (int, int, error) {
	var newV int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO day_version (station_id, business_date, version)
		VALUES ($1, $2, 2)
		ON CONFLICT (station_id, business_date)
		DO UPDATE SET version = day_version.version + 1
		RETURNING version`,
		stationID, date).Scan(&newV)
	if err != nil {
		return 0, 0, apperr.Storage("increment day version", err)
	}
	return newV - 1, newV, nil
}
