package cases

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

const caseCols = `case_id, station_id, admitted_at, discharged_at, case_status, responsible_person,
	entry_assessment_at, barthel_score, barthel_assessed_at, prev_barthel_score,
	consent_signed_at, isolation_started_at, isolation_ended_at, catheter_placed_at,
	wound_present, wound_documented_at, fall_risk_assessed_at,
	crp_value, crp_measured_at,
	admission_weight_kg, current_weight_kg, weight_measured_at,
	discharge_summary_done, created_at, updated_at`

func (r *repoPG) GetByCaseID(ctx context.Context, caseID string) (*Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM patient_case WHERE case_id = $1`, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("case", caseID)
		}
		return nil, apperr.Storage("get case", err)
	}
	return c, nil
}

func (r *repoPG) ListByStation(ctx context.Context, stationID string, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_case WHERE station_id = $1`, stationID).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("count cases", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM patient_case WHERE station_id = $1 ORDER BY case_id LIMIT $2 OFFSET $3`,
		stationID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Storage("list cases", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, apperr.Storage("scan case", err)
		}
		out = append(out, c)
	}
	return out, total, nil
}

// Upsert inserts or replaces a case record by case_id. Cases are only
// written by import/seed, never by the acknowledgment flow.
func (r *repoPG) Upsert(ctx context.Context, c *Case) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_case (
			case_id, station_id, admitted_at, discharged_at, case_status, responsible_person,
			entry_assessment_at, barthel_score, barthel_assessed_at, prev_barthel_score,
			consent_signed_at, isolation_started_at, isolation_ended_at, catheter_placed_at,
			wound_present, wound_documented_at, fall_risk_assessed_at,
			crp_value, crp_measured_at,
			admission_weight_kg, current_weight_kg, weight_measured_at,
			discharge_summary_done
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)
		ON CONFLICT (case_id) DO UPDATE SET
			station_id = EXCLUDED.station_id,
			admitted_at = EXCLUDED.admitted_at,
			discharged_at = EXCLUDED.discharged_at,
			case_status = EXCLUDED.case_status,
			responsible_person = EXCLUDED.responsible_person,
			entry_assessment_at = EXCLUDED.entry_assessment_at,
			barthel_score = EXCLUDED.barthel_score,
			barthel_assessed_at = EXCLUDED.barthel_assessed_at,
			prev_barthel_score = EXCLUDED.prev_barthel_score,
			consent_signed_at = EXCLUDED.consent_signed_at,
			isolation_started_at = EXCLUDED.isolation_started_at,
			isolation_ended_at = EXCLUDED.isolation_ended_at,
			catheter_placed_at = EXCLUDED.catheter_placed_at,
			wound_present = EXCLUDED.wound_present,
			wound_documented_at = EXCLUDED.wound_documented_at,
			fall_risk_assessed_at = EXCLUDED.fall_risk_assessed_at,
			crp_value = EXCLUDED.crp_value,
			crp_measured_at = EXCLUDED.crp_measured_at,
			admission_weight_kg = EXCLUDED.admission_weight_kg,
			current_weight_kg = EXCLUDED.current_weight_kg,
			weight_measured_at = EXCLUDED.weight_measured_at,
			discharge_summary_done = EXCLUDED.discharge_summary_done,
			updated_at = NOW()`,
		c.ID, c.StationID, c.AdmittedAt, c.DischargedAt, c.CaseStatus, c.ResponsiblePerson,
		c.EntryAssessmentAt, c.BarthelScore, c.BarthelAssessedAt, c.PrevBarthelScore,
		c.ConsentSignedAt, c.IsolationStartedAt, c.IsolationEndedAt, c.CatheterPlacedAt,
		c.WoundPresent, c.WoundDocumentedAt, c.FallRiskAssessedAt,
		c.CRPValue, c.CRPMeasuredAt,
		c.AdmissionWeightKg, c.CurrentWeightKg, c.WeightMeasuredAt,
		c.DischargeSummaryDone,
	)
	if err != nil {
		return apperr.Storage("upsert case", err)
	}
	return nil
}

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(
		&c.ID, &c.StationID, &c.AdmittedAt, &c.DischargedAt, &c.CaseStatus, &c.ResponsiblePerson,
		&c.EntryAssessmentAt, &c.BarthelScore, &c.BarthelAssessedAt, &c.PrevBarthelScore,
		&c.ConsentSignedAt, &c.IsolationStartedAt, &c.IsolationEndedAt, &c.CatheterPlacedAt,
		&c.WoundPresent, &c.WoundDocumentedAt, &c.FallRiskAssessedAt,
		&c.CRPValue, &c.CRPMeasuredAt,
		&c.AdmissionWeightKg, &c.CurrentWeightKg, &c.WeightMeasuredAt,
		&c.DischargeSummaryDone, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
