package cases

import "time"

// Derived metric keys. The set is closed: rule definitions referencing a
// metric outside this set (or a raw case field) are rejected at write time.
const (
	MetricEntryAssessmentOverdue  = "entry_assessment_overdue"
	MetricConsentMissingOver24h   = "consent_missing_over_24h"
	MetricFallRiskUnassessed2d    = "fall_risk_unassessed_over_2d"
	MetricWoundDocOverdue         = "wound_doc_overdue"
	MetricDischargeSummaryMissing = "discharge_summary_missing"
	MetricCRPElevated             = "crp_elevated"
	MetricBarthelLow              = "barthel_low"
	MetricBarthelDroppedOver20    = "barthel_dropped_over_20"
	MetricWeightLossOver5Pct      = "weight_loss_over_5pct"
	MetricIsolationOver48h        = "isolation_over_48h"
	MetricCatheterDays            = "catheter_days"
	MetricDaysSinceAdmission      = "days_since_admission"
)

// Raw case fields addressable by rules alongside the derived metrics.
const (
	MetricBarthelScore    = "barthel_score"
	MetricCRPValue        = "crp_value"
	MetricCurrentWeightKg = "current_weight_kg"
	MetricCaseStatus      = "case_status"
)

// Deadlines and thresholds for the derived flags.
const (
	entryAssessmentDeadlineDays = 3
	consentDeadlineHours        = 24
	fallRiskDeadlineDays        = 2
	woundDocDeadlineDays        = 7
	crpElevatedThreshold        = 100
	crpRecencyHours             = 72
	barthelLowThreshold         = 30
	barthelDropThreshold        = 20
	weightLossThresholdPct      = 0.05
	isolationDeadlineHours      = 48
)

// MetricKeys returns every metric a rule definition may reference, derived
// flags and raw fields alike. The catalog validates rules against this set.
func MetricKeys() []string {
	return []string{
		MetricEntryAssessmentOverdue,
		MetricConsentMissingOver24h,
		MetricFallRiskUnassessed2d,
		MetricWoundDocOverdue,
		MetricDischargeSummaryMissing,
		MetricCRPElevated,
		MetricBarthelLow,
		MetricBarthelDroppedOver20,
		MetricWeightLossOver5Pct,
		MetricIsolationOver48h,
		MetricCatheterDays,
		MetricDaysSinceAdmission,
		MetricBarthelScore,
		MetricCRPValue,
		MetricCurrentWeightKg,
		MetricCaseStatus,
	}
}

// EnrichedCase is the ephemeral evaluation input: the raw case plus the
// derived metric map. Recomputed on every request, never persisted.
type EnrichedCase struct {
	Case    *Case
	Derived map[string]any
}

// Metric resolves a metric key, derived values first, then raw case fields.
// The second return is false when the metric has no value for this case,
// which is what the is_null operator tests.
func (ec *EnrichedCase) Metric(key string) (any, bool) {
	if v, ok := ec.Derived[key]; ok {
		return v, true
	}
	switch key {
	case MetricBarthelScore:
		if ec.Case.BarthelScore != nil {
			return *ec.Case.BarthelScore, true
		}
	case MetricCRPValue:
		if ec.Case.CRPValue != nil {
			return *ec.Case.CRPValue, true
		}
	case MetricCurrentWeightKg:
		if ec.Case.CurrentWeightKg != nil {
			return *ec.Case.CurrentWeightKg, true
		}
	case MetricCaseStatus:
		if ec.Case.CaseStatus != "" {
			return ec.Case.CaseStatus, true
		}
	}
	return nil, false
}

// Enrich computes the derived metric map for a case as of now, which must be
// expressed in the business timezone so day arithmetic crosses midnight at
// the ward's local boundary. Pure function: no I/O, the input case is not
// mutated.
//
// Absent inputs resolve per-flag, defaulting toward showing the flag rather
// than suppressing it:
//   - deadline flags anchored on admission treat a missing admission date as
//     overdue (the documentation is missing either way);
//   - wound_doc_overdue is false without a wound, true when a wound has no
//     documentation date at all;
//   - crp_elevated treats a measurement without a timestamp as recent;
//   - delta flags (barthel drop, weight loss) need both measurements and are
//     false otherwise;
//   - duration metrics (catheter_days, days_since_admission) are absent when
//     their anchor date is absent, so is_null rules can surface them.
func Enrich(c *Case, now time.Time) *EnrichedCase {
	d := make(map[string]any, 12)

	d[MetricEntryAssessmentOverdue] = c.EntryAssessmentAt == nil &&
		pastDeadlineDays(c.AdmittedAt, now, entryAssessmentDeadlineDays)
	d[MetricConsentMissingOver24h] = c.ConsentSignedAt == nil &&
		pastDeadlineHours(c.AdmittedAt, now, consentDeadlineHours)
	d[MetricFallRiskUnassessed2d] = c.FallRiskAssessedAt == nil &&
		pastDeadlineDays(c.AdmittedAt, now, fallRiskDeadlineDays)

	woundOverdue := false
	if c.WoundPresent {
		woundOverdue = c.WoundDocumentedAt == nil ||
			civilDaysBetween(*c.WoundDocumentedAt, now) > woundDocDeadlineDays
	}
	d[MetricWoundDocOverdue] = woundOverdue

	d[MetricDischargeSummaryMissing] = c.Discharged() && !c.DischargeSummaryDone

	crpElevated := false
	if c.CRPValue != nil && *c.CRPValue >= crpElevatedThreshold {
		crpElevated = c.CRPMeasuredAt == nil ||
			now.Sub(*c.CRPMeasuredAt) <= crpRecencyHours*time.Hour
	}
	d[MetricCRPElevated] = crpElevated

	d[MetricBarthelLow] = c.BarthelScore != nil && *c.BarthelScore < barthelLowThreshold

	d[MetricBarthelDroppedOver20] = c.PrevBarthelScore != nil && c.BarthelScore != nil &&
		*c.PrevBarthelScore-*c.BarthelScore > barthelDropThreshold

	weightLoss := false
	if c.AdmissionWeightKg != nil && *c.AdmissionWeightKg > 0 && c.CurrentWeightKg != nil {
		weightLoss = (*c.AdmissionWeightKg-*c.CurrentWeightKg)/(*c.AdmissionWeightKg) > weightLossThresholdPct
	}
	d[MetricWeightLossOver5Pct] = weightLoss

	d[MetricIsolationOver48h] = c.IsolationStartedAt != nil && c.IsolationEndedAt == nil &&
		now.Sub(*c.IsolationStartedAt) > isolationDeadlineHours*time.Hour

	if c.CatheterPlacedAt != nil {
		d[MetricCatheterDays] = float64(civilDaysBetween(*c.CatheterPlacedAt, now))
	}
	if c.AdmittedAt != nil {
		d[MetricDaysSinceAdmission] = float64(civilDaysBetween(*c.AdmittedAt, now))
	}

	return &EnrichedCase{Case: c, Derived: d}
}

func pastDeadlineDays(anchor *time.Time, now time.Time, days int) bool {
	if anchor == nil {
		return true
	}
	return civilDaysBetween(*anchor, now) > days
}

func pastDeadlineHours(anchor *time.Time, now time.Time, hours int) bool {
	if anchor == nil {
		return true
	}
	return now.Sub(*anchor) > time.Duration(hours)*time.Hour
}

// civilDaysBetween counts calendar-day boundaries crossed between from and
// now, both interpreted in now's location.
func civilDaysBetween(from, now time.Time) int {
	loc := now.Location()
	f := from.In(loc)
	a := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return int(b.Sub(a) / (24 * time.Hour))
}
