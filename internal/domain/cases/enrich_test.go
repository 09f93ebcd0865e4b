package cases

import (
	"testing"
	"time"
)

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(day int, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, berlin)
}

func tp(t time.Time) *time.Time { return &t }
func fp(f float64) *float64     { return &f }

func TestEnrich_DeadlineFlags(t *testing.T) {
	now := at(10, 12)

	tests := []struct {
		name   string
		c      Case
		metric string
		want   bool
	}{
		{"entry assessment fresh admission", Case{AdmittedAt: tp(at(9, 8))}, MetricEntryAssessmentOverdue, false},
		{"entry assessment overdue", Case{AdmittedAt: tp(at(5, 8))}, MetricEntryAssessmentOverdue, true},
		{"entry assessment done", Case{AdmittedAt: tp(at(5, 8)), EntryAssessmentAt: tp(at(5, 10))}, MetricEntryAssessmentOverdue, false},
		{"entry assessment no admission date", Case{}, MetricEntryAssessmentOverdue, true},

		{"consent within 24h", Case{AdmittedAt: tp(at(10, 2))}, MetricConsentMissingOver24h, false},
		{"consent missing over 24h", Case{AdmittedAt: tp(at(8, 8))}, MetricConsentMissingOver24h, true},
		{"consent signed", Case{AdmittedAt: tp(at(8, 8)), ConsentSignedAt: tp(at(8, 9))}, MetricConsentMissingOver24h, false},
		{"consent no admission date", Case{}, MetricConsentMissingOver24h, true},

		{"fall risk within window", Case{AdmittedAt: tp(at(9, 8))}, MetricFallRiskUnassessed2d, false},
		{"fall risk overdue", Case{AdmittedAt: tp(at(6, 8))}, MetricFallRiskUnassessed2d, true},
		{"fall risk assessed", Case{AdmittedAt: tp(at(6, 8)), FallRiskAssessedAt: tp(at(6, 12))}, MetricFallRiskUnassessed2d, false},

		{"wound absent", Case{}, MetricWoundDocOverdue, false},
		{"wound present never documented", Case{WoundPresent: true}, MetricWoundDocOverdue, true},
		{"wound documented recently", Case{WoundPresent: true, WoundDocumentedAt: tp(at(8, 8))}, MetricWoundDocOverdue, false},
		{"wound documentation stale", Case{WoundPresent: true, WoundDocumentedAt: tp(at(1, 8))}, MetricWoundDocOverdue, true},

		{"discharge summary not yet due", Case{}, MetricDischargeSummaryMissing, false},
		{"discharge summary missing", Case{DischargedAt: tp(at(9, 16))}, MetricDischargeSummaryMissing, true},
		{"discharge summary done", Case{DischargedAt: tp(at(9, 16)), DischargeSummaryDone: true}, MetricDischargeSummaryMissing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := Enrich(&tt.c, now)
			got, ok := ec.Derived[tt.metric].(bool)
			if !ok {
				t.Fatalf("metric %s missing or not bool", tt.metric)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}
}

func TestEnrich_ThresholdFlags(t *testing.T) {
	now := at(10, 12)

	tests := []struct {
		name   string
		c      Case
		metric string
		want   bool
	}{
		{"crp normal", Case{CRPValue: fp(40), CRPMeasuredAt: tp(at(10, 8))}, MetricCRPElevated, false},
		{"crp elevated recent", Case{CRPValue: fp(150), CRPMeasuredAt: tp(at(9, 8))}, MetricCRPElevated, true},
		{"crp elevated stale", Case{CRPValue: fp(150), CRPMeasuredAt: tp(at(1, 8))}, MetricCRPElevated, false},
		{"crp elevated no timestamp", Case{CRPValue: fp(150)}, MetricCRPElevated, true},
		{"crp absent", Case{}, MetricCRPElevated, false},

		{"barthel low", Case{BarthelScore: fp(25)}, MetricBarthelLow, true},
		{"barthel ok", Case{BarthelScore: fp(65)}, MetricBarthelLow, false},
		{"barthel absent", Case{}, MetricBarthelLow, false},

		{"isolation open over 48h", Case{IsolationStartedAt: tp(at(7, 8))}, MetricIsolationOver48h, true},
		{"isolation open under 48h", Case{IsolationStartedAt: tp(at(9, 8))}, MetricIsolationOver48h, false},
		{"isolation ended", Case{IsolationStartedAt: tp(at(7, 8)), IsolationEndedAt: tp(at(8, 8))}, MetricIsolationOver48h, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := Enrich(&tt.c, now)
			if got := ec.Derived[tt.metric].(bool); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}
}

func TestEnrich_DeltaFlags(t *testing.T) {
	now := at(10, 12)

	tests := []struct {
		name   string
		c      Case
		metric string
		want   bool
	}{
		{"barthel dropped", Case{PrevBarthelScore: fp(70), BarthelScore: fp(40)}, MetricBarthelDroppedOver20, true},
		{"barthel stable", Case{PrevBarthelScore: fp(70), BarthelScore: fp(60)}, MetricBarthelDroppedOver20, false},
		{"barthel no previous", Case{BarthelScore: fp(40)}, MetricBarthelDroppedOver20, false},

		{"weight lost over 5pct", Case{AdmissionWeightKg: fp(80), CurrentWeightKg: fp(74)}, MetricWeightLossOver5Pct, true},
		{"weight stable", Case{AdmissionWeightKg: fp(80), CurrentWeightKg: fp(79)}, MetricWeightLossOver5Pct, false},
		{"weight no admission value", Case{CurrentWeightKg: fp(74)}, MetricWeightLossOver5Pct, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := Enrich(&tt.c, now)
			if got := ec.Derived[tt.metric].(bool); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}
}

func TestEnrich_DurationMetrics(t *testing.T) {
	now := at(10, 12)

	ec := Enrich(&Case{AdmittedAt: tp(at(4, 23)), CatheterPlacedAt: tp(at(8, 1))}, now)
	if got := ec.Derived[MetricDaysSinceAdmission].(float64); got != 6 {
		t.Errorf("days_since_admission = %v, want 6", got)
	}
	if got := ec.Derived[MetricCatheterDays].(float64); got != 2 {
		t.Errorf("catheter_days = %v, want 2", got)
	}

	// Absent anchors leave the metric absent, so is_null rules can fire.
	ec = Enrich(&Case{}, now)
	if _, ok := ec.Derived[MetricDaysSinceAdmission]; ok {
		t.Error("days_since_admission should be absent without admission date")
	}
	if _, ok := ec.Derived[MetricCatheterDays]; ok {
		t.Error("catheter_days should be absent without placement date")
	}
}

func TestEnrich_CivilDayBoundary(t *testing.T) {
	// 23:00 to 01:00 the next day is two hours of elapsed time but one
	// calendar day in the ward's timezone.
	admitted := at(9, 23)
	now := at(10, 1)
	ec := Enrich(&Case{AdmittedAt: &admitted}, now)
	if got := ec.Derived[MetricDaysSinceAdmission].(float64); got != 1 {
		t.Errorf("days_since_admission across midnight = %v, want 1", got)
	}
}

func TestEnrich_Pure(t *testing.T) {
	c := Case{AdmittedAt: tp(at(5, 8)), BarthelScore: fp(25)}
	before := c
	Enrich(&c, at(10, 12))
	if c != before {
		t.Error("Enrich mutated its input")
	}
}

func TestMetric_FallbackToRawFields(t *testing.T) {
	c := Case{BarthelScore: fp(45), CaseStatus: StatusOpen}
	ec := Enrich(&c, at(10, 12))

	if v, ok := ec.Metric(MetricBarthelScore); !ok || v.(float64) != 45 {
		t.Errorf("barthel_score = %v (%v), want 45", v, ok)
	}
	if v, ok := ec.Metric(MetricCaseStatus); !ok || v.(string) != StatusOpen {
		t.Errorf("case_status = %v (%v)", v, ok)
	}
	if _, ok := ec.Metric(MetricCRPValue); ok {
		t.Error("absent crp_value should resolve to not-present")
	}
	if _, ok := ec.Metric("no_such_metric"); ok {
		t.Error("unknown metric should resolve to not-present")
	}
}

func TestMetricKeys_CoversDerivedMap(t *testing.T) {
	keys := make(map[string]bool)
	for _, k := range MetricKeys() {
		keys[k] = true
	}
	full := Case{
		AdmittedAt:       tp(at(5, 8)),
		CatheterPlacedAt: tp(at(8, 8)),
	}
	ec := Enrich(&full, at(10, 12))
	for k := range ec.Derived {
		if !keys[k] {
			t.Errorf("derived metric %s not in MetricKeys()", k)
		}
	}
}
