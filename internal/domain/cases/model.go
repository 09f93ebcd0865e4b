package cases

import "time"

// Case statuses as recorded by the import process.
const (
	StatusOpen        = "open"
	StatusDocPending  = "documentation-pending"
	StatusDocComplete = "documentation-complete"
)

// Case is one patient stay. Cases are written by import/seed processes only;
// the acknowledgment flow reads them and never mutates them.
type Case struct {
	ID                string     `json:"case_id"`
	StationID         string     `json:"station_id"`
	AdmittedAt        *time.Time `json:"admitted_at"`
	DischargedAt      *time.Time `json:"discharged_at"`
	CaseStatus        string     `json:"case_status"`
	ResponsiblePerson string     `json:"responsible_person"`

	EntryAssessmentAt    *time.Time `json:"entry_assessment_at"`
	BarthelScore         *float64   `json:"barthel_score"`
	BarthelAssessedAt    *time.Time `json:"barthel_assessed_at"`
	PrevBarthelScore     *float64   `json:"prev_barthel_score"`
	ConsentSignedAt      *time.Time `json:"consent_signed_at"`
	IsolationStartedAt   *time.Time `json:"isolation_started_at"`
	IsolationEndedAt     *time.Time `json:"isolation_ended_at"`
	CatheterPlacedAt     *time.Time `json:"catheter_placed_at"`
	WoundPresent         bool       `json:"wound_present"`
	WoundDocumentedAt    *time.Time `json:"wound_documented_at"`
	FallRiskAssessedAt   *time.Time `json:"fall_risk_assessed_at"`
	CRPValue             *float64   `json:"crp_value"`
	CRPMeasuredAt        *time.Time `json:"crp_measured_at"`
	AdmissionWeightKg    *float64   `json:"admission_weight_kg"`
	CurrentWeightKg      *float64   `json:"current_weight_kg"`
	WeightMeasuredAt     *time.Time `json:"weight_measured_at"`
	DischargeSummaryDone bool       `json:"discharge_summary_done"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Discharged reports whether the stay has ended.
func (c *Case) Discharged() bool {
	return c.DischargedAt != nil
}
