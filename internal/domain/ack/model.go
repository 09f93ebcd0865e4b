package ack

import "time"

// Acknowledgment scopes. Case scope closes the whole case and uses the
// wildcard scope id; rule scope targets a single rule's alert.
const (
	ScopeCase = "case"
	ScopeRule = "rule"

	CaseScopeID = "*"
)

// Resolution actions.
const (
	ActionAck   = "ACK"
	ActionShift = "SHIFT"
)

// Event actions recorded in the append-only trail, beyond ACK and SHIFT.
const (
	EventUndo       = "UNDO"
	EventInvalidate = "INVALIDATE"
	EventReset      = "RESET"
)

// Alert states after merging live alerts with stored acknowledgments.
const (
	StateActive       = "ACTIVE"
	StateAcknowledged = "ACKNOWLEDGED"
	StateShifted      = "SHIFTED"
)

// Ack is the current resolution record for one (case, station, scope,
// scope_id) key. Upserted on every submit; rows are never bulk-deleted, they
// go stale through the validity predicate instead.
type Ack struct {
	CaseID    string `json:"case_id"`
	StationID string `json:"station_id"`
	Scope     string `json:"scope"`
	ScopeID   string `json:"scope_id"`

	Action      string  `json:"action"`
	ShiftCode   *string `json:"shift_code,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	Fingerprint *string `json:"fingerprint,omitempty"`

	BusinessDate time.Time `json:"business_date"`
	DayVersion   int       `json:"day_version"`
	AckedBy      string    `json:"acked_by"`
	AckedAt      time.Time `json:"acked_at"`
}

// Valid reports whether the ack still applies for today's date, the current
// day version, and the alert's live fingerprint. All three must hold; case
// scope carries no fingerprint and skips that leg.
func (a *Ack) Valid(businessDate time.Time, dayVersion int, fingerprint string) bool {
	if !sameDate(a.BusinessDate, businessDate) || a.DayVersion != dayVersion {
		return false
	}
	if a.Scope == ScopeCase {
		return true
	}
	return a.Fingerprint != nil && *a.Fingerprint == fingerprint
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Event is one append-only trail entry. Never updated or deleted.
type Event struct {
	ID          int64     `json:"id"`
	CaseID      string    `json:"case_id,omitempty"`
	StationID   string    `json:"station_id"`
	Scope       string    `json:"scope,omitempty"`
	ScopeID     string    `json:"scope_id,omitempty"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	Detail      string    `json:"detail,omitempty"`
	OldVersion  *int      `json:"old_version,omitempty"`
	NewVersion  *int      `json:"new_version,omitempty"`
	Fingerprint *string   `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
