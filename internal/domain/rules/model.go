package rules

import "time"

// Severity levels, ordered. CRITICAL strictly dominates WARN dominates OK.
const (
	SeverityOK       = "OK"
	SeverityWarn     = "WARN"
	SeverityCritical = "CRITICAL"
)

// SeverityRank orders severities for summarization. Unknown severities rank
// lowest so a malformed row can never outrank a real alert.
func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	case SeverityOK:
		return 0
	default:
		return -1
	}
}

// Rule categories.
const (
	CategoryCompleteness = "completeness"
	CategoryMedical      = "medical"
)

// Operators a rule may apply to its metric. The set is closed; unknown
// operators are rejected when the rule is written, never at evaluation time.
const (
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpIsNull       = "is_null"
	OpIsTrue       = "is_true"
	OpIsFalse      = "is_false"
)

// ValidOperator reports whether op is in the closed operator set.
func ValidOperator(op string) bool {
	switch op {
	case OpGreaterThan, OpGreaterEqual, OpIsNull, OpIsTrue, OpIsFalse:
		return true
	}
	return false
}

// RuleDefinition is one catalog entry. Seeded insert-if-absent at startup,
// mutated only through the admin endpoints.
type RuleDefinition struct {
	RuleID      string   `json:"rule_id"`
	Metric      string   `json:"metric"`
	Operator    string   `json:"operator"`
	Expected    *float64 `json:"expected"`
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Enabled     bool     `json:"enabled"`
	Message     string   `json:"message"`
	Explanation string   `json:"explanation"`

	// AckRoles restricts who may acknowledge alerts from this rule. Empty
	// means no restriction beyond the ack permission. ResponsibleOnly limits
	// acknowledgment to the case's responsible person or a lead.
	AckRoles        []string `json:"ack_roles,omitempty"`
	ResponsibleOnly bool     `json:"responsible_only"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShiftReason is a configured deferral reason code. SHIFT submissions must
// carry an active code.
type ShiftReason struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}
