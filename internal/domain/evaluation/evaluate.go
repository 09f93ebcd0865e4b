// Package evaluation applies the rule catalog to enriched cases. Evaluation
// is pure and deterministic: the same case data and catalog snapshot always
// produce the same alerts with the same fingerprints.
package evaluation

import (
	"github.com/stationboard/stationboard/internal/domain/cases"
	"github.com/stationboard/stationboard/internal/domain/rules"
)

// Alert is one rule violation for one case. Never persisted, recomputed on
// every read; the fingerprint ties acknowledgments to the exact condition.
type Alert struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Message     string `json:"message"`
	Explanation string `json:"explanation,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// Evaluate applies every rule to the enriched case, in catalog order. A
// well-formed catalog never makes evaluation fail: unknown operators are
// rejected when the rule is written, and a rule whose metric has no value
// simply does not fire (except is_null, which fires precisely then).
func Evaluate(ec *cases.EnrichedCase, catalog []*rules.RuleDefinition) []Alert {
	version := RulesetVersion(catalog)

	var alerts []Alert
	for _, rd := range catalog {
		if !rd.Enabled {
			continue
		}
		actual, present := ec.Metric(rd.Metric)
		if !applies(rd, actual, present) {
			continue
		}
		alerts = append(alerts, Alert{
			RuleID:      rd.RuleID,
			Severity:    rd.Severity,
			Category:    rd.Category,
			Message:     rd.Message,
			Explanation: rd.Explanation,
			Fingerprint: Fingerprint(rd, actual, present, ec.Case.Discharged(), version),
		})
	}
	return alerts
}

func applies(rd *rules.RuleDefinition, actual any, present bool) bool {
	switch rd.Operator {
	case rules.OpIsNull:
		return !present
	case rules.OpGreaterThan:
		n, ok := asNumber(actual)
		return present && ok && rd.Expected != nil && n > *rd.Expected
	case rules.OpGreaterEqual:
		n, ok := asNumber(actual)
		return present && ok && rd.Expected != nil && n >= *rd.Expected
	case rules.OpIsTrue:
		return present && asBool(actual)
	case rules.OpIsFalse:
		return present && !asBool(actual)
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// asBool coerces a metric value to boolean. Non-bool values follow truthiness:
// non-zero numbers and non-empty strings are true.
func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b != ""
	}
	return false
}
