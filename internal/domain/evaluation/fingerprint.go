package evaluation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/stationboard/stationboard/internal/domain/rules"
)

// Fingerprint hashes the exact clinical condition behind an alert: the rule
// identity, the triggering value, discharge presence, and the ruleset
// version. It deliberately excludes wall-clock time and case_id so the same
// condition yields the same fingerprint whenever it is evaluated.
func Fingerprint(rd *rules.RuleDefinition, actual any, present bool, discharged bool, rulesetVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "rule=%s\nmetric=%s\nop=%s\nexpected=%s\nactual=%s\ndischarged=%t\nruleset=%s\n",
		rd.RuleID, rd.Metric, rd.Operator,
		canonicalExpected(rd.Expected),
		canonicalActual(actual, present),
		discharged,
		rulesetVersion,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// RulesetVersion derives a version token from the evaluation-relevant fields
// of the catalog snapshot. Editing a threshold or operator changes the
// version and therefore every open fingerprint; editing display text does not.
func RulesetVersion(catalog []*rules.RuleDefinition) string {
	h := sha256.New()
	for _, rd := range catalog {
		if !rd.Enabled {
			continue
		}
		fmt.Fprintf(h, "%s|%s|%s|%s\n", rd.RuleID, rd.Metric, rd.Operator, canonicalExpected(rd.Expected))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func canonicalExpected(e *float64) string {
	if e == nil {
		return "null"
	}
	return strconv.FormatFloat(*e, 'g', -1, 64)
}

func canonicalActual(v any, present bool) string {
	if !present {
		return "null"
	}
	switch a := v.(type) {
	case bool:
		return strconv.FormatBool(a)
	case float64:
		return strconv.FormatFloat(a, 'g', -1, 64)
	case int:
		return strconv.Itoa(a)
	case string:
		// Newlines would break the canonical field framing.
		return strings.ReplaceAll(a, "\n", " ")
	default:
		return fmt.Sprintf("%v", a)
	}
}
