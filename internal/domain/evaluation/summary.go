package evaluation

import (
	"fmt"

	"github.com/stationboard/stationboard/internal/domain/rules"
)

// Summary reduces a list of alerts to a single severity line for list views.
type Summary struct {
	Severity      string `json:"severity"`
	Message       string `json:"message,omitempty"`
	CriticalCount int    `json:"critical_count"`
	WarnCount     int    `json:"warn_count"`
}

// Summarize reduces alerts with CRITICAL dominating WARN dominating OK. The
// representative message is the single dominant alert's message when exactly
// one exists, otherwise a count.
func Summarize(alerts []Alert) Summary {
	s := Summary{Severity: rules.SeverityOK}
	for _, a := range alerts {
		switch a.Severity {
		case rules.SeverityCritical:
			s.CriticalCount++
		case rules.SeverityWarn:
			s.WarnCount++
		}
		if rules.SeverityRank(a.Severity) > rules.SeverityRank(s.Severity) {
			s.Severity = a.Severity
		}
	}

	switch {
	case s.Severity == rules.SeverityCritical && s.CriticalCount == 1:
		s.Message = firstOfSeverity(alerts, rules.SeverityCritical)
	case s.Severity == rules.SeverityCritical:
		s.Message = fmt.Sprintf("%d critical alerts", s.CriticalCount)
	case s.Severity == rules.SeverityWarn && s.WarnCount == 1:
		s.Message = firstOfSeverity(alerts, rules.SeverityWarn)
	case s.Severity == rules.SeverityWarn:
		s.Message = fmt.Sprintf("%d warnings", s.WarnCount)
	}
	return s
}

func firstOfSeverity(alerts []Alert, severity string) string {
	for _, a := range alerts {
		if a.Severity == severity {
			return a.Message
		}
	}
	return ""
}
