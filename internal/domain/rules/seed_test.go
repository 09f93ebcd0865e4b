package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stationboard/stationboard/internal/platform/audit"
)

const seedYAML = `rules:
  - rule_id: ENTRY_ASSESSMENT_OVERDUE
    metric: entry_assessment_overdue
    operator: is_true
    severity: WARN
    category: completeness
    message: Entry assessment overdue
  - rule_id: CRP_ELEVATED
    metric: crp_elevated
    operator: is_true
    severity: CRITICAL
    category: medical
    message: CRP elevated
shift_reasons:
  - code: night_shift
    label: Deferred to night shift
  - code: specialist_pending
    label: Awaiting specialist
    active: false
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSeedFromFile(t *testing.T) {
	repo := &mockRepo{existing: map[string]bool{}}
	aud := &mockAudit{}
	svc, _ := newTestService(repo, aud, nil)

	res, err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RulesInserted != 2 || res.RulesSkipped != 0 {
		t.Errorf("unexpected rule counts: %+v", res)
	}
	if res.ReasonsInserted != 2 || res.ReasonsSkipped != 0 {
		t.Errorf("unexpected reason counts: %+v", res)
	}
	for _, rd := range repo.seeded {
		if !rd.Enabled {
			t.Errorf("rule %s: enabled should default to true", rd.RuleID)
		}
	}
	if len(repo.seededReasons) != 2 {
		t.Fatalf("expected 2 seeded reasons, got %d", len(repo.seededReasons))
	}
	if !repo.seededReasons[0].Active {
		t.Error("reason night_shift: active should default to true")
	}
	if repo.seededReasons[1].Active {
		t.Error("reason specialist_pending: active: false must be honored")
	}
	if len(aud.events) != 1 || aud.events[0].Action != audit.ActionRuleSeed {
		t.Errorf("expected rule.seed audit event, got %+v", aud.events)
	}
}

func TestSeedFromFile_SkipsExisting(t *testing.T) {
	repo := &mockRepo{existing: map[string]bool{
		"ENTRY_ASSESSMENT_OVERDUE": true,
		"night_shift":              true,
	}}
	svc, _ := newTestService(repo, nil, nil)

	res, err := svc.SeedFromFile(context.Background(), writeSeed(t, seedYAML))
	if err != nil {
		t.Fatal(err)
	}
	if res.RulesInserted != 1 || res.RulesSkipped != 1 {
		t.Errorf("seed must not overwrite existing rules: %+v", res)
	}
	if res.ReasonsInserted != 1 || res.ReasonsSkipped != 1 {
		t.Errorf("seed must not overwrite existing reasons: %+v", res)
	}
}

func TestSeedFromFile_RejectsInvalidRule(t *testing.T) {
	bad := `rules:
  - rule_id: BAD
    metric: no_such_metric
    operator: is_true
    severity: WARN
    category: completeness
    message: Bad rule
`
	repo := &mockRepo{existing: map[string]bool{}}
	svc, _ := newTestService(repo, nil, nil)

	if _, err := svc.SeedFromFile(context.Background(), writeSeed(t, bad)); err == nil {
		t.Error("expected validation error for unknown metric")
	}
}
