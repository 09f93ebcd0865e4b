package ack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/domain/cases"
	"github.com/stationboard/stationboard/internal/domain/rules"
	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/audit"
	"github.com/stationboard/stationboard/internal/platform/auth"
)

// -- in-memory collaborators --

type memCases struct {
	byID map[string]*cases.Case
}

func (m *memCases) GetByCaseID(ctx context.Context, caseID string) (*cases.Case, error) {
	c, ok := m.byID[caseID]
	if !ok {
		return nil, apperr.NotFound("case", caseID)
	}
	return c, nil
}

func (m *memCases) ListByStation(ctx context.Context, stationID string, limit, offset int) ([]*cases.Case, int, error) {
	var out []*cases.Case
	for _, c := range m.byID {
		if c.StationID == stationID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *memCases) Upsert(ctx context.Context, c *cases.Case) error {
	m.byID[c.ID] = c
	return nil
}

type memAcks struct {
	rows   map[string]*Ack
	events []*Event
}

func ackKey(caseID, stationID, scope, scopeID string) string {
	return caseID + "|" + stationID + "|" + scope + "|" + scopeID
}

func (m *memAcks) Upsert(ctx context.Context, a *Ack) error {
	cp := *a
	m.rows[ackKey(a.CaseID, a.StationID, a.Scope, a.ScopeID)] = &cp
	return nil
}

func (m *memAcks) Get(ctx context.Context, caseID, stationID, scope, scopeID string) (*Ack, error) {
	a, ok := m.rows[ackKey(caseID, stationID, scope, scopeID)]
	if !ok {
		return nil, apperr.NotFound("ack", caseID+"/"+scopeID)
	}
	return a, nil
}

func (m *memAcks) ListForCase(ctx context.Context, caseID, stationID string) ([]*Ack, error) {
	var out []*Ack
	for _, a := range m.rows {
		if a.CaseID == caseID && a.StationID == stationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAcks) ListForStation(ctx context.Context, stationID string) (map[string][]*Ack, error) {
	byCase := make(map[string][]*Ack)
	for _, a := range m.rows {
		if a.StationID == stationID {
			byCase[a.CaseID] = append(byCase[a.CaseID], a)
		}
	}
	return byCase, nil
}

func (m *memAcks) Delete(ctx context.Context, caseID, stationID, scope, scopeID string) (bool, error) {
	key := ackKey(caseID, stationID, scope, scopeID)
	if _, ok := m.rows[key]; !ok {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}

func (m *memAcks) AppendEvent(ctx context.Context, ev *Event) error {
	ev.ID = int64(len(m.events) + 1)
	ev.CreatedAt = time.Now()
	m.events = append(m.events, ev)
	return nil
}

func (m *memAcks) ListEventsForCase(ctx context.Context, caseID string, limit, offset int) ([]*Event, int, error) {
	var out []*Event
	for _, ev := range m.events {
		if ev.CaseID == caseID {
			out = append(out, ev)
		}
	}
	return out, len(out), nil
}

func (m *memAcks) eventsOf(action string) []*Event {
	var out []*Event
	for _, ev := range m.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

type memDays struct {
	versions map[string]int
}

func dayKey(stationID string, date time.Time) string {
	return stationID + "|" + date.Format("2006-01-02")
}

func (m *memDays) Current(ctx context.Context, stationID string, date time.Time) (int, error) {
	key := dayKey(stationID, date)
	if _, ok := m.versions[key]; !ok {
		m.versions[key] = 1
	}
	return m.versions[key], nil
}

func (m *memDays) Increment(ctx context.Context, stationID string, date time.Time) (int, int, error) {
	key := dayKey(stationID, date)
	old, ok := m.versions[key]
	if !ok {
		old = 1
	}
	m.versions[key] = old + 1
	return old, old + 1, nil
}

type memAudit struct {
	events []audit.Event
}

func (m *memAudit) Record(ctx context.Context, ev audit.Event) {
	m.events = append(m.events, ev)
}

type fakeRuleRepo struct {
	rules   []*rules.RuleDefinition
	reasons []*rules.ShiftReason
}

func (f *fakeRuleRepo) ListEnabled(ctx context.Context) ([]*rules.RuleDefinition, error) {
	return f.rules, nil
}
func (f *fakeRuleRepo) ListAll(ctx context.Context) ([]*rules.RuleDefinition, error) {
	return f.rules, nil
}
func (f *fakeRuleRepo) GetByRuleID(ctx context.Context, id string) (*rules.RuleDefinition, error) {
	return nil, apperr.NotFound("rule", id)
}
func (f *fakeRuleRepo) Create(ctx context.Context, r *rules.RuleDefinition) error { return nil }
func (f *fakeRuleRepo) Update(ctx context.Context, r *rules.RuleDefinition) error { return nil }
func (f *fakeRuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return nil
}
func (f *fakeRuleRepo) SeedRule(ctx context.Context, r *rules.RuleDefinition) (bool, error) {
	return false, nil
}
func (f *fakeRuleRepo) ListShiftReasons(ctx context.Context) ([]*rules.ShiftReason, error) {
	return f.reasons, nil
}
func (f *fakeRuleRepo) SeedShiftReason(ctx context.Context, sr *rules.ShiftReason) (bool, error) {
	return false, nil
}

// -- fixture --

type env struct {
	svc         *Service
	cases       *memCases
	acks        *memAcks
	days        *memDays
	audit       *memAudit
	invalidated []string
	nowT        time.Time
}

func fp(f float64) *float64     { return &f }
func tp(t time.Time) *time.Time { return &t }

func defaultCatalog() []*rules.RuleDefinition {
	return []*rules.RuleDefinition{
		{
			RuleID: "BARTHEL_MISSING", Metric: cases.MetricBarthelScore,
			Operator: rules.OpIsNull, Severity: rules.SeverityWarn,
			Category: rules.CategoryCompleteness, Enabled: true,
			Message: "Barthel score missing",
		},
		{
			RuleID: "CRP_HIGH", Metric: cases.MetricCRPElevated,
			Operator: rules.OpIsTrue, Severity: rules.SeverityCritical,
			Category: rules.CategoryMedical, Enabled: true,
			Message: "CRP elevated",
		},
		{
			RuleID: "CATHETER_LONG", Metric: cases.MetricCatheterDays,
			Operator: rules.OpGreaterThan, Expected: fp(2),
			Severity: rules.SeverityWarn, Category: rules.CategoryMedical,
			Enabled: true, Message: "Catheter in place too long",
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		cases: &memCases{byID: map[string]*cases.Case{}},
		acks:  &memAcks{rows: map[string]*Ack{}},
		days:  &memDays{versions: map[string]int{}},
		audit: &memAudit{},
		nowT:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	repo := &fakeRuleRepo{
		rules: defaultCatalog(),
		reasons: []*rules.ShiftReason{
			{Code: "night_shift", Label: "Deferred to night shift", Active: true},
			{Code: "retired_code", Label: "No longer used", Active: false},
		},
	}
	catalog := rules.NewCatalog(repo, time.Hour, zerolog.Nop())

	e.svc = NewService(Deps{
		Cases:    e.cases,
		Catalog:  catalog,
		Acks:     e.acks,
		Days:     e.days,
		Policy:   auth.NewPolicy(),
		Audit:    e.audit,
		Location: time.UTC,
		Logger:   zerolog.Nop(),
		InvalidateCache: func(prefix string) {
			e.invalidated = append(e.invalidated, prefix)
		},
	})
	e.svc.now = func() time.Time { return e.nowT }

	// C1 fires BARTHEL_MISSING and CRP_HIGH.
	e.cases.byID["C1"] = &cases.Case{
		ID: "C1", StationID: "S1", CaseStatus: cases.StatusOpen,
		ResponsiblePerson: "nurse-a", CRPValue: fp(150),
	}
	return e
}

func actorCtx(userID string, roles, perms, stations []string) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: userID, Roles: roles, Permissions: perms, StationScope: stations,
	})
}

func nurseCtx(user string) context.Context {
	return actorCtx(user, []string{"nurse"}, []string{auth.PermAckWrite}, nil)
}

func leadCtx(user string) context.Context {
	return actorCtx(user, []string{"lead"}, []string{auth.PermAckWrite, auth.PermDayReset}, nil)
}

func mustSubmit(t *testing.T, e *env, ctx context.Context, in SubmitInput) *SubmitResult {
	t.Helper()
	res, err := e.svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("submit %+v: %v", in, err)
	}
	return res
}

func alertState(t *testing.T, ev *CaseEvaluation, ruleID string) AlertView {
	t.Helper()
	for _, v := range ev.Alerts {
		if v.RuleID == ruleID {
			return v
		}
	}
	t.Fatalf("rule %s not in evaluation: %+v", ruleID, ev.Alerts)
	return AlertView{}
}

// -- read path --

func TestEvaluateCase_MergesValidAck(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")

	res := mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})
	if res.Fingerprint == "" {
		t.Fatal("expected fingerprint in submit result")
	}

	ev, err := e.svc.EvaluateCase(ctx, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if got := alertState(t, ev, "CRP_HIGH"); got.State != StateAcknowledged || got.AckedBy != "nurse-a" {
		t.Errorf("expected acknowledged by nurse-a, got %+v", got)
	}
	if got := alertState(t, ev, "BARTHEL_MISSING"); got.State != StateActive {
		t.Errorf("untouched alert should stay active, got %s", got.State)
	}
	// The suppressed critical no longer drives the summary.
	if ev.Summary.Severity != rules.SeverityWarn || ev.Summary.CriticalCount != 0 || ev.Summary.WarnCount != 1 {
		t.Errorf("unexpected summary: %+v", ev.Summary)
	}
}

func TestEvaluateCase_ShiftCarriesReason(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")

	mustSubmit(t, e, ctx, SubmitInput{
		CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH",
		Action: ActionShift, ShiftCode: "night_shift", Comment: "handover noted",
	})

	ev, err := e.svc.EvaluateCase(ctx, "C1")
	if err != nil {
		t.Fatal(err)
	}
	got := alertState(t, ev, "CRP_HIGH")
	if got.State != StateShifted || got.ShiftCode == nil || *got.ShiftCode != "night_shift" {
		t.Errorf("expected shifted with reason, got %+v", got)
	}
	if got.Comment != "handover noted" {
		t.Errorf("expected comment, got %q", got.Comment)
	}
}

func TestEvaluateCase_StationScopeDenied(t *testing.T) {
	e := newEnv(t)
	ctx := actorCtx("nurse-b", []string{"nurse"}, []string{auth.PermAckWrite}, []string{"S2"})

	_, err := e.svc.EvaluateCase(ctx, "C1")
	var pe *apperr.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
}

// -- submit validation --

func TestSubmit_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")

	tests := []struct {
		name  string
		in    SubmitInput
		field string
	}{
		{"bad scope", SubmitInput{CaseID: "C1", Scope: "ward", ScopeID: "R", Action: ActionAck}, "scope"},
		{"bad action", SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "R", Action: "DISMISS"}, "action"},
		{"rule scope without id", SubmitInput{CaseID: "C1", Scope: ScopeRule, Action: ActionAck}, "scope_id"},
		{"shift without code", SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionShift}, "shift_code"},
		{"shift with unknown code", SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionShift, ShiftCode: "coffee"}, "shift_code"},
		{"shift with inactive code", SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionShift, ShiftCode: "retired_code"}, "shift_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Submit(ctx, tt.in)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestSubmit_CaseNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Submit(nurseCtx("nurse-a"), SubmitInput{
		CaseID: "NOPE", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck,
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSubmit_UnknownRule(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Submit(nurseCtx("nurse-a"), SubmitInput{
		CaseID: "C1", Scope: ScopeRule, ScopeID: "NO_SUCH_RULE", Action: ActionAck,
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSubmit_InactiveRuleConflict(t *testing.T) {
	e := newEnv(t)
	// CATHETER_LONG is in the catalog but C1 has no catheter, so it does
	// not fire.
	_, err := e.svc.Submit(nurseCtx("nurse-a"), SubmitInput{
		CaseID: "C1", Scope: ScopeRule, ScopeID: "CATHETER_LONG", Action: ActionAck,
	})
	var ce *apperr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

// -- submit semantics --

func TestSubmit_IdempotentUpsert(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	in := SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck}

	r1 := mustSubmit(t, e, ctx, in)
	r2 := mustSubmit(t, e, ctx, in)

	if !r1.Accepted || !r2.Accepted {
		t.Error("both submissions must succeed")
	}
	if r2.AlreadyHandledBy != "" {
		t.Error("same actor must not be flagged as overwriting")
	}
	if len(e.acks.rows) != 1 {
		t.Errorf("expected exactly one persisted row, got %d", len(e.acks.rows))
	}
}

func TestSubmit_ConcurrentOverwriteFlagged(t *testing.T) {
	e := newEnv(t)
	in := SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck}

	mustSubmit(t, e, nurseCtx("nurse-a"), in)
	res := mustSubmit(t, e, nurseCtx("nurse-b"), in)

	if res.AlreadyHandledBy != "nurse-a" || res.AlreadyHandledAt == nil {
		t.Errorf("expected already_handled_by=nurse-a, got %+v", res)
	}
	// Last writer wins.
	a := e.acks.rows[ackKey("C1", "S1", ScopeRule, "CRP_HIGH")]
	if a.AckedBy != "nurse-b" {
		t.Errorf("expected nurse-b to own the row, got %s", a.AckedBy)
	}
}

func TestSubmit_CaseClosureGating(t *testing.T) {
	e := newEnv(t)
	lead := leadCtx("lead-1")

	_, err := e.svc.Submit(lead, SubmitInput{CaseID: "C1", Scope: ScopeCase, Action: ActionAck})
	var ce *apperr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(ce.OpenRuleIDs) != 2 {
		t.Errorf("expected both open rules enumerated, got %v", ce.OpenRuleIDs)
	}

	mustSubmit(t, e, lead, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})
	mustSubmit(t, e, lead, SubmitInput{
		CaseID: "C1", Scope: ScopeRule, ScopeID: "BARTHEL_MISSING",
		Action: ActionShift, ShiftCode: "night_shift",
	})

	res := mustSubmit(t, e, lead, SubmitInput{CaseID: "C1", Scope: ScopeCase, Action: ActionAck})
	if !res.Accepted {
		t.Error("closure should succeed once every alert is handled")
	}

	ev, err := e.svc.EvaluateCase(lead, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if !ev.CaseClosed || ev.ClosedBy != "lead-1" {
		t.Errorf("expected case closed by lead-1, got %+v", ev)
	}
}

func TestSubmit_CaseScopeRequiresLead(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Submit(nurseCtx("nurse-a"), SubmitInput{CaseID: "C1", Scope: ScopeCase, Action: ActionAck})
	var pe *apperr.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}

	// Denials land in the audit trail.
	last := e.audit.events[len(e.audit.events)-1]
	if last.Success || last.ActorID != "nurse-a" {
		t.Errorf("expected failed audit record, got %+v", last)
	}
}

func TestSubmit_ResponsibleOnlyRule(t *testing.T) {
	e := newEnv(t)
	e.cases.byID["C1"].BarthelScore = fp(60) // leave only CRP_HIGH firing

	repo := &fakeRuleRepo{
		rules: []*rules.RuleDefinition{{
			RuleID: "CRP_HIGH", Metric: cases.MetricCRPElevated,
			Operator: rules.OpIsTrue, Severity: rules.SeverityCritical,
			Category: rules.CategoryMedical, Enabled: true,
			Message: "CRP elevated", ResponsibleOnly: true,
		}},
		reasons: []*rules.ShiftReason{{Code: "night_shift", Active: true}},
	}
	e.svc.catalog = rules.NewCatalog(repo, time.Hour, zerolog.Nop())

	in := SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck}

	if _, err := e.svc.Submit(nurseCtx("nurse-b"), in); err == nil {
		t.Error("expected denial for non-responsible actor")
	}
	if _, err := e.svc.Submit(nurseCtx("nurse-a"), in); err != nil {
		t.Errorf("responsible person should be allowed: %v", err)
	}
	if _, err := e.svc.Submit(leadCtx("lead-1"), in); err != nil {
		t.Errorf("lead should bypass the restriction: %v", err)
	}
}

func TestSubmit_InvalidatesCacheLast(t *testing.T) {
	e := newEnv(t)
	mustSubmit(t, e, nurseCtx("nurse-a"), SubmitInput{
		CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck,
	})
	if len(e.invalidated) != 1 || e.invalidated[0] != "station:S1:" {
		t.Errorf("expected station prefix invalidation, got %v", e.invalidated)
	}
}

// -- auto-reopen --

func TestAutoReopen_OnFingerprintChange(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	placed := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	e.cases.byID["C1"].CatheterPlacedAt = &placed // 5 days -> CATHETER_LONG fires

	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CATHETER_LONG", Action: ActionAck})

	// The underlying fact changes: the catheter was actually placed earlier,
	// so catheter_days moves and the fingerprint drifts while the rule keeps
	// firing.
	earlier := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	e.cases.byID["C1"].CatheterPlacedAt = &earlier

	ev, err := e.svc.EvaluateCase(ctx, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if got := alertState(t, ev, "CATHETER_LONG"); got.State != StateActive {
		t.Errorf("expected auto-reopen to ACTIVE, got %s", got.State)
	}

	if n := len(e.acks.eventsOf(EventInvalidate)); n != 1 {
		t.Errorf("expected one invalidate trail entry, got %d", n)
	}
	// A second read must not duplicate the housekeeping write.
	if _, err := e.svc.EvaluateCase(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	if n := len(e.acks.eventsOf(EventInvalidate)); n != 1 {
		t.Errorf("invalidate write must be one-shot, got %d entries", n)
	}
}

func TestAutoReopen_DedupSweptOnDateRollover(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	placed := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	e.cases.byID["C1"].CatheterPlacedAt = &placed

	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CATHETER_LONG", Action: ActionAck})
	earlier := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	e.cases.byID["C1"].CatheterPlacedAt = &earlier
	if _, err := e.svc.EvaluateCase(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	if n := len(e.svc.invalidated); n != 1 {
		t.Fatalf("expected one dedup entry, got %d", n)
	}

	// Next business day: a fresh ack drifts again. The tracker must not keep
	// accumulating yesterday's keys.
	e.nowT = e.nowT.Add(24 * time.Hour)
	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CATHETER_LONG", Action: ActionAck})
	evenEarlier := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	e.cases.byID["C1"].CatheterPlacedAt = &evenEarlier
	if _, err := e.svc.EvaluateCase(ctx, "C1"); err != nil {
		t.Fatal(err)
	}

	if n := len(e.svc.invalidated); n != 1 {
		t.Errorf("expected stale dedup entries to be evicted, got %d", n)
	}
	if !sameDate(e.svc.invDate, e.nowT) {
		t.Errorf("dedup tracker should follow the business date, got %s", e.svc.invDate)
	}
}

// -- day scoping --

func TestAckValidity_ScopedToBusinessDate(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})

	e.nowT = e.nowT.Add(24 * time.Hour)

	ev, err := e.svc.EvaluateCase(ctx, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if got := alertState(t, ev, "CRP_HIGH"); got.State != StateActive {
		t.Errorf("yesterday's ack must not suppress today's alert, got %s", got.State)
	}
}

func TestResetDay_ReopensWithoutDeletingHistory(t *testing.T) {
	e := newEnv(t)
	nurse := nurseCtx("nurse-a")
	lead := leadCtx("lead-1")

	mustSubmit(t, e, nurse, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})

	res, err := e.svc.ResetDay(lead, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if res.OldVersion != 1 || res.NewVersion != 2 {
		t.Errorf("expected 1 -> 2, got %+v", res)
	}

	ev, err := e.svc.EvaluateCase(nurse, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if got := alertState(t, ev, "CRP_HIGH"); got.State != StateActive {
		t.Errorf("reset must demote acks to ACTIVE, got %s", got.State)
	}
	if ev.DayVersion != 2 {
		t.Errorf("expected day version 2, got %d", ev.DayVersion)
	}

	// The row itself survives for history.
	if _, ok := e.acks.rows[ackKey("C1", "S1", ScopeRule, "CRP_HIGH")]; !ok {
		t.Error("reset must not delete ack rows")
	}
	resets := e.acks.eventsOf(EventReset)
	if len(resets) != 1 || *resets[0].OldVersion != 1 || *resets[0].NewVersion != 2 {
		t.Errorf("expected reset trail entry with versions, got %+v", resets)
	}
}

func TestResetDay_PermissionGated(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ResetDay(nurseCtx("nurse-a"), "S1")
	var pe *apperr.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
}

func TestDayState_InitializesAtOne(t *testing.T) {
	e := newEnv(t)
	ds, err := e.svc.DayState(nurseCtx("nurse-a"), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Version != 1 || ds.BusinessDate != "2026-03-10" {
		t.Errorf("unexpected day state: %+v", ds)
	}
}

// -- undo --

func TestUndo(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})

	if err := e.svc.Undo(ctx, "C1", "CRP_HIGH"); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.acks.rows[ackKey("C1", "S1", ScopeRule, "CRP_HIGH")]; ok {
		t.Error("undo must delete the row outright")
	}
	if len(e.acks.eventsOf(EventUndo)) != 1 {
		t.Error("undo must be recorded in the trail")
	}

	err := e.svc.Undo(ctx, "C1", "CRP_HIGH")
	if !apperr.IsNotFound(err) {
		t.Fatalf("second undo should be not found, got %v", err)
	}
}

// -- station list --

func TestListCases(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")
	// C2 is clean except for the missing Barthel score.
	e.cases.byID["C2"] = &cases.Case{
		ID: "C2", StationID: "S1", CaseStatus: cases.StatusOpen,
		CRPValue: fp(20), CRPMeasuredAt: tp(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)),
	}

	mustSubmit(t, e, ctx, SubmitInput{CaseID: "C1", Scope: ScopeRule, ScopeID: "CRP_HIGH", Action: ActionAck})

	view, err := e.svc.ListCases(ctx, "S1", "", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if view.Total != 2 || len(view.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %+v", view)
	}

	byID := make(map[string]CaseSummary)
	for _, cs := range view.Cases {
		byID[cs.CaseID] = cs
	}
	c1 := byID["C1"]
	if c1.TotalProblems != 2 || c1.OpenProblems != 1 || c1.AckedProblems != 1 {
		t.Errorf("C1 counts wrong: %+v", c1)
	}
	if c1.Severity != rules.SeverityWarn {
		t.Errorf("C1 severity should come from open alerts only, got %s", c1.Severity)
	}
	if _, ok := c1.Categories[rules.CategoryCompleteness]; !ok {
		t.Error("C1 should report the completeness category")
	}
	c2 := byID["C2"]
	if c2.OpenProblems != 1 || c2.Severity != rules.SeverityWarn {
		t.Errorf("C2 counts wrong: %+v", c2)
	}
}

func TestListCases_CategoryFilter(t *testing.T) {
	e := newEnv(t)
	ctx := nurseCtx("nurse-a")

	view, err := e.svc.ListCases(ctx, "S1", rules.CategoryMedical, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	c1 := view.Cases[0]
	if c1.TotalProblems != 1 || c1.Severity != rules.SeverityCritical {
		t.Errorf("medical filter should leave only CRP_HIGH: %+v", c1)
	}

	if _, err := e.svc.ListCases(ctx, "S1", "billing", 50, 0); err == nil {
		t.Error("unknown category must be rejected")
	}
}
