package ack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/domain/cases"
	"github.com/stationboard/stationboard/internal/domain/evaluation"
	"github.com/stationboard/stationboard/internal/domain/rules"
	"github.com/stationboard/stationboard/internal/platform/apperr"
	"github.com/stationboard/stationboard/internal/platform/audit"
	"github.com/stationboard/stationboard/internal/platform/auth"
	"github.com/stationboard/stationboard/internal/platform/db"
)

// Recorder is the audit surface the controller needs.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Deps wires the lifecycle controller. Catalog, the response cache
// invalidator, and the day-version register are process-wide singletons
// constructed in main.
type Deps struct {
	Pool     *pgxpool.Pool
	Cases    cases.Repository
	Catalog  *rules.Catalog
	Acks     Repository
	Days     DayVersionRepository
	Policy   *auth.Policy
	Audit    Recorder
	Location *time.Location
	Logger   zerolog.Logger

	// InvalidateCache drops response cache entries by key prefix. Called
	// last on every successful mutation.
	InvalidateCache func(prefix string)
}

// Service is the acknowledgment lifecycle controller: it merges live alerts
// with stored acks on reads and guards every mutation's preconditions.
type Service struct {
	cases      cases.Repository
	catalog    *rules.Catalog
	acks       Repository
	days       DayVersionRepository
	policy     *auth.Policy
	audit      Recorder
	pool       *pgxpool.Pool
	loc        *time.Location
	logger     zerolog.Logger
	invalidate func(prefix string)
	now        func() time.Time

	// invalidated dedupes the best-effort auto-reopen trail writes so
	// polling reads do not re-append the same transition. Entries only ever
	// concern the current business date; the map is swept on rollover.
	invMu       sync.Mutex
	invDate     time.Time
	invalidated map[string]bool
}

func NewService(d Deps) *Service {
	inv := d.InvalidateCache
	if inv == nil {
		inv = func(string) {}
	}
	return &Service{
		cases:       d.Cases,
		catalog:     d.Catalog,
		acks:        d.Acks,
		days:        d.Days,
		policy:      d.Policy,
		audit:       d.Audit,
		pool:        d.Pool,
		loc:         d.Location,
		logger:      d.Logger.With().Str("component", "ack_lifecycle").Logger(),
		invalidate:  inv,
		now:         time.Now,
		invalidated: make(map[string]bool),
	}
}

// businessNow returns wall-clock now in the ward's timezone plus the
// business date truncated to that timezone's midnight. Every operation
// computes this once and reuses it throughout.
func (s *Service) businessNow() (time.Time, time.Time) {
	now := s.now().In(s.loc)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return now, date
}

// inTx runs fn in one transaction so the day version and the acks it
// validates come from a single consistent snapshot.
func (s *Service) inTx(ctx context.Context, fn func(context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.RunInTx(ctx, s.pool, fn)
}

// AlertView is an alert merged with its acknowledgment state.
type AlertView struct {
	evaluation.Alert
	State     string     `json:"state"`
	AckedBy   string     `json:"acked_by,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	ShiftCode *string    `json:"shift_code,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// CaseEvaluation is the full evaluated view of one case.
type CaseEvaluation struct {
	CaseID       string             `json:"case_id"`
	StationID    string             `json:"station_id"`
	BusinessDate string             `json:"business_date"`
	DayVersion   int                `json:"day_version"`
	Alerts       []AlertView        `json:"alerts"`
	Summary      evaluation.Summary `json:"summary"`
	CaseClosed   bool               `json:"case_closed"`
	ClosedBy     string             `json:"closed_by,omitempty"`
}

// EvaluateCase evaluates one case and merges the result with today's valid
// acknowledgments. The summary covers ACTIVE alerts only: a validly
// acknowledged alert is suppressed from the severity line but still listed
// with its state.
func (s *Service) EvaluateCase(ctx context.Context, caseID string) (*CaseEvaluation, error) {
	actor, _ := auth.ActorFromContext(ctx)

	c, err := s.cases.GetByCaseID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessStation(c.StationID) {
		return nil, apperr.Permission("station " + c.StationID + " is outside your scope")
	}

	catalog, err := s.catalog.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	now, date := s.businessNow()
	alerts := evaluation.Evaluate(cases.Enrich(c, now), catalog)

	var version int
	var stored []*Ack
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if version, err = s.days.Current(ctx, c.StationID, date); err != nil {
			return err
		}
		stored, err = s.acks.ListForCase(ctx, caseID, c.StationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	views, open := s.merge(ctx, c, alerts, stored, date, version)

	ev := &CaseEvaluation{
		CaseID:       caseID,
		StationID:    c.StationID,
		BusinessDate: date.Format("2006-01-02"),
		DayVersion:   version,
		Alerts:       views,
		Summary:      evaluation.Summarize(open),
	}
	if ca := findAck(stored, ScopeCase, CaseScopeID); ca != nil && ca.Valid(date, version, "") {
		ev.CaseClosed = true
		ev.ClosedBy = ca.AckedBy
	}
	return ev, nil
}

// merge applies the validity predicate to every alert. A stored ack whose
// fingerprint no longer matches demotes the alert to ACTIVE (auto-reopen)
// and triggers a best-effort trail write; the predicate alone is what
// guarantees correctness.
func (s *Service) merge(ctx context.Context, c *cases.Case, alerts []evaluation.Alert, stored []*Ack, date time.Time, version int) ([]AlertView, []evaluation.Alert) {
	views := make([]AlertView, 0, len(alerts))
	var open []evaluation.Alert

	for _, al := range alerts {
		v := AlertView{Alert: al, State: StateActive}
		a := findAck(stored, ScopeRule, al.RuleID)
		switch {
		case a == nil:
		case a.Valid(date, version, al.Fingerprint):
			if a.Action == ActionShift {
				v.State = StateShifted
				v.ShiftCode = a.ShiftCode
			} else {
				v.State = StateAcknowledged
			}
			v.AckedBy = a.AckedBy
			ackedAt := a.AckedAt
			v.AckedAt = &ackedAt
			v.Comment = a.Comment
		case sameDate(a.BusinessDate, date) && a.DayVersion == version:
			// Same day and version but the condition changed underneath
			// the ack: auto-reopen.
			s.recordInvalidation(ctx, c, a, al.Fingerprint, version)
		}
		if v.State == StateActive {
			open = append(open, al)
		}
		views = append(views, v)
	}
	return views, open
}

func (s *Service) recordInvalidation(ctx context.Context, c *cases.Case, a *Ack, liveFingerprint string, version int) {
	stored := ""
	if a.Fingerprint != nil {
		stored = *a.Fingerprint
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%d", a.CaseID, a.ScopeID, stored, a.BusinessDate.Format("2006-01-02"), version)

	s.invMu.Lock()
	if !sameDate(s.invDate, a.BusinessDate) {
		s.invDate = a.BusinessDate
		s.invalidated = make(map[string]bool)
	}
	if s.invalidated[key] {
		s.invMu.Unlock()
		return
	}
	s.invalidated[key] = true
	s.invMu.Unlock()

	ev := &Event{
		CaseID:      a.CaseID,
		StationID:   c.StationID,
		Scope:       a.Scope,
		ScopeID:     a.ScopeID,
		Action:      EventInvalidate,
		Actor:       a.AckedBy,
		Detail:      "condition fingerprint changed, ack auto-reopened",
		Fingerprint: &liveFingerprint,
	}
	if err := s.acks.AppendEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("case_id", a.CaseID).
			Str("rule_id", a.ScopeID).
			Msg("auto-reopen trail write failed")
	}
}

func findAck(stored []*Ack, scope, scopeID string) *Ack {
	for _, a := range stored {
		if a.Scope == scope && a.ScopeID == scopeID {
			return a
		}
	}
	return nil
}

// CaseSummary is one row of the station list view.
type CaseSummary struct {
	CaseID            string                        `json:"case_id"`
	CaseStatus        string                        `json:"case_status"`
	ResponsiblePerson string                        `json:"responsible_person"`
	Severity          string                        `json:"severity"`
	Categories        map[string]evaluation.Summary `json:"categories"`
	TotalProblems     int                           `json:"total_problems"`
	OpenProblems      int                           `json:"open_problems"`
	AckedProblems     int                           `json:"acked_problems"`
	CaseClosed        bool                          `json:"case_closed"`
}

// StationView is the aggregate served through the response cache.
type StationView struct {
	StationID    string        `json:"station_id"`
	BusinessDate string        `json:"business_date"`
	DayVersion   int           `json:"day_version"`
	Cases        []CaseSummary `json:"cases"`
	Total        int           `json:"total"`
}

// ListCases evaluates every case on the station against one catalog
// snapshot and one (date, version) pair. The category filter narrows which
// alerts are shown and counted; case closure always considers all of them.
func (s *Service) ListCases(ctx context.Context, stationID, category string, limit, offset int) (*StationView, error) {
	actor, _ := auth.ActorFromContext(ctx)
	if !actor.CanAccessStation(stationID) {
		return nil, apperr.Permission("station " + stationID + " is outside your scope")
	}
	if category != "" && category != rules.CategoryCompleteness && category != rules.CategoryMedical {
		return nil, apperr.Validation("category", "unknown category "+category)
	}

	catalog, err := s.catalog.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	now, date := s.businessNow()

	list, total, err := s.cases.ListByStation(ctx, stationID, limit, offset)
	if err != nil {
		return nil, err
	}

	var version int
	var byCase map[string][]*Ack
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if version, err = s.days.Current(ctx, stationID, date); err != nil {
			return err
		}
		byCase, err = s.acks.ListForStation(ctx, stationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	view := &StationView{
		StationID:    stationID,
		BusinessDate: date.Format("2006-01-02"),
		DayVersion:   version,
		Cases:        make([]CaseSummary, 0, len(list)),
		Total:        total,
	}

	for _, c := range list {
		alerts := evaluation.Evaluate(cases.Enrich(c, now), catalog)
		if category != "" {
			filtered := alerts[:0:0]
			for _, al := range alerts {
				if al.Category == category {
					filtered = append(filtered, al)
				}
			}
			alerts = filtered
		}
		stored := byCase[c.ID]
		views, open := s.merge(ctx, c, alerts, stored, date, version)

		cs := CaseSummary{
			CaseID:            c.ID,
			CaseStatus:        c.CaseStatus,
			ResponsiblePerson: c.ResponsiblePerson,
			Severity:          evaluation.Summarize(open).Severity,
			Categories:        make(map[string]evaluation.Summary),
			TotalProblems:     len(views),
			OpenProblems:      len(open),
			AckedProblems:     len(views) - len(open),
		}
		byCategory := make(map[string][]evaluation.Alert)
		for _, al := range open {
			byCategory[al.Category] = append(byCategory[al.Category], al)
		}
		for cat, als := range byCategory {
			cs.Categories[cat] = evaluation.Summarize(als)
		}
		if ca := findAck(stored, ScopeCase, CaseScopeID); ca != nil && ca.Valid(date, version, "") {
			cs.CaseClosed = true
		}
		view.Cases = append(view.Cases, cs)
	}
	return view, nil
}

// SubmitInput is one ACK or SHIFT request.
type SubmitInput struct {
	CaseID    string `json:"-"`
	Scope     string `json:"scope"`
	ScopeID   string `json:"scope_id"`
	Action    string `json:"action"`
	ShiftCode string `json:"shift_code,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// SubmitResult reports a persisted submission. AlreadyHandledBy is set when
// the write overwrote a colleague's still-valid ack (last-writer-wins).
type SubmitResult struct {
	Accepted         bool       `json:"accepted"`
	Fingerprint      string     `json:"fingerprint,omitempty"`
	AlreadyHandledBy string     `json:"already_handled_by,omitempty"`
	AlreadyHandledAt *time.Time `json:"already_handled_at,omitempty"`
}

// Submit validates, authorizes, and persists an ACK or SHIFT. Preconditions
// and the persisted fingerprint come from one evaluation pass over one
// (date, version) snapshot; the response cache is invalidated last.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	actor, _ := auth.ActorFromContext(ctx)

	if in.Scope != ScopeCase && in.Scope != ScopeRule {
		return nil, apperr.Validation("scope", "must be case or rule")
	}
	if in.Action != ActionAck && in.Action != ActionShift {
		return nil, apperr.Validation("action", "must be ACK or SHIFT")
	}
	scopeID := in.ScopeID
	if in.Scope == ScopeCase {
		if scopeID == "" {
			scopeID = CaseScopeID
		}
		if scopeID != CaseScopeID {
			return nil, apperr.Validation("scope_id", "case scope uses the wildcard scope id")
		}
	} else if scopeID == "" {
		return nil, apperr.Validation("scope_id", "rule scope requires a rule id")
	}

	var shiftCode *string
	if in.Action == ActionShift {
		if in.ShiftCode == "" {
			return nil, apperr.Validation("shift_code", "SHIFT requires a reason code")
		}
		codes, err := s.catalog.ActiveShiftCodes(ctx)
		if err != nil {
			return nil, err
		}
		if !codes[in.ShiftCode] {
			return nil, apperr.Validation("shift_code", "unknown or inactive reason code "+in.ShiftCode)
		}
		shiftCode = &in.ShiftCode
	}

	c, err := s.cases.GetByCaseID(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}

	catalog, err := s.catalog.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	resource := &auth.AckResource{
		StationID:         c.StationID,
		ResponsiblePerson: c.ResponsiblePerson,
	}
	action := auth.ActionAckCase
	if in.Scope == ScopeRule {
		action = auth.ActionAckRule
		rd := findRule(catalog, scopeID)
		if rd == nil {
			return nil, apperr.NotFound("rule", scopeID)
		}
		resource.AckRoles = rd.AckRoles
		resource.ResponsibleOnly = rd.ResponsibleOnly
	}
	if err := s.authorize(ctx, actor, action, resource, in.CaseID, scopeID); err != nil {
		return nil, err
	}

	// Single evaluation pass: the precondition check and the persisted
	// fingerprint must not come from different snapshots.
	now, date := s.businessNow()
	alerts := evaluation.Evaluate(cases.Enrich(c, now), catalog)

	var fingerprint *string
	if in.Scope == ScopeRule {
		var live *evaluation.Alert
		for i := range alerts {
			if alerts[i].RuleID == scopeID {
				live = &alerts[i]
				break
			}
		}
		if live == nil {
			return nil, apperr.Conflict("rule " + scopeID + " is not active for this case")
		}
		fp := live.Fingerprint
		fingerprint = &fp
	}

	res := &SubmitResult{Accepted: true}
	err = s.inTx(ctx, func(ctx context.Context) error {
		version, err := s.days.Current(ctx, c.StationID, date)
		if err != nil {
			return err
		}

		if in.Scope == ScopeCase {
			stored, err := s.acks.ListForCase(ctx, in.CaseID, c.StationID)
			if err != nil {
				return err
			}
			var blockers []string
			for _, al := range alerts {
				a := findAck(stored, ScopeRule, al.RuleID)
				if a == nil || !a.Valid(date, version, al.Fingerprint) {
					blockers = append(blockers, al.RuleID)
				}
			}
			if len(blockers) > 0 {
				return apperr.Conflict("case has open alerts", blockers...)
			}
		}

		// Concurrent-edit detection: last-writer-wins, but the response
		// flags whose valid ack is being overwritten.
		existing, err := s.acks.Get(ctx, in.CaseID, c.StationID, in.Scope, scopeID)
		if err != nil && !apperr.IsNotFound(err) {
			return err
		}
		if existing != nil && existing.AckedBy != actor.UserID {
			liveFP := ""
			if fingerprint != nil {
				liveFP = *fingerprint
			}
			if existing.Valid(date, version, liveFP) {
				res.AlreadyHandledBy = existing.AckedBy
				at := existing.AckedAt
				res.AlreadyHandledAt = &at
			}
		}

		a := &Ack{
			CaseID:       in.CaseID,
			StationID:    c.StationID,
			Scope:        in.Scope,
			ScopeID:      scopeID,
			Action:       in.Action,
			ShiftCode:    shiftCode,
			Comment:      in.Comment,
			Fingerprint:  fingerprint,
			BusinessDate: date,
			DayVersion:   version,
			AckedBy:      actor.UserID,
			AckedAt:      now,
		}
		if err := s.acks.Upsert(ctx, a); err != nil {
			return err
		}
		return s.acks.AppendEvent(ctx, &Event{
			CaseID:      in.CaseID,
			StationID:   c.StationID,
			Scope:       in.Scope,
			ScopeID:     scopeID,
			Action:      in.Action,
			Actor:       actor.UserID,
			Detail:      in.Comment,
			Fingerprint: fingerprint,
		})
	})
	if err != nil {
		return nil, err
	}
	if fingerprint != nil {
		res.Fingerprint = *fingerprint
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			ActorID:    actor.UserID,
			ActorRoles: actor.Roles,
			Action:     audit.ActionAckSubmit,
			TargetType: "case",
			TargetID:   in.CaseID,
			StationID:  c.StationID,
			Success:    true,
			Details:    map[string]any{"scope": in.Scope, "scope_id": scopeID, "action": in.Action},
		})
	}
	s.invalidate("station:" + c.StationID + ":")
	return res, nil
}

func findRule(catalog []*rules.RuleDefinition, ruleID string) *rules.RuleDefinition {
	for _, rd := range catalog {
		if rd.RuleID == ruleID {
			return rd
		}
	}
	return nil
}

// Undo deletes the ack row outright, unlike auto-reopen which only
// reinterprets it. The deletion is recorded in the trail.
func (s *Service) Undo(ctx context.Context, caseID, ruleID string) error {
	actor, _ := auth.ActorFromContext(ctx)

	c, err := s.cases.GetByCaseID(ctx, caseID)
	if err != nil {
		return err
	}
	resource := &auth.AckResource{StationID: c.StationID, ResponsiblePerson: c.ResponsiblePerson}
	if err := s.authorize(ctx, actor, auth.ActionAckUndo, resource, caseID, ruleID); err != nil {
		return err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		deleted, err := s.acks.Delete(ctx, caseID, c.StationID, ScopeRule, ruleID)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.NotFound("ack", caseID+"/"+ruleID)
		}
		return s.acks.AppendEvent(ctx, &Event{
			CaseID:    caseID,
			StationID: c.StationID,
			Scope:     ScopeRule,
			ScopeID:   ruleID,
			Action:    EventUndo,
			Actor:     actor.UserID,
		})
	})
	if err != nil {
		return err
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			ActorID:    actor.UserID,
			ActorRoles: actor.Roles,
			Action:     audit.ActionAckUndo,
			TargetType: "case",
			TargetID:   caseID,
			StationID:  c.StationID,
			Success:    true,
			Details:    map[string]any{"rule_id": ruleID},
		})
	}
	s.invalidate("station:" + c.StationID + ":")
	return nil
}

// DayState reports the station's business date and current day version.
type DayState struct {
	StationID    string `json:"station_id"`
	BusinessDate string `json:"business_date"`
	Version      int    `json:"version"`
}

func (s *Service) DayState(ctx context.Context, stationID string) (*DayState, error) {
	actor, _ := auth.ActorFromContext(ctx)
	if !actor.CanAccessStation(stationID) {
		return nil, apperr.Permission("station " + stationID + " is outside your scope")
	}

	_, date := s.businessNow()
	version, err := s.days.Current(ctx, stationID, date)
	if err != nil {
		return nil, err
	}
	return &DayState{StationID: stationID, BusinessDate: date.Format("2006-01-02"), Version: version}, nil
}

// ResetResult reports a day reset.
type ResetResult struct {
	StationID    string `json:"station_id"`
	BusinessDate string `json:"business_date"`
	OldVersion   int    `json:"old_version"`
	NewVersion   int    `json:"new_version"`
}

// ResetDay bumps the station's day version, staling every ack written today
// without touching the rows.
func (s *Service) ResetDay(ctx context.Context, stationID string) (*ResetResult, error) {
	actor, _ := auth.ActorFromContext(ctx)
	resource := &auth.AckResource{StationID: stationID}
	if err := s.authorize(ctx, actor, auth.ActionDayReset, resource, "", stationID); err != nil {
		return nil, err
	}

	_, date := s.businessNow()
	oldV, newV, err := s.days.Increment(ctx, stationID, date)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		StationID:  stationID,
		Action:     EventReset,
		Actor:      actor.UserID,
		OldVersion: &oldV,
		NewVersion: &newV,
	}
	if err := s.acks.AppendEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("station_id", stationID).Msg("reset trail write failed")
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			ActorID:    actor.UserID,
			ActorRoles: actor.Roles,
			Action:     audit.ActionDayReset,
			TargetType: "station",
			TargetID:   stationID,
			StationID:  stationID,
			Success:    true,
			Details:    map[string]any{"old_version": oldV, "new_version": newV},
		})
	}
	s.invalidate("station:" + stationID + ":")
	return &ResetResult{
		StationID:    stationID,
		BusinessDate: date.Format("2006-01-02"),
		OldVersion:   oldV,
		NewVersion:   newV,
	}, nil
}

// CaseHistory returns the append-only trail for a case.
func (s *Service) CaseHistory(ctx context.Context, caseID string, limit, offset int) ([]*Event, int, error) {
	actor, _ := auth.ActorFromContext(ctx)
	c, err := s.cases.GetByCaseID(ctx, caseID)
	if err != nil {
		return nil, 0, err
	}
	if !actor.CanAccessStation(c.StationID) {
		return nil, 0, apperr.Permission("station " + c.StationID + " is outside your scope")
	}
	return s.acks.ListEventsForCase(ctx, caseID, limit, offset)
}

// authorize consults the policy and records denials in the audit trail
// regardless of what the caller does next.
func (s *Service) authorize(ctx context.Context, actor auth.Actor, action string, resource *auth.AckResource, caseID, targetID string) error {
	decision := s.policy.Authorize(ctx, action, resource)
	if decision.Allowed {
		return nil
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			ActorID:    actor.UserID,
			ActorRoles: actor.Roles,
			Action:     action,
			TargetType: "case",
			TargetID:   caseID,
			StationID:  resource.StationID,
			Success:    false,
			Details:    map[string]any{"denied": decision.Reason, "target": targetID},
		})
	}
	return apperr.Permission(decision.Reason)
}
