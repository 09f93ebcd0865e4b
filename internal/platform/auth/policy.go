package auth

import (
	"context"
	"fmt"
)

// Actions evaluated by the policy engine.
const (
	ActionAckRule   = "ack:rule"
	ActionAckCase   = "ack:case"
	ActionAckUndo   = "ack:undo"
	ActionDayReset  = "day:reset"
	ActionRuleAdmin = "rules:admin"
)

// AckResource carries the attributes the policy needs to decide an
// acknowledgment write: which station the case belongs to, who is responsible
// for it, and any per-rule restriction from the catalog.
type AckResource struct {
	StationID         string
	ResponsiblePerson string
	// AckRoles is an explicit allow-list from the rule definition; empty
	// means no role restriction beyond the base permission.
	AckRoles []string
	// ResponsibleOnly restricts rule acks to the case's responsible person
	// or a lead.
	ResponsibleOnly bool
}

// Decision is the result of a policy evaluation. Reason is caller-safe.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Policy is the single authorization entry point for every core write path.
// Keeping all gates here — rather than scattered role checks in handlers —
// makes the rules auditable in one place.
type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// Authorize evaluates whether the actor in ctx may perform action on the
// given resource. A nil resource is valid for actions that need no resource
// attributes (day reset, rule admin).
func (p *Policy) Authorize(ctx context.Context, action string, resource *AckResource) Decision {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return deny("not authenticated")
	}

	if resource != nil && resource.StationID != "" && !actor.CanAccessStation(resource.StationID) {
		return deny("station %s outside actor scope", resource.StationID)
	}

	switch action {
	case ActionAckRule:
		if !actor.HasPermission(PermAckWrite) {
			return deny("permission %s required", PermAckWrite)
		}
		if resource == nil {
			return allow()
		}
		if len(resource.AckRoles) > 0 && !actor.HasRole("lead") && !actor.HasRole(resource.AckRoles...) {
			return deny("rule restricted to roles %v", resource.AckRoles)
		}
		if resource.ResponsibleOnly && !actor.HasRole("lead") && actor.UserID != resource.ResponsiblePerson {
			return deny("rule restricted to the case's responsible person or a lead")
		}
		return allow()

	case ActionAckCase:
		// Closing out a whole case is reserved for leads.
		if !actor.HasPermission(PermAckWrite) {
			return deny("permission %s required", PermAckWrite)
		}
		if !actor.HasRole("lead") {
			return deny("case-level acknowledgment requires the lead role")
		}
		return allow()

	case ActionAckUndo:
		if !actor.HasPermission(PermAckWrite) {
			return deny("permission %s required", PermAckWrite)
		}
		return allow()

	case ActionDayReset:
		if !actor.HasPermission(PermDayReset) {
			return deny("permission %s required", PermDayReset)
		}
		return allow()

	case ActionRuleAdmin:
		if !actor.HasPermission(PermRuleAdmin) {
			return deny("permission %s required", PermRuleAdmin)
		}
		return allow()
	}

	return deny("unknown action %s", action)
}
