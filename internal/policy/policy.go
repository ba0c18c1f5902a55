// Package policy centralizes role- and ownership-based authorization for
// reports. Handlers and services ask Can(actor, action, report) instead of
// scattering role conditionals.
package policy

import (
	"civic-hazard-backend/internal/models"
)

// Action is an operation an actor can attempt on a report.
type Action string

const (
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionTransition Action = "transition"
	ActionDelete     Action = "delete"
	ActionVote       Action = "vote"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
}

// IsAuthority reports whether the actor passes authority-only checks.
func (a Actor) IsAuthority() bool {
	return a.Role.IsAuthority()
}

// Decision is the outcome of an authorization check. Hidden denials are
// reported as not-found to avoid leaking report existence to non-owners.
type Decision int

const (
	Allow Decision = iota
	Deny
	Hide
)

// Can decides whether actor may perform action on the report.
func Can(actor Actor, action Action, report *models.Report) Decision {
	owns := report != nil && report.AuthorID == actor.ID

	switch action {
	case ActionRead:
		if actor.IsAuthority() || owns {
			return Allow
		}
		return Hide

	case ActionUpdate:
		if actor.IsAuthority() {
			return Allow
		}
		if !owns {
			return Hide
		}
		// Citizens may edit only while the report has not been picked up.
		if report.Status != models.StatusPending {
			return Deny
		}
		return Allow

	case ActionTransition:
		if actor.IsAuthority() {
			return Allow
		}
		return Deny

	case ActionDelete:
		// Citizen-only: authorities go through the rejection transition.
		if actor.IsAuthority() {
			return Deny
		}
		if !owns {
			return Hide
		}
		if report.Status != models.StatusPending {
			return Deny
		}
		return Allow

	case ActionVote:
		return Allow
	}

	return Deny
}
