package models

import "time"

// Role determines which side of the reporting workflow a user is on.
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleAuthority Role = "authority"
	RoleAdmin     Role = "admin"
)

// IsAuthority reports whether the role passes authority-only checks.
// Admin implies authority everywhere.
func (r Role) IsAuthority() bool {
	return r == RoleAuthority || r == RoleAdmin
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleCitizen || r == RoleAuthority || r == RoleAdmin
}

// Status is a report's position in the fixed lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// transitions is the single source of truth for the status lifecycle.
// Resolved and rejected are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusResolved, StatusRejected},
	StatusInProgress: {StatusResolved, StatusRejected},
	StatusResolved:   {},
	StatusRejected:   {},
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// A same-status "transition" is not allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// HazardType is the closed set of report classifications, matching the
// detector's class map.
type HazardType string

const (
	HazardPothole           HazardType = "pothole"
	HazardRoadCracks        HazardType = "road_cracks"
	HazardOpenManhole       HazardType = "open_manhole"
	HazardDebris            HazardType = "debris"
	HazardFlooding          HazardType = "flooding"
	HazardTrafficLightIssue HazardType = "traffic_light_issue"
	HazardSignageDamage     HazardType = "signage_damage"
	HazardCattleOnRoad      HazardType = "cattle_on_road"
	HazardOther             HazardType = "other"
)

var hazardTypes = map[HazardType]struct{}{
	HazardPothole: {}, HazardRoadCracks: {}, HazardOpenManhole: {},
	HazardDebris: {}, HazardFlooding: {}, HazardTrafficLightIssue: {},
	HazardSignageDamage: {}, HazardCattleOnRoad: {}, HazardOther: {},
}

// Valid reports whether the hazard type is one of the known values.
func (h HazardType) Valid() bool {
	_, ok := hazardTypes[h]
	return ok
}

// Priority is the canonical priority scale.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// VoteType is the kind of vote a user casts on a report.
type VoteType string

const (
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// Valid reports whether the vote type is one of the known values.
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// User represents a user in the system
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Report represents a citizen hazard report
type Report struct {
	ID              string     `json:"id"`
	AuthorID        string     `json:"author_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	HazardType      HazardType `json:"hazard_type"`
	ConfidenceScore float64    `json:"confidence_score"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Address         string     `json:"address,omitempty"`
	MediaURLs       []string   `json:"media_urls"`
	MediaTypes      []string   `json:"media_types"`
	Status          Status     `json:"status"`
	Priority        Priority   `json:"priority"`
	AssigneeID      *string    `json:"assignee_id,omitempty"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty"`
	DuplicateOf     *string    `json:"duplicate_of,omitempty"`
	Upvotes         int        `json:"upvotes"`
	Downvotes       int        `json:"downvotes"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// DistanceMeters is filled only by radius queries.
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// StatusHistory is an immutable audit record of a status change
type StatusHistory struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote is one user's vote on one report
type Vote struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	UserID    string    `json:"user_id"`
	VoteType  VoteType  `json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}

// PushToken is a registered device token for push delivery
type PushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
