package app

import "sgid/api/internal/rbac"

const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusInReview   = "in_review"
	StatusApproved   = "approved"
	StatusArchived   = "archived"
)

// statusTransitions lists the statuses reachable from each status. The first
// section save moves draft to in_progress in the store itself.
var statusTransitions = map[string][]string{
	StatusDraft:      {StatusInProgress, StatusInReview, StatusArchived},
	StatusInProgress: {StatusInReview, StatusArchived},
	StatusInReview:   {StatusInProgress, StatusApproved, StatusArchived},
	StatusApproved:   {StatusArchived},
	StatusArchived:   {},
}

func nextStatuses(from string) []string {
	next, ok := statusTransitions[from]
	if !ok {
		return []string{}
	}
	return next
}

func canTransition(from, to string) bool {
	for _, candidate := range statusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// transitionAction is the permission a move requires.
func transitionAction(from, to string) rbac.Action {
	switch {
	case to == StatusApproved:
		return rbac.ActionApprove
	case to == StatusArchived:
		return rbac.ActionManage
	case from == StatusInReview:
		return rbac.ActionReview
	default:
		return rbac.ActionWrite
	}
}

// editableStatus reports whether section content may still change.
func editableStatus(status string) bool {
	return status != StatusApproved && status != StatusArchived
}
