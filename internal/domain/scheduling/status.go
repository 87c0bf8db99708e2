package scheduling

import "github.com/shikaclinic/clinic/internal/platform/apperr"

type Status string

const (
	StatusTentative  Status = "tentative"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var validStatuses = map[Status]bool{
	StatusTentative: true, StatusConfirmed: true, StatusCheckedIn: true,
	StatusInProgress: true, StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// transitions is the modeled lifecycle. Admin edits may still set any
// status; moves outside this graph are only reported.
var transitions = map[Status][]Status{
	StatusTentative:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// Modeled reports whether from -> to is part of the lifecycle graph.
// Setting the current status again is always modeled.
func Modeled(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes what a status change will do.
type Transition struct {
	From    Status
	To      Status
	Modeled bool
	// CheckIn is set when the change must stamp checked_in_at and enqueue
	// a waiting-list entry.
	CheckIn bool
}

// Plan validates the target status and reports the transition. It rejects
// unknown statuses only.
func Plan(from, to Status) (Transition, error) {
	if !to.Valid() {
		return Transition{}, apperr.Validation("plan transition", "invalid status: "+string(to))
	}
	return Transition{
		From:    from,
		To:      to,
		Modeled: Modeled(from, to),
		CheckIn: to == StatusCheckedIn,
	}, nil
}
