package appointment

// transitions lists the statuses reachable from each status in one step.
// Completed, Cancelled and NoShow are terminal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusNoShow},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// checkTransition returns an *InvalidTransitionError when from -> to is not allowed.
func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
