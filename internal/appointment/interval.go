package appointment

import "time"

// Overlaps reports whether the half-open ranges [aStart, aEnd) and [bStart, bEnd)
// intersect. Back-to-back ranges do not overlap. Both ranges must satisfy end > start.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aEnd.After(bStart) && aStart.Before(bEnd)
}

// dayOf truncates t to midnight in its own location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
