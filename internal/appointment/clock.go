package appointment

import "time"

// WallClock keeps the reading of t and pins it to UTC so comparisons ignore zones.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// LocalClock reads the process clock in its local zone as a wall-clock time.
func LocalClock() time.Time {
	return WallClock(time.Now())
}
