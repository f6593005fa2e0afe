package attendance

import "time"

const (
	basePoints    = 10
	earlyBonus    = 5
	latePenalty   = 3
	livenessBonus = 2
	minimumPoints = 1
	earlyBefore   = 8*time.Hour + 30*time.Minute
	lateAfter     = 9 * time.Hour
)

// Points scores an arrival. Arrivals strictly before 08:30 earn the early bonus, strictly after 09:00 the
// late penalty; [08:30, 09:00] is neutral. Every accepted arrival earns at least one point.
func Points(timeIn time.Time, livenessVerified bool) int {
	sinceMidnight := clockOffset(timeIn)

	points := basePoints
	if sinceMidnight < earlyBefore {
		points += earlyBonus
	} else if sinceMidnight > lateAfter {
		points -= latePenalty
	}
	if livenessVerified {
		points += livenessBonus
	}
	return max(points, minimumPoints)
}

// clockOffset is the wall-clock time of day in t's own location.
func clockOffset(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}
