package leadpulse

import "strconv"

// MaxBadgeCount is the largest count shown verbatim on a badge. Larger
// counts are shown as [OverflowBadge].
const MaxBadgeCount = 99

// OverflowBadge is the badge text for counts above [MaxBadgeCount].
const OverflowBadge = "99+"

// FormatCount returns the badge text for n.
//
// A count of zero (or a negative count) has no badge and returns ("", false).
// Counts above [MaxBadgeCount] return [OverflowBadge]. Anything else is the
// plain decimal value, without rounding or locale formatting.
func FormatCount(n int) (string, bool) {
	switch {
	case n <= 0:
		return "", false
	case n > MaxBadgeCount:
		return OverflowBadge, true
	default:
		return strconv.Itoa(n), true
	}
}
