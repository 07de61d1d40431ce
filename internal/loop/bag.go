package loop

import "time"

// DefaultStaleBagDays is how long a bag may go untouched before it is flagged.
const DefaultStaleBagDays = 7

// HasStaleBag reports whether any bag was last updated strictly more than
// thresholdDays calendar days before now. A bag updated exactly thresholdDays
// ago is not stale yet. A non-positive threshold selects DefaultStaleBagDays.
func HasStaleBag(bags []Bag, now time.Time, thresholdDays int) bool {
	if len(bags) == 0 {
		return false
	}
	if thresholdDays <= 0 {
		thresholdDays = DefaultStaleBagDays
	}
	cutoff := now.AddDate(0, 0, -thresholdDays)
	for _, b := range bags {
		if b.UpdatedAt.Before(cutoff) {
			return true
		}
	}
	return false
}
