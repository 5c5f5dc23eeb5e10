package market

import "time"

// cst is the exchange timezone. time.FixedZone avoids depending on the
// host's tzdata.
var cst = time.FixedZone("CST", 8*3600)

// session window minutes-of-day: 09:30-11:30 and 13:00-15:00
const (
	morningOpen    = 9*60 + 30
	morningClose   = 11*60 + 30
	afternoonOpen  = 13 * 60
	afternoonClose = 15 * 60
)

// IsTradingDay reports whether t falls on a weekday.
// Exchange holidays are not modeled; the bridge simply returns no fills
// on a holiday, which the callers already tolerate.
func IsTradingDay(t time.Time) bool {
	wd := t.In(cst).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsSessionOpen reports whether t is inside a trading session
func IsSessionOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	local := t.In(cst)
	mins := local.Hour()*60 + local.Minute()
	if mins >= morningOpen && mins < morningClose {
		return true
	}
	return mins >= afternoonOpen && mins < afternoonClose
}
