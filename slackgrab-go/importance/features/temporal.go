package features

import "time"

const recencyWindow = 7 * 24 * time.Hour

type temporalFeatures struct {
	loc *time.Location
}

// extract fills out[0:5]: hour of day, ISO weekday, business hours,
// recency and weekend.
func (t temporalFeatures) extract(posted, now time.Time, out []float64) {
	local := posted.In(t.loc)
	hour := local.Hour()
	weekday := isoWeekday(local.Weekday())
	weekend := weekday >= 6

	out[0] = float64(hour) / 24
	out[1] = float64(weekday-1) / 6
	out[2] = boolFeature(!weekend && hour >= 9 && hour < 17)

	age := now.Sub(posted)
	if age < 0 {
		age = 0
	}
	out[3] = 1 - capped(float64(age), float64(recencyWindow))
	out[4] = boolFeature(weekend)
}

// isoWeekday maps Monday to 1 and Sunday to 7.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}
