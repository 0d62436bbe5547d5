package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dayOrdinals maps lowercase day names onto time.Weekday ordinals,
// Sunday=0 through Saturday=6.
var dayOrdinals = map[string]int{
	"sunday":    0,
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
}

// DayOrdinal resolves a day-of-week name to its ordinal. Unrecognised names
// fall back to Monday rather than failing, so a corrupt settings row degrades
// to a sane schedule instead of never firing.
func DayOrdinal(name string) int {
	if ordinal, ok := dayOrdinals[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ordinal
	}
	return dayOrdinals["monday"]
}

// ParseScheduleTime splits an HH:MM schedule time into hour and minute
func ParseScheduleTime(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid schedule time %q", value)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid schedule hour %q", value)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid schedule minute %q", value)
	}

	return hour, minute, nil
}

// scheduleMatches reports whether the given instant is exactly the account's
// scheduled day, hour and minute. Times are compared in UTC.
func scheduleMatches(now time.Time, scheduleDay, scheduleTime string) bool {
	utc := now.UTC()

	if int(utc.Weekday()) != DayOrdinal(scheduleDay) {
		return false
	}

	hour, minute, err := ParseScheduleTime(scheduleTime)
	if err != nil {
		return false
	}

	return utc.Hour() == hour && utc.Minute() == minute
}
