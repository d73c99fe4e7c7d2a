// Package timing maps extracted medication frequency text to dosing time
// windows using a fixed precedence of rules.
package timing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TimeOfDay is a clock time expressed as minutes since midnight.
type TimeOfDay int

// T builds a TimeOfDay from an hour and minute.
func T(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Window is a labeled dosing opportunity within a day. Start never exceeds End.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
	Label string    `json:"label"`
}

// Range renders the window bounds as "HH:MM - HH:MM".
func (w Window) Range() string {
	return w.Start.String() + " - " + w.End.String()
}

// The fixed window vocabulary.
var (
	Morning    = Window{Start: T(7, 0), End: T(10, 0), Label: "Morning"}
	MidMorning = Window{Start: T(11, 0), End: T(12, 0), Label: "Mid-Morning"}
	Lunch      = Window{Start: T(12, 0), End: T(14, 0), Label: "Lunch"}
	Evening    = Window{Start: T(16, 0), End: T(18, 0), Label: "Evening"}
	Night      = Window{Start: T(19, 0), End: T(22, 0), Label: "Night"}
)

// Meal instruction values carried on medication entries.
const (
	MealBefore = "before food"
	MealAfter  = "after food"
	MealWith   = "with food"
)

var beforeMealWindows = []Window{
	{Start: T(6, 30), End: T(7, 30), Label: "Before breakfast"},
	{Start: T(11, 30), End: T(12, 30), Label: "Before lunch"},
	{Start: T(18, 30), End: T(19, 30), Label: "Before dinner"},
}

var afterMealWindows = []Window{
	{Start: T(8, 30), End: T(9, 30), Label: "After breakfast"},
	{Start: T(13, 30), End: T(14, 30), Label: "After lunch"},
	{Start: T(20, 30), End: T(21, 30), Label: "After dinner"},
}

var withMealWindows = []Window{
	{Start: T(7, 30), End: T(8, 30), Label: "With breakfast"},
	{Start: T(12, 30), End: T(13, 30), Label: "With lunch"},
	{Start: T(19, 30), End: T(20, 30), Label: "With dinner"},
}

var (
	reMorningCount   = regexp.MustCompile(`(\d+)\s*morning`)
	reAfternoonCount = regexp.MustCompile(`(\d+)\s*(?:afternoon|aft)`)
	reEveningCount   = regexp.MustCompile(`(\d+)\s*(?:evening|eve)`)
	reNightCount     = regexp.MustCompile(`(\d+)\s*night`)

	reTriad = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*-\s*(\d+)`)

	reFourTimes  = regexp.MustCompile(`four\s*times|4\s*times|\b(?:qid|qds)\b`)
	reThreeTimes = regexp.MustCompile(`three\s*times|3\s*times|\b(?:tid|tds)\b`)
	reTwice      = regexp.MustCompile(`twice|2\s*times|\b(?:bid|bd)\b`)
	reOnce       = regexp.MustCompile(`daily|\b(?:qd|od)\b`)

	reAsNeeded = regexp.MustCompile(`when\s*required|as\s*needed|\b(?:prn|sos)\b`)

	reBeforeMeals = regexp.MustCompile(`before\s*meals?|\bac\b`)
	reAfterMeals  = regexp.MustCompile(`after\s*meals?|\bpc\b`)
	reWithMeals   = regexp.MustCompile(`with\s*meals?`)

	reEveryHours = regexp.MustCompile(`every\s*(\d+)\s*hours?|\bq(\d+)h\b`)
)

// Infer maps a frequency string and an optional meal instruction to an
// ordered, never-empty list of dosing windows. Rules are evaluated in a fixed
// precedence; the first that matches wins.
func Infer(frequency, mealInstruction string) []Window {
	freq := strings.ToLower(strings.TrimSpace(frequency))

	if freq == "" {
		if w := mealWindows(mealInstruction); w != nil {
			return w
		}
		return []Window{Morning}
	}

	if w := dayPartWindows(freq); w != nil {
		return w
	}
	if w := triadWindows(freq); w != nil {
		return w
	}
	if w := canonicalWindows(freq); w != nil {
		return w
	}
	if reAsNeeded.MatchString(freq) {
		// Availability reminder, not a dosing schedule.
		return []Window{Morning}
	}
	if w := mealKeywordWindows(freq, mealInstruction); w != nil {
		return w
	}
	if w := hourIntervalWindows(freq); w != nil {
		return w
	}

	return []Window{Morning}
}

// dayPartWindows handles explicit counts like "1 Morning, 1 Night".
func dayPartWindows(freq string) []Window {
	morning := reMorningCount.MatchString(freq)
	afternoon := reAfternoonCount.MatchString(freq)
	evening := reEveningCount.MatchString(freq)
	night := reNightCount.MatchString(freq)

	if !morning && !afternoon && !evening && !night {
		return nil
	}

	var windows []Window
	if morning {
		windows = append(windows, Morning)
	}
	if afternoon {
		windows = append(windows, Lunch)
	}
	if evening {
		windows = append(windows, Evening)
	}
	if night {
		windows = append(windows, Night)
	}
	return windows
}

// triadWindows handles the numeric "A-B-C" notation, morning-afternoon-night.
func triadWindows(freq string) []Window {
	m := reTriad.FindStringSubmatch(freq)
	if m == nil {
		return nil
	}

	morning, _ := strconv.Atoi(m[1])
	afternoon, _ := strconv.Atoi(m[2])
	night, _ := strconv.Atoi(m[3])

	var windows []Window
	if morning > 0 {
		windows = append(windows, Morning)
	}
	if afternoon > 0 {
		windows = append(windows, Lunch)
	}
	if night > 0 {
		windows = append(windows, Night)
	}
	if len(windows) == 0 {
		return []Window{Morning}
	}
	return windows
}

// canonicalWindows handles the standard frequency keywords. Multi-dose
// keywords are checked first: "twice daily" must not fall into the bare
// "daily" case.
func canonicalWindows(freq string) []Window {
	switch {
	case reFourTimes.MatchString(freq):
		return []Window{Morning, MidMorning, Lunch, Night}
	case reThreeTimes.MatchString(freq):
		return []Window{Morning, Lunch, Night}
	case reTwice.MatchString(freq):
		return []Window{Morning, Night}
	case reOnce.MatchString(freq):
		switch {
		case strings.Contains(freq, "morning"):
			return []Window{Morning}
		case strings.Contains(freq, "evening"):
			return []Window{Evening}
		case strings.Contains(freq, "night"):
			return []Window{Night}
		default:
			return []Window{Morning}
		}
	}
	return nil
}

func mealKeywordWindows(freq, mealInstruction string) []Window {
	switch {
	case reBeforeMeals.MatchString(freq):
		return beforeMealWindows
	case reAfterMeals.MatchString(freq):
		return afterMealWindows
	case reWithMeals.MatchString(freq):
		return withMealWindows
	}
	return mealWindows(mealInstruction)
}

func mealWindows(mealInstruction string) []Window {
	switch mealInstruction {
	case MealBefore:
		return beforeMealWindows
	case MealAfter:
		return afterMealWindows
	case MealWith:
		return withMealWindows
	}
	return nil
}

// hourIntervalWindows expands "every N hours" (and the qNh codes) into
// one-hour windows from 08:00, stepping by the interval until the next step
// would reach midnight. A malformed interval falls back to the
// three-times-daily windows.
func hourIntervalWindows(freq string) []Window {
	if !strings.Contains(freq, "hour") && !reEveryHours.MatchString(freq) {
		return nil
	}

	m := reEveryHours.FindStringSubmatch(freq)
	if m == nil {
		return []Window{Morning, Lunch, Night}
	}

	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	interval, err := strconv.Atoi(digits)
	if err != nil || interval <= 0 {
		return []Window{Morning, Lunch, Night}
	}

	var windows []Window
	for start := T(8, 0); start < T(24, 0); start += TimeOfDay(interval * 60) {
		end := start + 60
		if end > T(23, 59) {
			end = T(23, 59)
		}
		windows = append(windows, Window{
			Start: start,
			End:   end,
			Label: start.String() + " window",
		})
	}
	return windows
}
