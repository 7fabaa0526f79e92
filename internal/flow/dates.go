package flow

import (
	"strings"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
)

// dayInputLayouts are the accepted calendar-date spellings, tried in order
// after separator normalization. Day comes before month.
//
// The two-digit-year layout comes before the four-digit one: the year verb
// "2006" accepts any digit run, so it would misread "1.2.26" as year 26.
var dayInputLayouts = []string{
	"2.1.06",
	"2.1.2006",
	"2.1",
	"2006.1.2",
	"2 January 2006",
	"2 January",
}

// ParseDayInput interprets free-text day input in the user's location.
// "today" and "yesterday" are resolved against now; numeric dates read as
// day-month-year with ".", "/" or "-" as separators. Layouts without a
// year use now's year. The result is midnight of that day in loc.
func ParseDayInput(text string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	switch s {
	case "today":
		return midnight(now, loc), nil
	case "yesterday":
		return midnight(now.AddDate(0, 0, -1), loc), nil
	}

	normalized := strings.NewReplacer("/", ".", "-", ".").Replace(strings.TrimSpace(text))
	for _, layout := range dayInputLayouts {
		t, err := time.ParseInLocation(layout, normalized, loc)
		if err != nil {
			// Month-name layouts keep their spaces.
			t, err = time.ParseInLocation(layout, strings.TrimSpace(text), loc)
		}
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		}
		return midnight(t, loc), nil
	}
	return time.Time{}, models.NewValidationError("cannot read %q as a date", text)
}

// clockLayouts are the accepted time-of-day spellings.
var clockLayouts = []string{"15:04", "15.04", "15:04:05", "1504"}

// ParseClock interprets free-text time-of-day input, returning hour and
// minute.
func ParseClock(text string) (hour, minute int, err error) {
	s := strings.TrimSpace(text)
	for _, layout := range clockLayouts {
		t, parseErr := time.Parse(layout, s)
		if parseErr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, models.NewValidationError("cannot read %q as a time", text)
}

// midnight truncates t to the start of its calendar day in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	in := t.In(loc)
	return time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, loc)
}
