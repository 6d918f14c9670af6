package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical text form of a calendar date in the ledger.
const DateLayout = "2006/01/02"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02",
	"2006/1/2",
	"2006-1-2",
}

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a normalized date, so NewDate(2025, 1, 32) is February 1st.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts "2006/01/02" and "2006-01-02" (leading zeros optional).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("cannot parse date %q, expected YYYY/MM/DD", s)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(DateLayout)
}

func (d Date) Weekday() Weekday {
	return WeekdayOf(d.Time().Weekday())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	return d.Time().Compare(o.Time())
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// StartOfWeek returns the Monday of d's week.
func (d Date) StartOfWeek() Date {
	return d.AddDays(-(int(d.Weekday()) - int(Monday)))
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Weekday numbers follow ISO 8601: Monday=1 ... Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// weekdayLabels are the labels used by the existing schedule spreadsheets.
var weekdayLabels = [...]string{"", "週一", "週二", "週三", "週四", "週五", "週六", "週日"}

var weekdayAliases = map[string]Weekday{
	"monday": Monday, "tuesday": Tuesday, "wednesday": Wednesday, "thursday": Thursday,
	"friday": Friday, "saturday": Saturday, "sunday": Sunday,
	"星期一": Monday, "星期二": Tuesday, "星期三": Wednesday, "星期四": Thursday,
	"星期五": Friday, "星期六": Saturday, "星期日": Sunday,
}

// WeekdayOf converts Go's Sunday-first weekday.
func WeekdayOf(w time.Weekday) Weekday {
	if w == time.Sunday {
		return Sunday
	}
	return Weekday(w)
}

// ParseWeekday accepts English names ("Wed", "wednesday"), ISO numbers ("3")
// and spreadsheet labels ("週三").
func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	for i := Monday; i <= Sunday; i++ {
		if strings.EqualFold(s, weekdayNames[i]) || s == weekdayLabels[i] {
			return i, nil
		}
	}
	if w, ok := weekdayAliases[strings.ToLower(s)]; ok {
		return w, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 7 {
		return Weekday(n), nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// IsWorkday reports Monday through Friday.
func (w Weekday) IsWorkday() bool {
	return w >= Monday && w <= Friday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// Label returns the spreadsheet label, e.g. "週三".
func (w Weekday) Label() string {
	if !w.Valid() {
		return ""
	}
	return weekdayLabels[w]
}

// NextOnOrAfter returns the first date ≥ d falling on w.
func (w Weekday) NextOnOrAfter(d Date) Date {
	delta := (int(w) - int(d.Weekday()) + 7) % 7
	return d.AddDays(delta)
}

func (w Weekday) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Weekday) UnmarshalText(b []byte) error {
	parsed, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
