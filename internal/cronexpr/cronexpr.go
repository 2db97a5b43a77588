// Package cronexpr evaluates Quartz-style cron expressions: seven fields
// (seconds, minutes, hours, day-of-month, month, day-of-week, optional year)
// with support for ranges, steps, lists, name aliases, '?', 'L', 'W' and '#'.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxYear guards the search loop; expressions never resolve past it.
const maxYear = 2299

// Expression is a parsed cron expression bound to a timezone. Evaluation
// happens in wall-clock time of that zone; results are returned in it.
type Expression struct {
	source string
	loc    *time.Location

	seconds uint64
	minutes uint64
	hours   uint64
	months  uint64
	years   map[int]bool // nil means every year

	dom domField
	dow dowField
}

// domField models the day-of-month field.
type domField struct {
	unspecified bool // '?'
	star        bool
	days        uint64
	last        bool // 'L'
	lastOffset  int  // 'L-n'
	lastWeekday bool // 'LW'
	weekdayNear int  // 'nW', 0 when unset
}

// dowField models the day-of-week field. Weekdays are Quartz-numbered:
// 1 = Sunday .. 7 = Saturday.
type dowField struct {
	unspecified bool // '?'
	star        bool
	days        uint64
	lastOf      int // 'nL': last weekday n of the month, 0 when unset
	hashDay     int // 'n#k'
	hashNth     int
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
}

// Parse compiles an expression evaluated in UTC.
func Parse(expr string) (*Expression, error) {
	return ParseInLocation(expr, time.UTC)
}

// ParseInLocation compiles an expression evaluated in the given zone.
func ParseInLocation(expr string, loc *time.Location) (*Expression, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(expr)
	if len(fields) != 6 && len(fields) != 7 {
		return nil, fmt.Errorf("cron expression %q: expected 6 or 7 fields, got %d", expr, len(fields))
	}

	e := &Expression{source: expr, loc: loc}
	var err error
	if e.seconds, _, err = parseNumericField(fields[0], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("cron expression %q seconds: %w", expr, err)
	}
	if e.minutes, _, err = parseNumericField(fields[1], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("cron expression %q minutes: %w", expr, err)
	}
	if e.hours, _, err = parseNumericField(fields[2], 0, 23, nil); err != nil {
		return nil, fmt.Errorf("cron expression %q hours: %w", expr, err)
	}
	if err = e.dom.parse(fields[3]); err != nil {
		return nil, fmt.Errorf("cron expression %q day-of-month: %w", expr, err)
	}
	if e.months, _, err = parseNumericField(fields[4], 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("cron expression %q month: %w", expr, err)
	}
	if err = e.dow.parse(fields[5]); err != nil {
		return nil, fmt.Errorf("cron expression %q day-of-week: %w", expr, err)
	}
	if len(fields) == 7 {
		if err = e.parseYears(fields[6]); err != nil {
			return nil, fmt.Errorf("cron expression %q year: %w", expr, err)
		}
	}

	domSpecified := !e.dom.unspecified && !e.dom.star
	dowSpecified := !e.dow.unspecified && !e.dow.star
	if domSpecified && dowSpecified {
		return nil, fmt.Errorf("cron expression %q: day-of-month and day-of-week cannot both be specified; use '?' in one", expr)
	}
	return e, nil
}

// MustParse is Parse that panics; for tests and literals.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source expression.
func (e *Expression) String() string { return e.source }

// Location returns the evaluation zone.
func (e *Expression) Location() *time.Location { return e.loc }

// Next returns the earliest instant strictly after t that satisfies the
// expression; ok is false when no such instant exists before the far-future
// guard year.
func (e *Expression) Next(t time.Time) (time.Time, bool) {
	// Step past sub-second remainder so the result is strictly later.
	c := t.In(e.loc).Truncate(time.Second).Add(time.Second)
	if c.Before(t) {
		c = c.Add(time.Second)
	}
	for {
		if c.Year() > maxYear {
			return time.Time{}, false
		}
		if e.years != nil && !e.years[c.Year()] {
			if y, ok := e.nextYear(c.Year()); ok {
				c = time.Date(y, time.January, 1, 0, 0, 0, 0, e.loc)
				continue
			}
			return time.Time{}, false
		}
		if !bitSet(e.months, int(c.Month())) {
			c = time.Date(c.Year(), c.Month(), 1, 0, 0, 0, 0, e.loc).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(c) {
			c = time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, e.loc).AddDate(0, 0, 1)
			continue
		}
		if !bitSet(e.hours, c.Hour()) {
			c = time.Date(c.Year(), c.Month(), c.Day(), c.Hour(), 0, 0, 0, e.loc).Add(time.Hour)
			continue
		}
		if !bitSet(e.minutes, c.Minute()) {
			c = c.Truncate(time.Minute).Add(time.Minute)
			continue
		}
		if !bitSet(e.seconds, c.Second()) {
			c = c.Add(time.Second)
			continue
		}
		return c, true
	}
}

// IsSatisfiedBy reports whether t (truncated to the second) matches the
// expression.
func (e *Expression) IsSatisfiedBy(t time.Time) bool {
	c := t.In(e.loc)
	if e.years != nil && !e.years[c.Year()] {
		return false
	}
	return bitSet(e.months, int(c.Month())) &&
		e.dayMatches(c) &&
		bitSet(e.hours, c.Hour()) &&
		bitSet(e.minutes, c.Minute()) &&
		bitSet(e.seconds, c.Second())
}

func (e *Expression) nextYear(after int) (int, bool) {
	for y := after + 1; y <= maxYear; y++ {
		if e.years[y] {
			return y, true
		}
	}
	return 0, false
}

func (e *Expression) dayMatches(t time.Time) bool {
	domSpecified := !e.dom.unspecified && !e.dom.star
	dowSpecified := !e.dow.unspecified && !e.dow.star
	switch {
	case domSpecified:
		return e.dom.matches(t)
	case dowSpecified:
		return e.dow.matches(t)
	default:
		return true
	}
}

func (f *domField) parse(field string) error {
	switch {
	case field == "?":
		f.unspecified = true
		return nil
	case field == "*":
		f.star = true
		return nil
	case field == "L":
		f.last = true
		return nil
	case field == "LW":
		f.lastWeekday = true
		return nil
	case strings.HasPrefix(field, "L-"):
		n, err := strconv.Atoi(field[2:])
		if err != nil || n < 1 || n > 30 {
			return fmt.Errorf("invalid offset in %q", field)
		}
		f.last = true
		f.lastOffset = n
		return nil
	case strings.HasSuffix(field, "W"):
		n, err := strconv.Atoi(strings.TrimSuffix(field, "W"))
		if err != nil || n < 1 || n > 31 {
			return fmt.Errorf("invalid day in %q", field)
		}
		f.weekdayNear = n
		return nil
	}
	days, star, err := parseNumericField(field, 1, 31, nil)
	if err != nil {
		return err
	}
	f.days = days
	f.star = star
	return nil
}

func (f *domField) matches(t time.Time) bool {
	last := lastDayOfMonth(t)
	switch {
	case f.lastWeekday:
		return t.Day() == nearestWeekday(t, last)
	case f.last:
		return t.Day() == last-f.lastOffset
	case f.weekdayNear != 0:
		target := f.weekdayNear
		if target > last {
			target = last
		}
		return t.Day() == nearestWeekday(t, target)
	default:
		return bitSet(f.days, t.Day())
	}
}

func (f *dowField) parse(field string) error {
	switch {
	case field == "?":
		f.unspecified = true
		return nil
	case field == "*":
		f.star = true
		return nil
	case field == "L":
		// A bare L in day-of-week means Saturday.
		f.days = 1 << 7
		return nil
	}
	if i := strings.IndexByte(field, '#'); i >= 0 {
		day, err := parseDayToken(field[:i])
		if err != nil {
			return err
		}
		nth, err := strconv.Atoi(field[i+1:])
		if err != nil || nth < 1 || nth > 5 {
			return fmt.Errorf("invalid nth in %q", field)
		}
		f.hashDay = day
		f.hashNth = nth
		return nil
	}
	if strings.HasSuffix(field, "L") {
		day, err := parseDayToken(strings.TrimSuffix(field, "L"))
		if err != nil {
			return err
		}
		f.lastOf = day
		return nil
	}
	days, star, err := parseNumericField(field, 1, 7, dayNames)
	if err != nil {
		return err
	}
	f.days = days
	f.star = star
	return nil
}

func (f *dowField) matches(t time.Time) bool {
	quartzDay := int(t.Weekday()) + 1
	switch {
	case f.lastOf != 0:
		return quartzDay == f.lastOf && t.Day() > lastDayOfMonth(t)-7
	case f.hashDay != 0:
		return quartzDay == f.hashDay && (t.Day()-1)/7+1 == f.hashNth
	default:
		return bitSet(f.days, quartzDay)
	}
}

func (e *Expression) parseYears(field string) error {
	if field == "*" {
		return nil
	}
	e.years = make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseRange(part, 1970, maxYear, nil)
		if err != nil {
			return err
		}
		for y := lo; y <= hi; y += step {
			e.years[y] = true
		}
	}
	return nil
}

// parseNumericField handles lists, ranges, steps and name aliases for the
// bitset-valued fields.
func parseNumericField(field string, min, max int, names map[string]int) (uint64, bool, error) {
	if field == "*" {
		var bits uint64
		for v := min; v <= max; v++ {
			bits |= 1 << uint(v)
		}
		return bits, true, nil
	}
	var bits uint64
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseRange(part, min, max, names)
		if err != nil {
			return 0, false, err
		}
		for v := lo; v <= hi; v += step {
			bits |= 1 << uint(v)
		}
	}
	return bits, false, nil
}

// parseRange parses "a", "a-b", "a/s", "a-b/s" or "*/s".
func parseRange(part string, min, max int, names map[string]int) (lo, hi, step int, err error) {
	step = 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		step, err = strconv.Atoi(part[i+1:])
		if err != nil || step < 1 {
			return 0, 0, 0, fmt.Errorf("invalid step in %q", part)
		}
		part = part[:i]
		if part == "*" {
			return min, max, step, nil
		}
		// "a/s" means a..max by s.
		if !strings.Contains(part, "-") {
			lo, err = parseValue(part, min, max, names)
			if err != nil {
				return 0, 0, 0, err
			}
			return lo, max, step, nil
		}
	}
	if i := strings.IndexByte(part, '-'); i > 0 {
		lo, err = parseValue(part[:i], min, max, names)
		if err != nil {
			return 0, 0, 0, err
		}
		hi, err = parseValue(part[i+1:], min, max, names)
		if err != nil {
			return 0, 0, 0, err
		}
		if hi < lo {
			return 0, 0, 0, fmt.Errorf("inverted range %q", part)
		}
		return lo, hi, step, nil
	}
	lo, err = parseValue(part, min, max, names)
	if err != nil {
		return 0, 0, 0, err
	}
	return lo, lo, step, nil
}

func parseValue(s string, min, max int, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToUpper(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
	}
	return v, nil
}

func parseDayToken(s string) (int, error) {
	return parseValue(s, 1, 7, dayNames)
}

func bitSet(bits uint64, v int) bool { return bits&(1<<uint(v)) != 0 }

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).
		AddDate(0, 1, -1).Day()
}

// nearestWeekday returns the day-of-month of the weekday closest to target
// within t's month, never crossing a month boundary.
func nearestWeekday(t time.Time, target int) int {
	d := time.Date(t.Year(), t.Month(), target, 0, 0, 0, 0, t.Location())
	switch d.Weekday() {
	case time.Saturday:
		if target == 1 {
			return 3 // following Monday
		}
		return target - 1
	case time.Sunday:
		if target >= lastDayOfMonth(t) {
			return target - 2 // preceding Friday
		}
		return target + 1
	default:
		return target
	}
}
