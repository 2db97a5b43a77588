package calendar

import (
	"encoding/json"
	"fmt"
)

// Calendar type discriminators used by the JSON envelope and the persistent
// store's qrtz_calendars rows.
const (
	TypeAnnual  = "annual"
	TypeMonthly = "monthly"
	TypeWeekly  = "weekly"
	TypeDaily   = "daily"
	TypeCron    = "cron"
	TypeHoliday = "holiday"
)

type envelope struct {
	Type string          `json:"type"`
	Base json.RawMessage `json:"base,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Encode serialises a calendar (and its base chain) to JSON.
func Encode(c Calendar) ([]byte, error) {
	env := envelope{}
	switch c.(type) {
	case *AnnualCalendar:
		env.Type = TypeAnnual
	case *MonthlyCalendar:
		env.Type = TypeMonthly
	case *WeeklyCalendar:
		env.Type = TypeWeekly
	case *DailyCalendar:
		env.Type = TypeDaily
	case *CronCalendar:
		env.Type = TypeCron
	case *HolidayCalendar:
		env.Type = TypeHoliday
	default:
		return nil, fmt.Errorf("unknown calendar type %T", c)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s calendar: %w", env.Type, err)
	}
	env.Data = data

	if base := c.Base(); base != nil {
		raw, err := Encode(base)
		if err != nil {
			return nil, err
		}
		env.Base = raw
	}
	return json.Marshal(env)
}

// Decode restores a calendar serialised by Encode.
func Decode(raw []byte) (Calendar, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal calendar envelope: %w", err)
	}

	var c Calendar
	switch env.Type {
	case TypeAnnual:
		c = &AnnualCalendar{}
	case TypeMonthly:
		c = &MonthlyCalendar{}
	case TypeWeekly:
		c = &WeeklyCalendar{}
	case TypeDaily:
		c = &DailyCalendar{}
	case TypeCron:
		c = &CronCalendar{}
	case TypeHoliday:
		c = &HolidayCalendar{}
	default:
		return nil, fmt.Errorf("unknown calendar type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, c); err != nil {
		return nil, fmt.Errorf("unmarshal %s calendar: %w", env.Type, err)
	}
	if cron, ok := c.(*CronCalendar); ok {
		if err := cron.compile(); err != nil {
			return nil, err
		}
	}

	if len(env.Base) > 0 {
		base, err := Decode(env.Base)
		if err != nil {
			return nil, err
		}
		switch v := c.(type) {
		case *AnnualCalendar:
			v.SetBase(base)
		case *MonthlyCalendar:
			v.SetBase(base)
		case *WeeklyCalendar:
			v.SetBase(base)
		case *DailyCalendar:
			v.SetBase(base)
		case *CronCalendar:
			v.SetBase(base)
		case *HolidayCalendar:
			v.SetBase(base)
		}
	}
	return c, nil
}
