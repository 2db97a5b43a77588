package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/job"
)

// jsonEnvelope is the wire form of a trigger: common fields plus a
// type-discriminated schedule payload. Field casing follows the persistent
// serialisation contract.
type jsonEnvelope struct {
	Type         string          `json:"Type"`
	Key          job.TriggerKey  `json:"Key"`
	JobKey       job.Key         `json:"JobKey"`
	Description  string          `json:"Description,omitempty"`
	CalendarName string          `json:"CalendarName,omitempty"`
	Priority     int             `json:"Priority"`
	Misfire      int             `json:"MisfireInstruction"`
	JobData      job.DataMap     `json:"JobData,omitempty"`
	StartTime    time.Time       `json:"StartTime"`
	EndTime      *time.Time      `json:"EndTime,omitempty"`
	NextFireTime *time.Time      `json:"NextFireTime,omitempty"`
	PrevFireTime *time.Time      `json:"PreviousFireTime,omitempty"`
	Schedule     json.RawMessage `json:"Schedule"`
}

type jsonSimple struct {
	RepeatCount    int   `json:"RepeatCount"`
	RepeatInterval int64 `json:"RepeatIntervalMillis"`
	TimesTriggered int   `json:"TimesTriggered"`
}

type jsonCron struct {
	CronExpression string `json:"CronExpression"`
	TimeZone       string `json:"TimeZone,omitempty"`
}

type jsonCalendarInterval struct {
	RepeatInterval     int    `json:"RepeatInterval"`
	RepeatIntervalUnit string `json:"RepeatIntervalUnit"`
	TimeZone           string `json:"TimeZone,omitempty"`
	PreserveHourOfDay  bool   `json:"PreserveHourOfDayAcrossDaylightSavings"`
	SkipDay            bool   `json:"SkipDayIfHourDoesNotExist"`
	TimesTriggered     int    `json:"TimesTriggered"`
}

type jsonDailyInterval struct {
	StartTimeOfDay     TimeOfDay `json:"StartTimeOfDay"`
	EndTimeOfDay       TimeOfDay `json:"EndTimeOfDay"`
	DaysOfWeek         []int     `json:"DaysOfWeek,omitempty"`
	RepeatInterval     int       `json:"RepeatInterval"`
	RepeatIntervalUnit string    `json:"RepeatIntervalUnit"`
	RepeatCount        int       `json:"RepeatCount"`
	TimeZone           string    `json:"TimeZone,omitempty"`
	TimesTriggered     int       `json:"TimesTriggered"`
}

type jsonCustomCalendar struct {
	RepeatCount        int     `json:"RepeatCount"`
	RepeatInterval     int     `json:"RepeatInterval"`
	RepeatIntervalUnit string  `json:"RepeatIntervalUnit"`
	ByMonth            int     `json:"ByMonth,omitempty"`
	ByMonthDay         *string `json:"ByMonthDay,omitempty"`
	ByDay              *string `json:"ByDay,omitempty"`
	TimeZone           string  `json:"TimeZone,omitempty"`
	TimesTriggered     int     `json:"TimesTriggered"`
}

// Encode serialises a trigger to its JSON wire form.
func Encode(t Trigger) ([]byte, error) {
	env := jsonEnvelope{
		Type:         t.Type(),
		Key:          t.Key(),
		JobKey:       t.JobKey(),
		Description:  t.Description(),
		CalendarName: t.CalendarName(),
		Priority:     t.Priority(),
		Misfire:      t.MisfireInstruction(),
		JobData:      t.JobData(),
		StartTime:    t.StartTime(),
		EndTime:      t.EndTime(),
		NextFireTime: t.NextFireTime(),
		PrevFireTime: t.PreviousFireTime(),
	}

	var payload any
	switch v := t.(type) {
	case *Simple:
		payload = jsonSimple{
			RepeatCount:    v.RepeatCount,
			RepeatInterval: v.RepeatInterval.Milliseconds(),
			TimesTriggered: v.TimesTriggered,
		}
	case *Cron:
		payload = jsonCron{CronExpression: v.Expression, TimeZone: v.Timezone}
	case *CalendarInterval:
		payload = jsonCalendarInterval{
			RepeatInterval:     v.Interval,
			RepeatIntervalUnit: string(v.IntervalUnit),
			TimeZone:           v.Timezone,
			PreserveHourOfDay:  v.PreserveHourOfDay,
			SkipDay:            v.SkipDayIfHourDoesNotExist,
			TimesTriggered:     v.TimesTriggered,
		}
	case *DailyInterval:
		days := make([]int, 0, len(v.DaysOfWeek))
		for _, d := range v.DaysOfWeek {
			days = append(days, int(d))
		}
		payload = jsonDailyInterval{
			StartTimeOfDay:     v.StartTimeOfDay,
			EndTimeOfDay:       v.EndTimeOfDay,
			DaysOfWeek:         days,
			RepeatInterval:     v.Interval,
			RepeatIntervalUnit: string(v.IntervalUnit),
			RepeatCount:        v.RepeatCount,
			TimeZone:           v.Timezone,
			TimesTriggered:     v.TimesTriggered,
		}
	case *CustomCalendar:
		payload = jsonCustomCalendar{
			RepeatCount:        v.RepeatCount,
			RepeatInterval:     v.Interval,
			RepeatIntervalUnit: string(v.IntervalUnit),
			ByMonth:            v.ByMonth,
			ByMonthDay:         optString(v.ByMonthDay),
			ByDay:              optString(v.ByDay),
			TimeZone:           v.Timezone,
			TimesTriggered:     v.TimesTriggered,
		}
	default:
		return nil, fmt.Errorf("unknown trigger type %T", t)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schedule: %w", env.Type, err)
	}
	env.Schedule = raw
	return json.Marshal(env)
}

// Decode restores a trigger serialised by Encode.
func Decode(raw []byte) (Operable, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal trigger envelope: %w", err)
	}

	var t Operable
	switch env.Type {
	case TypeSimple:
		var p jsonSimple
		if err := json.Unmarshal(env.Schedule, &p); err != nil {
			return nil, fmt.Errorf("unmarshal simple schedule: %w", err)
		}
		v := NewSimple()
		v.RepeatCount = p.RepeatCount
		v.RepeatInterval = time.Duration(p.RepeatInterval) * time.Millisecond
		v.TimesTriggered = p.TimesTriggered
		t = v
	case TypeCron:
		var p jsonCron
		if err := json.Unmarshal(env.Schedule, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cron schedule: %w", err)
		}
		v := NewCron()
		v.Expression = p.CronExpression
		v.Timezone = p.TimeZone
		t = v
	case TypeCalendarInterval:
		var p jsonCalendarInterval
		if err := json.Unmarshal(env.Schedule, &p); err != nil {
			return nil, fmt.Errorf("unmarshal calendar-interval schedule: %w", err)
		}
		v := NewCalendarInterval()
		v.Interval = p.RepeatInterval
		v.IntervalUnit = IntervalUnit(p.RepeatIntervalUnit)
		v.Timezone = p.TimeZone
		v.PreserveHourOfDay = p.PreserveHourOfDay
		v.SkipDayIfHourDoesNotExist = p.SkipDay
		v.TimesTriggered = p.TimesTriggered
		t = v
	case TypeDailyInterval:
		var p jsonDailyInterval
		if err := json.Unmarshal(env.Schedule, &p); err != nil {
			return nil, fmt.Errorf("unmarshal daily-interval schedule: %w", err)
		}
		v := NewDailyInterval()
		v.StartTimeOfDay = p.StartTimeOfDay
		v.EndTimeOfDay = p.EndTimeOfDay
		for _, d := range p.DaysOfWeek {
			v.DaysOfWeek = append(v.DaysOfWeek, time.Weekday(d))
		}
		v.Interval = p.RepeatInterval
		v.IntervalUnit = IntervalUnit(p.RepeatIntervalUnit)
		v.RepeatCount = p.RepeatCount
		v.Timezone = p.TimeZone
		v.TimesTriggered = p.TimesTriggered
		t = v
	case TypeCustomCalendar:
		var p jsonCustomCalendar
		if err := json.Unmarshal(env.Schedule, &p); err != nil {
			return nil, fmt.Errorf("unmarshal custom-calendar schedule: %w", err)
		}
		v := NewCustomCalendar()
		v.RepeatCount = p.RepeatCount
		v.Interval = p.RepeatInterval
		v.IntervalUnit = IntervalUnit(p.RepeatIntervalUnit)
		v.ByMonth = p.ByMonth
		v.ByMonthDay = derefString(p.ByMonthDay)
		v.ByDay = derefString(p.ByDay)
		v.Timezone = p.TimeZone
		v.TimesTriggered = p.TimesTriggered
		t = v
	default:
		return nil, fmt.Errorf("unknown trigger type %q", env.Type)
	}

	t.SetKey(env.Key)
	t.SetJobKey(env.JobKey)
	t.SetDescription(env.Description)
	t.SetCalendarName(env.CalendarName)
	t.SetPriority(env.Priority)
	t.SetMisfireInstruction(env.Misfire)
	t.SetJobData(env.JobData)
	t.SetStartTime(env.StartTime)
	t.SetEndTime(env.EndTime)
	t.SetNextFireTime(env.NextFireTime)
	t.SetPreviousFireTime(env.PrevFireTime)
	return t, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
