package calendar

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/cronexpr"
)

// CronCalendar excludes every instant that satisfies a cron expression.
// "* * 0-7 ? * *" excludes midnight through 07:59:59 every day.
type CronCalendar struct {
	BaseCalendar
	Expression string `json:"expression"`
	Timezone   string `json:"timezone,omitempty"`

	compiled *cronexpr.Expression
}

// NewCron builds a cron exclusion calendar; timezone empty means UTC.
func NewCron(expression, timezone string) (*CronCalendar, error) {
	c := &CronCalendar{Expression: expression, Timezone: timezone}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CronCalendar) compile() error {
	loc := time.UTC
	if c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %s: %w", c.Timezone, err)
		}
	}
	expr, err := cronexpr.ParseInLocation(c.Expression, loc)
	if err != nil {
		return err
	}
	c.compiled = expr
	return nil
}

func (c *CronCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	if c.compiled == nil {
		if err := c.compile(); err != nil {
			return false
		}
	}
	return !c.compiled.IsSatisfiedBy(t)
}

func (c *CronCalendar) NextIncludedTime(t time.Time) time.Time {
	cur := t.Truncate(time.Second)
	for cur.Year() <= endOfTimeYear {
		if c.IsTimeIncluded(cur) {
			return cur
		}
		cur = cur.Add(time.Second)
	}
	return time.Time{}
}

func (c *CronCalendar) Clone() Calendar {
	out := &CronCalendar{
		BaseCalendar: c.cloneBase(),
		Expression:   c.Expression,
		Timezone:     c.Timezone,
	}
	_ = out.compile()
	return out
}
