package trigger

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/cronexpr"
)

// Cron fires on the instants matched by a Quartz-style cron expression,
// evaluated as wall-clock time in the trigger's zone.
type Cron struct {
	baseTrigger

	Expression string
	Timezone   string

	compiled *cronexpr.Expression
}

// NewCron returns a cron trigger; the expression compiles lazily and is
// checked by Validate.
func NewCron() *Cron {
	return &Cron{baseTrigger: newBaseTrigger()}
}

func (c *Cron) Type() string { return TypeCron }

func (c *Cron) Clone() Operable {
	out := *c
	out.baseTrigger = c.cloneBase()
	out.compiled = nil
	return &out
}

func (c *Cron) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: invalid timezone %s: %w", c.key, c.Timezone, err)
	}
	return loc, nil
}

func (c *Cron) expression() (*cronexpr.Expression, error) {
	if c.compiled != nil {
		return c.compiled, nil
	}
	loc, err := c.location()
	if err != nil {
		return nil, err
	}
	expr, err := cronexpr.ParseInLocation(c.Expression, loc)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", c.key, err)
	}
	c.compiled = expr
	return expr, nil
}

func (c *Cron) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if _, err := c.expression(); err != nil {
		return err
	}
	return nil
}

// FireTimeAfter is pure; nil means "now".
func (c *Cron) FireTimeAfter(after *time.Time) *time.Time {
	expr, err := c.expression()
	if err != nil {
		return nil
	}
	a := c.afterOrNow(after)
	// Never fire before the schedule's start.
	if cutoff := c.startTime.Add(-time.Second); a.Before(cutoff) {
		a = cutoff
	}
	next, ok := expr.Next(a)
	if !ok {
		return nil
	}
	u := next.UTC()
	if !c.withinEnd(u) {
		return nil
	}
	return &u
}

func (c *Cron) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	// The first fire time is the first matching instant at or after start,
	// which FireTimeAfter yields for start-1s.
	pre := c.startTime.Add(-time.Second)
	first := c.FireTimeAfter(&pre)
	first = nextIncluded(cal, first, c.FireTimeAfter)
	c.nextFireTime = copyTime(first)
	return copyTime(first)
}

func (c *Cron) Triggered(cal calendar.Calendar) {
	c.triggered(cal, c.FireTimeAfter)
}

func (c *Cron) UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration) {
	c.updateWithNewCalendar(cal, misfireThreshold, c.FireTimeAfter)
}

// UpdateAfterMisfire interprets the misfire instruction; the smart policy
// resolves to FireOnceNow.
func (c *Cron) UpdateAfterMisfire(cal calendar.Calendar) {
	instr := c.misfire
	if instr == MisfireIgnorePolicy {
		return
	}
	if instr == MisfireSmartPolicy {
		instr = MisfireFireOnceNow
	}
	switch instr {
	case MisfireFireOnceNow:
		c.nextFireTime = timePtr(c.now())
	case MisfireDoNothing:
		now := c.now()
		next := nextIncluded(cal, c.FireTimeAfter(&now), c.FireTimeAfter)
		c.nextFireTime = copyTime(next)
	}
}

func (c *Cron) ScheduleBuilder() ScheduleBuilder {
	return &CronSchedule{
		Expression: c.Expression,
		Timezone:   c.Timezone,
		Misfire:    c.misfire,
	}
}
