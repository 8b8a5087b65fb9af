package engine

import (
	"log"
	"math"
	"time"

	"example.com/casework/internal/workweek"
)

// DueDateCalculator performs the delay arithmetic behind occur and suspense
// days. In production it adds calendar days, optionally skipping weekends
// and configured holidays. In time-lapse mode it compresses days into
// minutes so workflow tests can exercise day-scale delays in real time.
type DueDateCalculator struct {
	timeLapse  bool
	production bool
	calendar   *workweek.Calendar
	now        func() time.Time
	logger     *log.Logger
}

// CalcOption configures a DueDateCalculator.
type CalcOption func(*DueDateCalculator)

// WithCalcClock overrides the clock, for tests.
func WithCalcClock(now func() time.Time) CalcOption {
	return func(c *DueDateCalculator) { c.now = now }
}

// WithCalcLogger overrides the logger.
func WithCalcLogger(logger *log.Logger) CalcOption {
	return func(c *DueDateCalculator) { c.logger = logger }
}

// NewDueDateCalculator builds a calculator. timeLapse enables the test-mode
// compression; production marks the deployment, making any time-lapse call a
// fatal configuration error. calendar may be nil (weekends only).
func NewDueDateCalculator(timeLapse, production bool, calendar *workweek.Calendar, opts ...CalcOption) *DueDateCalculator {
	c := &DueDateCalculator{
		timeLapse:  timeLapse,
		production: production,
		calendar:   calendar,
		now:        time.Now,
		logger:     log.New(log.Writer(), "[duedate] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddDelay returns base plus days. With useWorkWeek, weekend and holiday
// days are skipped and do not count toward days. In time-lapse mode the
// base is ignored and days are compressed into minutes from now.
func (c *DueDateCalculator) AddDelay(base time.Time, days float64, useWorkWeek bool) (time.Time, error) {
	if c.timeLapse {
		if c.production {
			return time.Time{}, invariantf("time-lapse delay arithmetic invoked in a production deployment")
		}
		return c.timeLapseDate(base, days), nil
	}
	if !useWorkWeek {
		return base.Add(daysToDuration(days)), nil
	}
	whole := int(days)
	frac := days - float64(whole)
	t := base
	for counted := 0; counted < whole; {
		t = t.AddDate(0, 0, 1)
		if c.isWorkday(t) {
			counted++
		}
	}
	if frac > 0 {
		t = t.Add(daysToDuration(frac))
	}
	return t, nil
}

// timeLapseDate converts days into 1..10 minutes by dividing by 10 while
// above 10 and flooring at 1, then adds them to now.
func (c *DueDateCalculator) timeLapseDate(base time.Time, days float64) time.Time {
	now := c.now()
	c.logger.Printf("time-lapse mode: ignoring provided base date %v", base)
	minutes := days
	for minutes > 10 {
		minutes = minutes / 10.0
	}
	if minutes < 1 {
		minutes = 1
	}
	result := now.Add(time.Duration(math.Round(minutes*60.0*1000.0)) * time.Millisecond)
	c.logger.Printf("time-lapse mode: %v days -> %v", days, result)
	return result
}

func (c *DueDateCalculator) isWorkday(t time.Time) bool {
	if c.calendar != nil {
		return c.calendar.IsWorkday(t)
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

func daysToDuration(days float64) time.Duration {
	return time.Duration(math.Round(days * 24 * float64(time.Hour)))
}
