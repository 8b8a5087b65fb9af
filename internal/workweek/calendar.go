// Package workweek provides the holiday calendar consulted by work-week
// delay arithmetic.
package workweek

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const dayFormat = "2006-01-02"

// Calendar holds the configured non-working holidays.
type Calendar struct {
	mu   sync.RWMutex
	days map[string]struct{}
}

type document struct {
	Holidays []string `yaml:"holidays"`
}

// NewCalendar builds an empty calendar (weekends only).
func NewCalendar() *Calendar {
	return &Calendar{days: make(map[string]struct{})}
}

// LoadFile reads a YAML document of `holidays: [YYYY-MM-DD, ...]`.
func LoadFile(path string) (*Calendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cal := NewCalendar()
	if err := cal.Load(raw); err != nil {
		return nil, fmt.Errorf("holiday calendar %s: %w", path, err)
	}
	return cal, nil
}

// Load replaces the holiday set from a YAML document.
func (c *Calendar) Load(raw []byte) error {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	days := make(map[string]struct{}, len(doc.Holidays))
	for _, day := range doc.Holidays {
		if _, err := time.Parse(dayFormat, day); err != nil {
			return fmt.Errorf("holiday %q: %w", day, err)
		}
		days[day] = struct{}{}
	}
	c.mu.Lock()
	c.days = days
	c.mu.Unlock()
	return nil
}

// Add marks a single day as a holiday.
func (c *Calendar) Add(t time.Time) {
	c.mu.Lock()
	c.days[t.Format(dayFormat)] = struct{}{}
	c.mu.Unlock()
}

// IsHoliday reports whether the day is configured as a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.days[t.Format(dayFormat)]
	return ok
}

// IsWorkday reports whether the day is neither a weekend nor a holiday.
func (c *Calendar) IsWorkday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(t)
}
