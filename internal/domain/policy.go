package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy controls which tool backs a resource up, how often, and how many
// backups are retained. At most one policy per resource is active.
type Policy struct {
	ID         string
	ResourceID string
	Tool       string

	// Frequency is the fixed interval between runs. Schedule, when set, takes
	// precedence and is a five-field cron expression or descriptor (@daily).
	Frequency time.Duration
	Schedule  string

	// Copies keeps the newest N succeeded backups; zero disables the count rule.
	Copies int
	// RetentionPeriod prunes succeeded backups older than this; zero disables it.
	RetentionPeriod time.Duration

	Active    bool
	UpdatedAt time.Time
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (p *Policy) Validate() error {
	if p.Tool == "" {
		return fmt.Errorf("policy for %s: tool is required", p.ResourceID)
	}
	if p.Schedule == "" && p.Frequency <= 0 {
		return fmt.Errorf("policy for %s: frequency or schedule is required", p.ResourceID)
	}
	if p.Schedule != "" {
		if _, err := scheduleParser.Parse(p.Schedule); err != nil {
			return fmt.Errorf("policy for %s: invalid schedule: %w", p.ResourceID, err)
		}
	}
	if p.Copies < 0 {
		return fmt.Errorf("policy for %s: copies must not be negative", p.ResourceID)
	}
	if p.RetentionPeriod < 0 {
		return fmt.Errorf("policy for %s: retention period must not be negative", p.ResourceID)
	}
	return nil
}

// NextDue returns the first time after anchor at which a backup is due.
func (p *Policy) NextDue(anchor time.Time) (time.Time, error) {
	if p.Schedule == "" {
		return anchor.Add(p.Frequency), nil
	}
	sched, err := scheduleParser.Parse(p.Schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", p.Schedule, err)
	}
	return sched.Next(anchor), nil
}

// HasRetention reports whether either retention rule is configured.
func (p *Policy) HasRetention() bool {
	return p.Copies > 0 || p.RetentionPeriod > 0
}
