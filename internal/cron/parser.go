package cron

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser parses 5-field cron expressions and resolves IANA timezones.
// An unknown timezone falls back to the default zone so a schedule with
// a bad zone stays runnable instead of going dead.
type Parser struct {
	parser     cron.Parser
	defaultLoc *time.Location
}

func NewParser(defaultLoc *time.Location) *Parser {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Parser{
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defaultLoc: defaultLoc,
	}
}

// Validate checks the expression without resolving a timezone.
func (p *Parser) Validate(expression string) error {
	_, err := p.parser.Parse(expression)
	return err
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc := p.defaultLoc
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			log.Printf("cron: unknown timezone %q, falling back to %s", timezone, p.defaultLoc)
		} else {
			loc = l
		}
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
