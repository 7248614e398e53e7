// Package recurrence expands availability templates into concrete intervals.
package recurrence

import (
	"fmt"
	"iter"
	"time"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/timezone"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const DefaultMaxSpanDays = 366

type Expander struct {
	maxSpanDays int
}

func NewExpander(maxSpanDays int) *Expander {
	if maxSpanDays <= 0 {
		maxSpanDays = DefaultMaxSpanDays
	}
	return &Expander{maxSpanDays: maxSpanDays}
}

// Sequence is a lazy, finite and restartable expansion of one template.
type Sequence struct {
	loc      *time.Location
	rule     model.RecurrenceRule
	first    time.Time
	last     time.Time
	startMin int
	endMin   int
	duration int
	step     int
}

// Expand validates the template and range and returns the sequence of
// intervals. rangeStart and rangeEnd are inclusive civil dates: only their
// year, month and day (in their own location) are used, and each day is
// interpreted in the template's timezone.
func (e *Expander) Expand(t *model.AvailabilityTemplate, rangeStart, rangeEnd time.Time) (*Sequence, error) {
	first := civilDate(rangeStart)
	last := civilDate(rangeEnd)
	if last.Before(first) {
		return nil, apperrors.InvalidRange("range end is before range start")
	}
	if days := int(last.Sub(first).Hours() / 24); days > e.maxSpanDays {
		return nil, apperrors.InvalidRange(fmt.Sprintf("range spans %d days, maximum is %d", days, e.maxSpanDays))
	}

	loc, err := timezone.Load(t.Timezone)
	if err != nil {
		return nil, err
	}
	startMin, err := timezone.ParseClock(t.StartTime)
	if err != nil {
		return nil, apperrors.BadRequest("invalid template start time", err)
	}
	endMin, err := timezone.ParseClock(t.EndTime)
	if err != nil {
		return nil, apperrors.BadRequest("invalid template end time", err)
	}
	if endMin <= startMin {
		return nil, apperrors.BadRequest("template end time must be after start time", nil)
	}
	if t.DurationMinutes <= 0 {
		return nil, apperrors.BadRequest("template duration must be positive", nil)
	}
	if t.Recurrence.Frequency != model.RecurrenceDaily && t.Recurrence.Frequency != model.RecurrenceWeekly {
		return nil, apperrors.BadRequest(fmt.Sprintf("unsupported recurrence %q", t.Recurrence.Frequency), nil)
	}

	return &Sequence{
		loc:      loc,
		rule:     t.Recurrence,
		first:    first,
		last:     last,
		startMin: startMin,
		endMin:   endMin,
		duration: t.DurationMinutes,
		step:     t.DurationMinutes + max(t.Metadata.BufferMinutes, 0),
	}, nil
}

// All yields intervals in chronological order. Each call restarts the expansion.
func (s *Sequence) All() iter.Seq[model.Interval] {
	return func(yield func(model.Interval) bool) {
		for d := s.first; !d.After(s.last); d = d.AddDate(0, 0, 1) {
			if !s.rule.Matches(d.Weekday()) {
				continue
			}
			for m := s.startMin; m+s.duration <= s.endMin; m += s.step {
				iv := model.Interval{
					Start: timezone.At(d.Year(), d.Month(), d.Day(), m, s.loc),
					End:   timezone.At(d.Year(), d.Month(), d.Day(), m+s.duration, s.loc),
				}
				// a DST gap can collapse a civil interval
				if !iv.Valid() {
					continue
				}
				if !yield(iv) {
					return
				}
			}
		}
	}
}

// Collect materializes the whole sequence.
func (s *Sequence) Collect() []model.Interval {
	var out []model.Interval
	for iv := range s.All() {
		out = append(out, iv)
	}
	return out
}

// Location is the template's resolved timezone.
func (s *Sequence) Location() *time.Location {
	return s.loc
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
