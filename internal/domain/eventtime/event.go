// Package eventtime converts hourly eligibility into one first-event record
// per block, competing eligibility against death and discharge.
package eventtime

import (
	"time"
)

// Outcome codes as consumed by the competing-risk stage.
type Outcome int

const (
	OutcomeCensored   Outcome = 0
	OutcomeEligible   Outcome = 1
	OutcomeDied       Outcome = 2
	OutcomeDischarged Outcome = 3
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEligible:
		return "eligible"
	case OutcomeDied:
		return "died"
	case OutcomeDischarged:
		return "discharged_alive"
	}
	return "censored"
}

type Variant string

const (
	VariantFull      Variant = "full"
	VariantTruncated Variant = "truncated"
	VariantWeekday   Variant = "weekday"
)

// Variants lists every analysis variant in output order.
var Variants = []Variant{VariantFull, VariantTruncated, VariantWeekday}

// Hour is one grid hour's eligibility under a single criteria set.
type Hour struct {
	Index    int
	Eligible bool
	Weekday  time.Weekday
}

// Timeline is everything the deriver needs about one block.
type Timeline struct {
	Hours    []Hour
	Anchor   time.Time
	Died     bool
	Terminal time.Time
}

// TerminalHour is the hour offset of death or discharge, never negative.
func (tl Timeline) TerminalHour() int {
	d := tl.Terminal.Sub(tl.Anchor)
	if d <= 0 {
		return 0
	}
	return int(d / time.Hour)
}

// Event is the first event of one block under one criteria set and variant.
// TimeEligibility is the first eligible hour the variant searched, if any.
type Event struct {
	Variant         Variant
	TimeEligibility *int
	Time            int
	Outcome         Outcome
}

func weekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}

func firstEligible(hours []Hour, weekdaysOnly bool) (int, bool) {
	for _, h := range hours {
		if !h.Eligible {
			continue
		}
		if weekdaysOnly && !weekday(h.Weekday) {
			continue
		}
		return h.Index, true
	}
	return 0, false
}

// Derive picks the earliest of first eligibility, death and discharge.
// Eligibility wins a tie with the terminal hour. The truncated variant
// censors at horizon any eligibility at or after it and any terminal event
// after it.
func Derive(tl Timeline, v Variant, horizon int) Event {
	ev := Event{Variant: v}
	term := tl.TerminalHour()

	elig, ok := firstEligible(tl.Hours, v == VariantWeekday)
	if ok {
		e := elig
		ev.TimeEligibility = &e
	}

	switch {
	case ok && elig <= term:
		ev.Time, ev.Outcome = elig, OutcomeEligible
	case tl.Died:
		ev.Time, ev.Outcome = term, OutcomeDied
	default:
		ev.Time, ev.Outcome = term, OutcomeDischarged
	}

	if v != VariantTruncated {
		return ev
	}
	if ev.TimeEligibility != nil && *ev.TimeEligibility >= horizon {
		ev.TimeEligibility = nil
	}
	switch {
	case ev.Outcome == OutcomeEligible && ev.Time >= horizon:
		ev.Time, ev.Outcome = horizon, OutcomeCensored
	case ev.Outcome != OutcomeEligible && ev.Time > horizon:
		ev.Time, ev.Outcome = horizon, OutcomeCensored
	}
	return ev
}

// DeriveAll returns one event per variant in Variants order.
func DeriveAll(tl Timeline, horizon int) []Event {
	out := make([]Event, 0, len(Variants))
	for _, v := range Variants {
		out = append(out, Derive(tl, v, horizon))
	}
	return out
}
