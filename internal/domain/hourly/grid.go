package hourly

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/cohort"
)

var (
	ErrMissingAnchor        = errors.New("no invasive ventilation record")
	ErrInconsistentTimeline = errors.New("hour index outside encounter span")
)

// Grid is the hour axis of one block: Hours consecutive bins starting at
// Anchor, hour 0 inclusive.
type Grid struct {
	Anchor time.Time
	End    time.Time
	Hours  int
}

// HourStart returns the start of hour i.
func (g Grid) HourStart(i int) time.Time {
	return g.Anchor.Add(time.Duration(i) * time.Hour)
}

// HourOf returns the grid index of t, which may be negative or beyond the
// last hour.
func (g Grid) HourOf(t time.Time) int {
	d := t.Sub(g.Anchor)
	h := int(d / time.Hour)
	if d < 0 && d%time.Hour != 0 {
		h--
	}
	return h
}

// Anchor returns the first recorded ventilation time of the block.
func Anchor(obs Observations, device string) (time.Time, bool) {
	var first time.Time
	found := false
	for _, r := range obs.Respiratory {
		if !strings.EqualFold(r.DeviceCategory, device) {
			continue
		}
		if !found || r.RecordedDttm.Before(first) {
			first = r.RecordedDttm
			found = true
		}
	}
	return first, found
}

// BuildGrid lays out the hours from the ventilation anchor to the last
// vital, lab or medication observation, combined per site.GridEnd and
// clipped to the block. An anchor earlier than the block start is clamped
// to it.
func BuildGrid(block cohort.Block, obs Observations, site config.Site) (Grid, error) {
	start, ok := Anchor(obs, site.VentilationDevice)
	if !ok {
		return Grid{}, ErrMissingAnchor
	}
	if start.After(block.End) {
		return Grid{}, fmt.Errorf("%w: ventilation start %s after block end %s",
			ErrInconsistentTimeline, start.Format(time.RFC3339), block.End.Format(time.RFC3339))
	}
	// A ventilation record charted before the block opened starts the grid
	// at the block start.
	if start.Before(block.Start) {
		start = block.Start
	}

	end, ok := gridEnd(obs, site.GridEnd)
	if !ok {
		return Grid{}, fmt.Errorf("%w: no vital, lab or medication observations", ErrInconsistentTimeline)
	}
	if end.After(block.End) {
		end = block.End
	}
	g := Grid{Anchor: start.Truncate(time.Hour), End: end}
	if end.Before(g.Anchor) {
		return Grid{}, fmt.Errorf("%w: last observation %s precedes ventilation start", ErrInconsistentTimeline, end.Format(time.RFC3339))
	}
	g.Hours = g.HourOf(end) + 1
	return g, nil
}

func gridEnd(obs Observations, policy string) (time.Time, bool) {
	var lasts []time.Time
	if t, ok := latest(len(obs.Vitals), func(i int) time.Time { return obs.Vitals[i].RecordedDttm }); ok {
		lasts = append(lasts, t)
	}
	if t, ok := latest(len(obs.Labs), func(i int) time.Time { return obs.Labs[i].LabResultDttm }); ok {
		lasts = append(lasts, t)
	}
	if t, ok := latest(len(obs.Medications), func(i int) time.Time { return obs.Medications[i].AdminDttm }); ok {
		lasts = append(lasts, t)
	}
	if len(lasts) == 0 {
		return time.Time{}, false
	}
	end := lasts[0]
	for _, t := range lasts[1:] {
		if policy == config.GridEndMin {
			if t.Before(end) {
				end = t
			}
		} else if t.After(end) {
			end = t
		}
	}
	return end, true
}

func latest(n int, at func(int) time.Time) (time.Time, bool) {
	if n == 0 {
		return time.Time{}, false
	}
	t := at(0)
	for i := 1; i < n; i++ {
		if v := at(i); v.After(t) {
			t = v
		}
	}
	return t, true
}
