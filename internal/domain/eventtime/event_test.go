package eventtime

import (
	"math/rand"
	"testing"
	"time"
)

// anchor is a Monday.
var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func timeline(n int, eligible []int, died bool, terminalHour float64) Timeline {
	set := make(map[int]bool, len(eligible))
	for _, h := range eligible {
		set[h] = true
	}
	hours := make([]Hour, n)
	for i := range hours {
		hours[i] = Hour{Index: i, Eligible: set[i], Weekday: anchor.Add(time.Duration(i) * time.Hour).Weekday()}
	}
	return Timeline{
		Hours:    hours,
		Anchor:   anchor,
		Died:     died,
		Terminal: anchor.Add(time.Duration(terminalHour * float64(time.Hour))),
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		tl      Timeline
		variant Variant
		time    int
		outcome Outcome
	}{
		{"death before eligibility", timeline(20, []int{10}, true, 8), VariantFull, 8, OutcomeDied},
		{"eligibility before death", timeline(20, []int{10}, true, 15), VariantFull, 10, OutcomeEligible},
		{"tie goes to eligibility", timeline(20, []int{9}, true, 9.5), VariantFull, 9, OutcomeEligible},
		{"discharged never eligible", timeline(30, nil, false, 29.9), VariantFull, 29, OutcomeDischarged},
		{"died never eligible", timeline(30, nil, true, 12), VariantFull, 12, OutcomeDied},
		{"terminal before anchor clamps to zero", timeline(1, nil, true, -3), VariantFull, 0, OutcomeDied},
		{"eligible at 80 full", timeline(100, []int{80}, false, 99), VariantFull, 80, OutcomeEligible},
		{"eligible at 80 truncated", timeline(100, []int{80}, false, 99), VariantTruncated, 72, OutcomeCensored},
		{"eligible at 72 truncated", timeline(100, []int{72}, false, 99), VariantTruncated, 72, OutcomeCensored},
		{"eligible at 71 truncated", timeline(100, []int{71}, false, 99), VariantTruncated, 71, OutcomeEligible},
		{"death at 72 truncated", timeline(100, nil, true, 72.5), VariantTruncated, 72, OutcomeDied},
		{"death at 90 truncated", timeline(100, nil, true, 90), VariantTruncated, 72, OutcomeCensored},
		{"discharge at 40 truncated", timeline(50, nil, false, 40), VariantTruncated, 40, OutcomeDischarged},
		// Hour 120 is Saturday 00:00, hour 168 is Monday 00:00.
		{"weekend eligibility skipped", timeline(200, []int{125, 170}, false, 199), VariantWeekday, 170, OutcomeEligible},
		{"weekend only then death", timeline(200, []int{125}, true, 140), VariantWeekday, 140, OutcomeDied},
		{"weekend eligibility counts in full", timeline(200, []int{125, 170}, false, 199), VariantFull, 125, OutcomeEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Derive(tt.tl, tt.variant, 72)
			if ev.Time != tt.time || ev.Outcome != tt.outcome {
				t.Errorf("got (%d, %s), want (%d, %s)", ev.Time, ev.Outcome, tt.time, tt.outcome)
			}
			if ev.Time < 0 {
				t.Errorf("negative event time %d", ev.Time)
			}
		})
	}
}

func TestDerive_TruncatedDropsLateEligibilityTime(t *testing.T) {
	ev := Derive(timeline(100, []int{80}, false, 99), VariantTruncated, 72)
	if ev.TimeEligibility != nil {
		t.Errorf("time_eligibility should be cleared past the horizon, got %d", *ev.TimeEligibility)
	}
	ev = Derive(timeline(100, []int{80}, false, 99), VariantFull, 72)
	if ev.TimeEligibility == nil || *ev.TimeEligibility != 80 {
		t.Errorf("full variant time_eligibility = %v", ev.TimeEligibility)
	}
}

func TestDeriveAll_WeekdayNeverEarlier(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(300)
		var elig []int
		for h := 0; h < n; h++ {
			if rng.Float64() < 0.05 {
				elig = append(elig, h)
			}
		}
		tl := timeline(n, elig, rng.Intn(2) == 0, float64(rng.Intn(n+5)))
		events := DeriveAll(tl, 72)
		if len(events) != len(Variants) {
			t.Fatalf("expected %d events, got %d", len(Variants), len(events))
		}
		full, trunc, wk := events[0], events[1], events[2]
		if wk.Time < full.Time {
			t.Fatalf("case %d: weekday time %d earlier than full %d", i, wk.Time, full.Time)
		}
		if trunc.Time > 72 {
			t.Fatalf("case %d: truncated time %d beyond horizon", i, trunc.Time)
		}
		if trunc.Outcome == OutcomeEligible && trunc.Time >= 72 {
			t.Fatalf("case %d: eligible at or after horizon", i)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	want := map[Outcome]string{
		OutcomeCensored:   "censored",
		OutcomeEligible:   "eligible",
		OutcomeDied:       "died",
		OutcomeDischarged: "discharged_alive",
	}
	for o, s := range want {
		if o.String() != s {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), s)
		}
	}
}
