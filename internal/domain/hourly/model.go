// Package hourly projects a block's irregular observation streams onto an
// integer-hour grid anchored at the first hour of invasive ventilation.
package hourly

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/domain/observation"
)

// Features is the resampled state of one hour. It is a value: evaluators read
// it and never modify it, including the Doses map.
type Features struct {
	Hour      int
	Start     time.Time
	LocalHour int
	Weekday   time.Weekday

	AvgMAP  *float64
	MaxSBP  *float64
	MinHR   *float64
	MaxHR   *float64
	MinRR   *float64
	MaxRR   *float64
	MinSpO2 *float64
	GCS     *float64

	Lactate    *float64
	Creatinine *float64
	Bilirubin  *float64
	Platelets  *float64
	PaO2       *float64

	// Doses holds the running dose per medication category, zero once stopped.
	Doses map[string]float64

	Device       string
	Mode         string
	FiO2         *float64
	PEEP         *float64
	Tracheostomy bool
}

// End is the exclusive end of the hour.
func (f Features) End() time.Time { return f.Start.Add(time.Hour) }

// Dose returns the running dose of a category, zero when none is recorded.
func (f Features) Dose(category string) float64 { return f.Doses[category] }

// ActiveDrugs returns the categories running at a strictly positive dose.
func (f Features) ActiveDrugs() []string {
	var out []string
	for cat, d := range f.Doses {
		if d > 0 {
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

// OnSupport reports whether any ventilatory device other than room air is
// recorded for the hour.
func (f Features) OnSupport() bool {
	return f.Device != "" && !strings.EqualFold(f.Device, "room air")
}

// Observations are one block's input streams, in any order.
type Observations struct {
	Vitals      []observation.Vital
	Labs        []observation.Lab
	Medications []observation.Medication
	Respiratory []observation.RespiratorySupport
}
