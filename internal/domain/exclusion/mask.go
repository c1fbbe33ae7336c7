// Package exclusion marks hours that are structurally ineligible for
// mobilization regardless of clinical thresholds.
package exclusion

import (
	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

// Reason codes.
const (
	ReasonParalytic       = "paralytic"
	ReasonTracheostomy    = "tracheostomy"
	ReasonEarlyIntubation = "early_intubation"
	ReasonOffHours        = "outside_business_hours"
)

type Mask struct {
	Paralytic       bool `json:"paralytics_flag"`
	Tracheostomy    bool `json:"hourly_trach"`
	EarlyIntubation bool `json:"early_intubation"`
	OffHours        bool `json:"outside_business_hours"`
}

func (m Mask) Excluded() bool {
	return m.Paralytic || m.Tracheostomy || m.EarlyIntubation || m.OffHours
}

func (m Mask) Reasons() []string {
	var out []string
	if m.Paralytic {
		out = append(out, ReasonParalytic)
	}
	if m.Tracheostomy {
		out = append(out, ReasonTracheostomy)
	}
	if m.EarlyIntubation {
		out = append(out, ReasonEarlyIntubation)
	}
	if m.OffHours {
		out = append(out, ReasonOffHours)
	}
	return out
}

// Evaluate builds the mask of one hour. A paralytic counts only when its
// running dose is strictly positive.
func Evaluate(f hourly.Features, site config.Site) Mask {
	m := Mask{
		Tracheostomy:    f.Tracheostomy,
		EarlyIntubation: f.Hour < site.EarlyIntubationHours,
		OffHours:        !site.BusinessHours.Contains(f.LocalHour),
	}
	for _, cat := range site.DrugsOfClass(config.ClassParalytic) {
		if f.Dose(cat) > 0 {
			m.Paralytic = true
			break
		}
	}
	return m
}
