// Package criteria holds the three mobilization safety rule sets. Each is a
// pure function of one hour's features, its exclusion mask and the site
// configuration.
package criteria

import (
	"sort"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

// Criteria set names used in output tables.
const (
	SetPatel  = "patel"
	SetTEAM   = "team"
	SetGreen  = "green"
	SetYellow = "yellow"
)

// Sets lists every criteria set in output order.
var Sets = []string{SetPatel, SetTEAM, SetGreen, SetYellow}

// Verdict is the eligibility of one hour under one criteria set. Reasons
// names the failing flags followed by any exclusion reasons.
type Verdict struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

type check struct {
	name string
	pass bool
}

func verdict(checks []check, m exclusion.Mask) Verdict {
	v := Verdict{Eligible: true}
	for _, c := range checks {
		if !c.pass {
			v.Eligible = false
			v.Reasons = append(v.Reasons, c.name)
		}
	}
	if m.Excluded() {
		v.Eligible = false
		v.Reasons = append(v.Reasons, m.Reasons()...)
	}
	return v
}

// PressorFlag applies the per-drug threshold rule to every running drug. A
// drug fails only when a minimum threshold is configured and the dose reaches
// it; drugs without a threshold, or missing from the table, pass.
func PressorFlag(f hourly.Features, site config.Site) bool {
	for cat, dose := range f.Doses {
		if dose <= 0 {
			continue
		}
		d, ok := site.Drug(cat)
		if !ok || d.MinThreshold == nil {
			continue
		}
		if dose >= *d.MinThreshold {
			return false
		}
	}
	return true
}

// Untabled returns the recorded medication categories that have no entry in
// the site drug table, sorted.
func Untabled(f hourly.Features, site config.Site) []string {
	var out []string
	for cat := range f.Doses {
		if _, ok := site.Drug(cat); !ok {
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

func atLeast(v *float64, lo float64) bool { return v != nil && *v >= lo }
func atMost(v *float64, hi float64) bool { return v != nil && *v <= hi }
func missingOrAtMost(v *float64, hi float64) bool { return v == nil || *v <= hi }
func above(v *float64, bound float64) bool { return v != nil && *v > bound }
func under(v *float64, bound float64) bool { return v != nil && *v < bound }
