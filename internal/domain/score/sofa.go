// Package score derives hourly severity scores: SOFA (1997 definition) and the
// norepinephrine-equivalent vasopressor dose.
package score

import (
	"sort"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

// CRRTLookback is how far before an hour a renal replacement record still
// forces the maximum renal score.
const CRRTLookback = 72 * time.Hour

// RoomAirFiO2 is assumed when no FiO2 setting is recorded.
const RoomAirFiO2 = 0.21

// SOFA holds the six organ sub-scores of one hour.
type SOFA struct {
	Respiratory    int      `json:"sofa_resp"`
	Coagulation    int      `json:"sofa_coag"`
	Liver          int      `json:"sofa_liver"`
	Cardiovascular int      `json:"sofa_cv"`
	Renal          int      `json:"sofa_renal"`
	CNS            int      `json:"sofa_cns"`
	PFRatio        *float64 `json:"pf_ratio,omitempty"`
}

func (s SOFA) Total() int {
	return s.Respiratory + s.Coagulation + s.Liver + s.Cardiovascular + s.Renal + s.CNS
}

// CRRTIndex is the sorted set of renal replacement timestamps of a block.
type CRRTIndex []time.Time

func NewCRRTIndex(times []time.Time) CRRTIndex {
	x := append(CRRTIndex(nil), times...)
	sort.Slice(x, func(i, j int) bool { return x[i].Before(x[j]) })
	return x
}

// Active reports whether any record falls in [start-CRRTLookback, end].
func (x CRRTIndex) Active(start, end time.Time) bool {
	from := start.Add(-CRRTLookback)
	i := sort.Search(len(x), func(i int) bool { return !x[i].Before(from) })
	return i < len(x) && !x[i].After(end)
}

// Compute scores one hour. Components without data score 0.
func Compute(f hourly.Features, onCRRT bool) SOFA {
	s := SOFA{
		Coagulation:    below(f.Platelets, 150, 100, 50, 20),
		Liver:          atLeast(f.Bilirubin, 1.2, 2, 6, 12),
		Cardiovascular: cardiovascular(f),
		Renal:          atLeast(f.Creatinine, 1.2, 2, 3.5, 5),
		CNS:            below(f.GCS, 15, 13, 10, 6),
	}
	if onCRRT {
		s.Renal = 4
	}
	if f.PaO2 != nil {
		fio2 := RoomAirFiO2
		if f.FiO2 != nil && *f.FiO2 > 0 {
			fio2 = *f.FiO2
		}
		pf := *f.PaO2 / fio2
		s.PFRatio = &pf
		s.Respiratory = respiratory(pf, f.OnSupport())
	}
	return s
}

func respiratory(pf float64, support bool) int {
	switch {
	case pf < 100 && support:
		return 4
	case pf < 200 && support:
		return 3
	case pf < 300:
		return 2
	case pf < 400:
		return 1
	}
	return 0
}

func cardiovascular(f hourly.Features) int {
	dopa := f.Dose("dopamine")
	epi := f.Dose("epinephrine")
	ne := f.Dose("norepinephrine")
	switch {
	case dopa > 15 || epi > 0.1 || ne > 0.1:
		return 4
	case dopa > 5 || epi > 0 || ne > 0:
		return 3
	case dopa > 0 || f.Dose("dobutamine") > 0:
		return 2
	case f.AvgMAP != nil && *f.AvgMAP < 70:
		return 1
	}
	return 0
}

// atLeast scores 1..4 for each ascending cut point the value reaches.
func atLeast(v *float64, cuts ...float64) int {
	if v == nil {
		return 0
	}
	n := 0
	for _, c := range cuts {
		if *v >= c {
			n++
		}
	}
	return n
}

// below scores 1..4 for each descending cut point the value falls under.
func below(v *float64, cuts ...float64) int {
	if v == nil {
		return 0
	}
	n := 0
	for _, c := range cuts {
		if *v < c {
			n++
		}
	}
	return n
}

// NEE is the norepinephrine-equivalent dose of every running drug with a
// configured factor, in mcg/kg/min.
func NEE(f hourly.Features, site config.Site) float64 {
	var total float64
	for cat, dose := range f.Doses {
		if dose <= 0 {
			continue
		}
		if d, ok := site.Drug(cat); ok {
			total += dose * d.NEFactor
		}
	}
	return total
}
