package criteria

import (
	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

const norepinephrine = "norepinephrine"

// TEAM flags are true when the hour is safe on that condition. NoNE is true
// when no norepinephrine is running, whatever other vasopressors are.
type TEAM struct {
	HeartRate bool `json:"team_hr_flag"`
	Lactate   bool `json:"team_lactate_flag"`
	NoNE      bool `json:"team_ne_flag"`
	FiO2      bool `json:"team_fio2_flag"`
	PEEP      bool `json:"team_peep_flag"`
	RespRate  bool `json:"team_rr_flag"`
	Pressor   bool `json:"team_pressor_flag"`
	Verdict
}

// EvaluateTEAM uses the charted vital-sign respiratory rate, not the
// ventilator set rate.
func EvaluateTEAM(f hourly.Features, m exclusion.Mask, site config.Site) TEAM {
	c := site.Criteria.TEAM
	t := TEAM{
		HeartRate: atMost(f.MaxHR, c.HRMax),
		Lactate:   missingOrAtMost(f.Lactate, c.LactateMax),
		NoNE:      f.Dose(norepinephrine) <= 0,
		FiO2:      missingOrAtMost(f.FiO2, c.FiO2Max),
		PEEP:      missingOrAtMost(f.PEEP, c.PEEPMax),
		RespRate:  atMost(f.MaxRR, c.RRMax),
		Pressor:   PressorFlag(f, site),
	}
	t.Verdict = verdict([]check{
		{"team_hr_flag", t.HeartRate},
		{"team_lactate_flag", t.Lactate},
		{"team_ne_flag", t.NoNE},
		{"team_fio2_flag", t.FiO2},
		{"team_peep_flag", t.PEEP},
		{"team_rr_flag", t.RespRate},
		{"team_pressor_flag", t.Pressor},
	}, m)
	return t
}
