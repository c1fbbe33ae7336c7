package criteria

import (
	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
	"github.com/ehr/mobilization/internal/domain/score"
)

type Tier string

const (
	TierGreen  Tier = "green"
	TierYellow Tier = "yellow"
	TierRed    Tier = "red"
	// TierNone is an hour that raises no red flag but cannot be shown to
	// meet the yellow bounds, typically because a vital is missing.
	TierNone Tier = "none"
)

// GreenFlags are true when the hour meets the green condition.
type GreenFlags struct {
	SpO2      bool `json:"green_spo2_flag"`
	MAP       bool `json:"green_map_flag"`
	NEE       bool `json:"green_nee_flag"`
	HeartRate bool `json:"green_hr_flag"`
	FiO2      bool `json:"green_fio2_flag"`
	RespRate  bool `json:"green_rr_flag"`
	PEEP      bool `json:"green_peep_flag"`
	Lactate   bool `json:"green_lactate_flag"`
	Pressor   bool `json:"green_pressor_flag"`
}

func (g GreenFlags) checks() []check {
	return []check{
		{"green_spo2_flag", g.SpO2},
		{"green_map_flag", g.MAP},
		{"green_nee_flag", g.NEE},
		{"green_hr_flag", g.HeartRate},
		{"green_fio2_flag", g.FiO2},
		{"green_rr_flag", g.RespRate},
		{"green_peep_flag", g.PEEP},
		{"green_lactate_flag", g.Lactate},
		{"green_pressor_flag", g.Pressor},
	}
}

// YellowFlags are true when the hour meets the relaxed caution bounds.
// Missing vitals fail; missing FiO2, PEEP and lactate pass.
type YellowFlags struct {
	SpO2      bool `json:"yellow_resp_spo2_flag"`
	MAP       bool `json:"yellow_map_flag"`
	NEE       bool `json:"yellow_nee_flag"`
	HeartRate bool `json:"yellow_pulse_flag"`
	FiO2      bool `json:"yellow_fio2_flag"`
	RespRate  bool `json:"yellow_resp_rate_flag"`
	PEEP      bool `json:"yellow_peep_flag"`
	Lactate   bool `json:"yellow_lactate_flag"`
}

func (y YellowFlags) checks() []check {
	return []check{
		{"yellow_resp_spo2_flag", y.SpO2},
		{"yellow_map_flag", y.MAP},
		{"yellow_nee_flag", y.NEE},
		{"yellow_pulse_flag", y.HeartRate},
		{"yellow_fio2_flag", y.FiO2},
		{"yellow_resp_rate_flag", y.RespRate},
		{"yellow_peep_flag", y.PEEP},
		{"yellow_lactate_flag", y.Lactate},
	}
}

// RedFlags are true when the red condition is raised. A missing value never
// raises a red flag.
type RedFlags struct {
	NEE      bool `json:"red_ne_flag"`
	MAP      bool `json:"red_map_flag"`
	HR       bool `json:"red_hr_flag"`
	SpO2     bool `json:"red_spo2_flag"`
	RespRate bool `json:"red_rr_flag"`
	FiO2     bool `json:"red_fio2_flag"`
	PEEP     bool `json:"red_peep_flag"`
	Lactate  bool `json:"red_lactate_flag"`
	Pressors bool `json:"red_pressors_flag"`
}

func (r RedFlags) Any() bool {
	return r.NEE || r.MAP || r.HR || r.SpO2 || r.RespRate || r.FiO2 || r.PEEP || r.Lactate || r.Pressors
}

func (r RedFlags) checks() []check {
	return []check{
		{"red_ne_flag", !r.NEE},
		{"red_map_flag", !r.MAP},
		{"red_hr_flag", !r.HR},
		{"red_spo2_flag", !r.SpO2},
		{"red_rr_flag", !r.RespRate},
		{"red_fio2_flag", !r.FiO2},
		{"red_peep_flag", !r.PEEP},
		{"red_lactate_flag", !r.Lactate},
		{"red_pressors_flag", !r.Pressors},
	}
}

// Consensus is the three-tier classification of one hour. Green is eligible
// on tier green; Yellow is eligible on tier green or yellow.
type Consensus struct {
	NEE     float64 `json:"ne_calc_last"`
	Tier    Tier    `json:"tier"`
	Flags   GreenFlags
	Caution YellowFlags
	Red     RedFlags
	Green   Verdict
	Yellow  Verdict
}

// EvaluateConsensus classifies one hour as green, yellow, red or none and
// derives the Green and Yellow eligibility verdicts.
func EvaluateConsensus(f hourly.Features, m exclusion.Mask, site config.Site) Consensus {
	g, y, r := site.Criteria.Green, site.Criteria.Yellow, site.Criteria.Red
	nee := score.NEE(f, site)

	flags := GreenFlags{
		SpO2:      atLeast(f.MinSpO2, g.SpO2Min),
		MAP:       atLeast(f.AvgMAP, g.MAPMin),
		NEE:       nee < g.NEEBelow,
		HeartRate: atLeast(f.MinHR, g.HRMin) && atMost(f.MaxHR, g.HRMax),
		FiO2:      missingOrAtMost(f.FiO2, g.FiO2Max),
		RespRate:  atMost(f.MaxRR, g.RRMax),
		PEEP:      missingOrAtMost(f.PEEP, g.PEEPMax),
		Lactate:   missingOrAtMost(f.Lactate, g.LactateMax),
		Pressor:   PressorFlag(f, site),
	}

	caution := YellowFlags{
		SpO2:      atLeast(f.MinSpO2, y.SpO2Min),
		MAP:       atLeast(f.AvgMAP, y.MAPMin),
		NEE:       nee <= y.NEEMax,
		HeartRate: atLeast(f.MinHR, y.HRMin) && atMost(f.MaxHR, y.HRMax),
		FiO2:      missingOrAtMost(f.FiO2, y.FiO2Max),
		RespRate:  atMost(f.MaxRR, y.RRMax),
		PEEP:      missingOrAtMost(f.PEEP, y.PEEPMax),
		Lactate:   missingOrAtMost(f.Lactate, y.LactateMax),
	}

	active := 0
	for _, cat := range f.ActiveDrugs() {
		if d, ok := site.Drug(cat); ok && d.Class == config.ClassVasopressor {
			active++
		}
	}
	red := RedFlags{
		NEE:      nee > r.NEEAbove,
		MAP:      under(f.AvgMAP, r.MAPBelow),
		HR:       above(f.MaxHR, r.HRAbove),
		SpO2:     under(f.MinSpO2, r.SpO2Below),
		RespRate: above(f.MaxRR, r.RRAbove),
		FiO2:     above(f.FiO2, r.FiO2Above),
		PEEP:     above(f.PEEP, r.PEEPAbove),
		Lactate:  above(f.Lactate, r.LactateAbove),
		Pressors: r.ActivePressorsAtLeast > 0 && active >= r.ActivePressorsAtLeast,
	}

	c := Consensus{NEE: nee, Flags: flags, Caution: caution, Red: red}
	switch {
	case red.Any():
		c.Tier = TierRed
	case verdict(flags.checks(), exclusion.Mask{}).Eligible:
		c.Tier = TierGreen
	case verdict(caution.checks(), exclusion.Mask{}).Eligible:
		c.Tier = TierYellow
	default:
		c.Tier = TierNone
	}

	c.Green = verdict(append(flags.checks(), red.checks()...), m)
	if c.Tier == TierGreen {
		c.Yellow = verdict(red.checks(), m)
	} else {
		c.Yellow = verdict(append(caution.checks(), red.checks()...), m)
	}
	return c
}
