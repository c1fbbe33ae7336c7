package criteria

import (
	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

// Patel flags are true when the hour is safe on that condition.
type Patel struct {
	MAP       bool `json:"patel_map_flag"`
	SBP       bool `json:"patel_sbp_flag"`
	HeartRate bool `json:"patel_hr_flag"`
	RespRate  bool `json:"patel_rr_flag"`
	SpO2      bool `json:"patel_spo2_flag"`
	Pressor   bool `json:"patel_pressor_flag"`
	Verdict
}

// EvaluatePatel applies the Patel thresholds and the shared pressor rule to one hour.
func EvaluatePatel(f hourly.Features, m exclusion.Mask, site config.Site) Patel {
	c := site.Criteria.Patel
	p := Patel{
		MAP:       atLeast(f.AvgMAP, c.MAPMin) && atMost(f.AvgMAP, c.MAPMax),
		SBP:       atMost(f.MaxSBP, c.SBPMax),
		HeartRate: atLeast(f.MinHR, c.HRMin) && atMost(f.MaxHR, c.HRMax),
		RespRate:  atLeast(f.MinRR, c.RRMin) && atMost(f.MaxRR, c.RRMax),
		SpO2:      atLeast(f.MinSpO2, c.SpO2Min),
		Pressor:   PressorFlag(f, site),
	}
	p.Verdict = verdict([]check{
		{"patel_map_flag", p.MAP},
		{"patel_sbp_flag", p.SBP},
		{"patel_hr_flag", p.HeartRate},
		{"patel_rr_flag", p.RespRate},
		{"patel_spo2_flag", p.SpO2},
		{"patel_pressor_flag", p.Pressor},
	}, m)
	return p
}
