package criteria

import (
	"reflect"
	"testing"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
)

func fptr(v float64) *float64 { return &v }

// safeHour passes every rule set.
func safeHour() hourly.Features {
	return hourly.Features{
		Hour: 10, LocalHour: 10,
		AvgMAP: fptr(80), MaxSBP: fptr(130),
		MinHR: fptr(70), MaxHR: fptr(95),
		MinRR: fptr(14), MaxRR: fptr(22),
		MinSpO2: fptr(96),
		Lactate: fptr(1.1),
		FiO2:    fptr(0.4), PEEP: fptr(5),
		Device: "IMV",
	}
}

type evaluation struct {
	patel     Patel
	team      TEAM
	consensus Consensus
}

func evaluate(f hourly.Features, site config.Site) evaluation {
	m := exclusion.Evaluate(f, site)
	return evaluation{
		patel:     EvaluatePatel(f, m, site),
		team:      EvaluateTEAM(f, m, site),
		consensus: EvaluateConsensus(f, m, site),
	}
}

func (e evaluation) eligible() map[string]bool {
	return map[string]bool{
		SetPatel:  e.patel.Eligible,
		SetTEAM:   e.team.Eligible,
		SetGreen:  e.consensus.Green.Eligible,
		SetYellow: e.consensus.Yellow.Eligible,
	}
}

func TestSafeHourEligibleEverywhere(t *testing.T) {
	e := evaluate(safeHour(), config.DefaultSite())
	for set, ok := range e.eligible() {
		if !ok {
			t.Errorf("%s should be eligible", set)
		}
	}
	if e.consensus.Tier != TierGreen {
		t.Errorf("tier = %s, want green", e.consensus.Tier)
	}
}

func TestExclusionDominates(t *testing.T) {
	site := config.DefaultSite()
	mutations := map[string]func(*hourly.Features){
		"paralytic":    func(f *hourly.Features) { f.Doses = map[string]float64{"vecuronium": 0.8} },
		"tracheostomy": func(f *hourly.Features) { f.Tracheostomy = true },
		"early":        func(f *hourly.Features) { f.Hour = 2 },
		"night":        func(f *hourly.Features) { f.LocalHour = 3 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f := safeHour()
			mutate(&f)
			e := evaluate(f, site)
			for set, ok := range e.eligible() {
				if ok {
					t.Errorf("%s eligible despite exclusion", set)
				}
			}
			if e.consensus.Tier != TierGreen {
				t.Errorf("exclusion should not change the clinical tier, got %s", e.consensus.Tier)
			}
		})
	}
}

func TestMAPUsesHourlyMean(t *testing.T) {
	site := config.DefaultSite()
	f := safeHour()
	f.AvgMAP = fptr((60.0 + 90.0) / 2)
	e := evaluate(f, site)
	if !e.patel.MAP {
		t.Error("patel MAP flag should pass on a mean of 75")
	}
	if !e.consensus.Flags.MAP || e.consensus.Red.MAP {
		t.Error("consensus should evaluate MAP at 75")
	}

	f.AvgMAP = fptr(60)
	e = evaluate(f, site)
	if e.patel.MAP || !e.consensus.Red.MAP {
		t.Error("MAP 60 should fail patel and raise red")
	}
}

func TestZeroDoseNeverFlags(t *testing.T) {
	f := safeHour()
	f.Doses = map[string]float64{"norepinephrine": 0, "epinephrine": 0, "cisatracurium": 0}
	e := evaluate(f, config.DefaultSite())
	if e.consensus.Red.NEE || e.consensus.Red.Pressors {
		t.Errorf("zero doses raised red flags: %+v", e.consensus.Red)
	}
	if !e.team.NoNE {
		t.Error("a zero norepinephrine record counts as no norepinephrine")
	}
	for set, ok := range e.eligible() {
		if !ok {
			t.Errorf("%s should stay eligible", set)
		}
	}
}

func TestPressorFlag(t *testing.T) {
	site := config.DefaultSite()
	tests := []struct {
		name  string
		doses map[string]float64
		want  bool
	}{
		{"none", nil, true},
		{"norepinephrine below threshold", map[string]float64{"norepinephrine": 0.19}, true},
		{"norepinephrine at threshold", map[string]float64{"norepinephrine": 0.2}, false},
		{"dopamine above threshold", map[string]float64{"dopamine": 12}, false},
		{"no threshold huge dose", map[string]float64{"phenylephrine": 1e6}, true},
		{"untabled huge dose", map[string]float64{"experimental_pressor": 1e6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PressorFlag(hourly.Features{Doses: tt.doses}, site); got != tt.want {
				t.Errorf("PressorFlag = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUntabledDrugStaysEligible(t *testing.T) {
	site := config.DefaultSite()
	f := safeHour()
	f.Doses = map[string]float64{"experimental_pressor": 500}
	e := evaluate(f, site)
	if !e.patel.Eligible || !e.team.Eligible {
		t.Error("an untabled drug must not make the hour ineligible")
	}
	if got := Untabled(f, site); !reflect.DeepEqual(got, []string{"experimental_pressor"}) {
		t.Errorf("Untabled = %v", got)
	}
}

func TestTEAM(t *testing.T) {
	site := config.DefaultSite()
	tests := []struct {
		name    string
		mutate  func(*hourly.Features)
		reasons []string
	}{
		{"missing lactate passes", func(f *hourly.Features) { f.Lactate = nil }, nil},
		{"lactate 4 passes", func(f *hourly.Features) { f.Lactate = fptr(4) }, nil},
		{"lactate 4.1 fails", func(f *hourly.Features) { f.Lactate = fptr(4.1) }, []string{"team_lactate_flag"}},
		{"any norepinephrine fails", func(f *hourly.Features) { f.Doses = map[string]float64{"norepinephrine": 0.01} }, []string{"team_ne_flag"}},
		{"other vasopressor keeps ne flag", func(f *hourly.Features) { f.Doses = map[string]float64{"vasopressin": 0.03} }, nil},
		{"vital rr 46 fails", func(f *hourly.Features) { f.MaxRR = fptr(46) }, []string{"team_rr_flag"}},
		{"missing rr fails", func(f *hourly.Features) { f.MaxRR = nil }, []string{"team_rr_flag"}},
		{"peep 16 passes", func(f *hourly.Features) { f.PEEP = fptr(16) }, nil},
		{"fio2 0.7 fails", func(f *hourly.Features) { f.FiO2 = fptr(0.7) }, []string{"team_fio2_flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := safeHour()
			tt.mutate(&f)
			got := EvaluateTEAM(f, exclusion.Evaluate(f, site), site)
			if !reflect.DeepEqual(got.Reasons, tt.reasons) {
				t.Errorf("reasons = %v, want %v", got.Reasons, tt.reasons)
			}
			if got.Eligible != (len(tt.reasons) == 0) {
				t.Errorf("eligible = %v", got.Eligible)
			}
		})
	}
}

func TestPatel(t *testing.T) {
	site := config.DefaultSite()
	tests := []struct {
		name    string
		mutate  func(*hourly.Features)
		reasons []string
	}{
		{"map 110 passes", func(f *hourly.Features) { f.AvgMAP = fptr(110) }, nil},
		{"map 111 fails", func(f *hourly.Features) { f.AvgMAP = fptr(111) }, []string{"patel_map_flag"}},
		{"sbp 201 fails", func(f *hourly.Features) { f.MaxSBP = fptr(201) }, []string{"patel_sbp_flag"}},
		{"bradycardia fails", func(f *hourly.Features) { f.MinHR = fptr(38) }, []string{"patel_hr_flag"}},
		{"rr 4 fails", func(f *hourly.Features) { f.MinRR = fptr(4) }, []string{"patel_rr_flag"}},
		{"spo2 87 fails", func(f *hourly.Features) { f.MinSpO2 = fptr(87) }, []string{"patel_spo2_flag"}},
		{"missing spo2 fails", func(f *hourly.Features) { f.MinSpO2 = nil }, []string{"patel_spo2_flag"}},
		{
			"high epinephrine fails with exclusion",
			func(f *hourly.Features) {
				f.Doses = map[string]float64{"epinephrine": 0.25}
				f.LocalHour = 20
			},
			[]string{"patel_pressor_flag", exclusion.ReasonOffHours},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := safeHour()
			tt.mutate(&f)
			got := EvaluatePatel(f, exclusion.Evaluate(f, site), site)
			if !reflect.DeepEqual(got.Reasons, tt.reasons) {
				t.Errorf("reasons = %v, want %v", got.Reasons, tt.reasons)
			}
		})
	}
}

func TestConsensusTiers(t *testing.T) {
	site := config.DefaultSite()
	tests := []struct {
		name   string
		mutate func(*hourly.Features)
		tier   Tier
	}{
		{"safe", func(*hourly.Features) {}, TierGreen},
		{"moderate norepinephrine", func(f *hourly.Features) { f.Doses = map[string]float64{"norepinephrine": 0.15} }, TierYellow},
		{"nee 0.3 is not red", func(f *hourly.Features) { f.Doses = map[string]float64{"norepinephrine": 0.3} }, TierYellow},
		{"nee above 0.3 is red", func(f *hourly.Features) { f.Doses = map[string]float64{"norepinephrine": 0.31} }, TierRed},
		{"two vasopressors", func(f *hourly.Features) {
			f.Doses = map[string]float64{"norepinephrine": 0.02, "vasopressin": 0.01}
		}, TierRed},
		{"vasopressor plus inotrope", func(f *hourly.Features) {
			f.Doses = map[string]float64{"norepinephrine": 0.02, "dobutamine": 3}
		}, TierGreen},
		{"hr 125", func(f *hourly.Features) { f.MaxHR = fptr(125) }, TierYellow},
		{"hr 151", func(f *hourly.Features) { f.MaxHR = fptr(151) }, TierRed},
		{"spo2 84", func(f *hourly.Features) { f.MinSpO2 = fptr(84) }, TierRed},
		{"fio2 0.7", func(f *hourly.Features) { f.FiO2 = fptr(0.7) }, TierYellow},
		{"fio2 0.85", func(f *hourly.Features) { f.FiO2 = fptr(0.85) }, TierRed},
		{"peep 12", func(f *hourly.Features) { f.PEEP = fptr(12) }, TierYellow},
		{"lactate 5", func(f *hourly.Features) { f.Lactate = fptr(5) }, TierRed},
		{"missing map", func(f *hourly.Features) { f.AvgMAP = nil }, TierNone},
		{"missing spo2", func(f *hourly.Features) { f.MinSpO2 = nil }, TierNone},
		{"missing respiratory rate", func(f *hourly.Features) { f.MinRR, f.MaxRR = nil, nil }, TierNone},
		{"missing fio2 and peep", func(f *hourly.Features) { f.FiO2, f.PEEP = nil, nil }, TierGreen},
		{"missing lactate with moderate norepinephrine", func(f *hourly.Features) {
			f.Lactate = nil
			f.Doses = map[string]float64{"norepinephrine": 0.2}
		}, TierYellow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := safeHour()
			tt.mutate(&f)
			c := EvaluateConsensus(f, exclusion.Evaluate(f, site), site)
			if c.Tier != tt.tier {
				t.Fatalf("tier = %s, want %s (red %+v)", c.Tier, tt.tier, c.Red)
			}
			if c.Green.Eligible != (tt.tier == TierGreen) {
				t.Errorf("green eligible = %v", c.Green.Eligible)
			}
			if c.Yellow.Eligible != (tt.tier == TierGreen || tt.tier == TierYellow) {
				t.Errorf("yellow eligible = %v", c.Yellow.Eligible)
			}
		})
	}
}

func TestConsensusWithoutVitals(t *testing.T) {
	site := config.DefaultSite()
	f := hourly.Features{Hour: 10, LocalHour: 10, Weekday: time.Monday, Device: "IMV"}
	c := EvaluateConsensus(f, exclusion.Evaluate(f, site), site)

	if c.Red.Any() {
		t.Errorf("missing values must not raise red flags: %+v", c.Red)
	}
	if c.Tier != TierNone || c.Green.Eligible || c.Yellow.Eligible {
		t.Fatalf("tier = %s green = %v yellow = %v, want none and ineligible", c.Tier, c.Green.Eligible, c.Yellow.Eligible)
	}
	want := []string{"yellow_resp_spo2_flag", "yellow_map_flag", "yellow_pulse_flag", "yellow_resp_rate_flag"}
	if !reflect.DeepEqual(c.Yellow.Reasons, want) {
		t.Errorf("yellow reasons = %v, want %v", c.Yellow.Reasons, want)
	}
	if !c.Caution.NEE || !c.Caution.FiO2 || !c.Caution.PEEP || !c.Caution.Lactate {
		t.Errorf("missing fio2, peep and lactate should pass: %+v", c.Caution)
	}
}
