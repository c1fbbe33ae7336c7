package hourly

import (
	"errors"
	"testing"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/cohort"
	"github.com/ehr/mobilization/internal/domain/observation"
)

var t0 = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

func at(h int, m int) time.Time {
	return t0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func fptr(v float64) *float64 { return &v }

func testBlock() cohort.Block {
	return cohort.Block{ID: 1, PatientID: "p1", Start: t0.Add(-2 * time.Hour), End: t0.Add(200 * time.Hour)}
}

func vent(h, m int) observation.RespiratorySupport {
	return observation.RespiratorySupport{HospitalizationID: "h1", RecordedDttm: at(h, m), DeviceCategory: "IMV"}
}

func vital(cat string, h, m int, v float64) observation.Vital {
	return observation.Vital{HospitalizationID: "h1", RecordedDttm: at(h, m), VitalCategory: cat, VitalValue: v}
}

func lab(cat string, h, m int, v float64) observation.Lab {
	return observation.Lab{HospitalizationID: "h1", LabResultDttm: at(h, m), LabCategory: cat, LabValueNumeric: v}
}

func med(cat string, h, m int, dose float64) observation.Medication {
	return observation.Medication{HospitalizationID: "h1", AdminDttm: at(h, m), MedCategory: cat, MedDose: dose}
}

func TestBuildGrid(t *testing.T) {
	site := config.DefaultSite()
	obs := Observations{
		Respiratory: []observation.RespiratorySupport{vent(0, 40)},
		Vitals:      []observation.Vital{vital(observation.VitalHeartRate, 5, 10, 80)},
		Labs:        []observation.Lab{lab(observation.LabLactate, 9, 5, 1)},
	}
	g, err := BuildGrid(testBlock(), obs, site)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	if !g.Anchor.Equal(t0) {
		t.Errorf("anchor = %v, want %v", g.Anchor, t0)
	}
	if g.Hours != 10 {
		t.Errorf("hours = %d, want 10", g.Hours)
	}

	site.GridEnd = config.GridEndMin
	g, err = BuildGrid(testBlock(), obs, site)
	if err != nil {
		t.Fatalf("BuildGrid min: %v", err)
	}
	if g.Hours != 6 {
		t.Errorf("hours with min policy = %d, want 6", g.Hours)
	}
}

func TestBuildGrid_VentilationBeforeBlockStart(t *testing.T) {
	obs := Observations{
		Respiratory: []observation.RespiratorySupport{vent(-3, 20)},
		Vitals:      []observation.Vital{vital(observation.VitalMAP, 1, 0, 70)},
	}
	block := testBlock()
	g, err := BuildGrid(block, obs, config.DefaultSite())
	if err != nil {
		t.Fatalf("an early ventilation record should not exclude the block: %v", err)
	}
	if !g.Anchor.Equal(block.Start) {
		t.Errorf("anchor = %v, want block start %v", g.Anchor, block.Start)
	}
	if g.Hours != 4 {
		t.Errorf("hours = %d, want 4", g.Hours)
	}
}

func TestBuildGrid_Errors(t *testing.T) {
	site := config.DefaultSite()
	tests := []struct {
		name string
		obs  Observations
		want error
	}{
		{
			name: "no ventilation",
			obs: Observations{
				Respiratory: []observation.RespiratorySupport{{RecordedDttm: at(0, 0), DeviceCategory: "NIPPV"}},
				Vitals:      []observation.Vital{vital(observation.VitalMAP, 1, 0, 70)},
			},
			want: ErrMissingAnchor,
		},
		{
			name: "no observations",
			obs:  Observations{Respiratory: []observation.RespiratorySupport{vent(0, 0)}},
			want: ErrInconsistentTimeline,
		},
		{
			name: "ventilation after block end",
			obs: Observations{
				Respiratory: []observation.RespiratorySupport{vent(300, 0)},
				Vitals:      []observation.Vital{vital(observation.VitalMAP, 1, 0, 70)},
			},
			want: ErrInconsistentTimeline,
		},
		{
			name: "observations end before ventilation",
			obs: Observations{
				Respiratory: []observation.RespiratorySupport{vent(10, 0)},
				Vitals:      []observation.Vital{vital(observation.VitalMAP, 1, 0, 70)},
			},
			want: ErrInconsistentTimeline,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGrid(testBlock(), tt.obs, site)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func resample(t *testing.T, obs Observations, site config.Site) []Features {
	t.Helper()
	obs.Respiratory = append([]observation.RespiratorySupport{vent(0, 0)}, obs.Respiratory...)
	g, err := BuildGrid(testBlock(), obs, site)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	return Resample(g, obs, site)
}

func TestResample_MAPIsHourlyMean(t *testing.T) {
	hours := resample(t, Observations{
		Vitals: []observation.Vital{
			vital(observation.VitalMAP, 2, 10, 60),
			vital(observation.VitalMAP, 2, 50, 90),
		},
	}, config.DefaultSite())
	got := hours[2].AvgMAP
	if got == nil || *got != 75 {
		t.Fatalf("avg MAP = %v, want 75", got)
	}
}

func TestResample_VitalSummaries(t *testing.T) {
	hours := resample(t, Observations{
		Vitals: []observation.Vital{
			vital(observation.VitalHeartRate, 1, 5, 88),
			vital(observation.VitalHeartRate, 1, 30, 132),
			vital(observation.VitalHeartRate, 1, 55, 101),
			vital(observation.VitalSpO2, 1, 0, 97),
			vital(observation.VitalSpO2, 1, 20, 91),
			vital(observation.VitalSBP, 1, 20, 140),
			vital(observation.VitalSBP, 1, 40, 155),
		},
	}, config.DefaultSite())
	h := hours[1]
	if *h.MinHR != 88 || *h.MaxHR != 132 {
		t.Errorf("heart rate min/max = %v/%v", *h.MinHR, *h.MaxHR)
	}
	if *h.MinSpO2 != 91 {
		t.Errorf("min spo2 = %v", *h.MinSpO2)
	}
	if *h.MaxSBP != 155 {
		t.Errorf("max sbp = %v", *h.MaxSBP)
	}
	if hours[0].MinHR != nil {
		t.Errorf("hour 0 should have no heart rate")
	}
}

func TestResample_VitalTimeout(t *testing.T) {
	hours := resample(t, Observations{
		Vitals: []observation.Vital{
			vital(observation.VitalMAP, 0, 30, 70),
			vital(observation.VitalMAP, 40, 0, 80),
		},
	}, config.DefaultSite())
	if hours[24].AvgMAP == nil || *hours[24].AvgMAP != 70 {
		t.Errorf("hour 24 should carry MAP 70, got %v", hours[24].AvgMAP)
	}
	if hours[25].AvgMAP != nil {
		t.Errorf("hour 25 MAP should have expired, got %v", *hours[25].AvgMAP)
	}
}

func TestResample_LabNeverCarriedPastTimeout(t *testing.T) {
	site := config.DefaultSite()
	labs := []observation.Lab{
		lab(observation.LabLactate, 0, 15, 2.5),
		lab(observation.LabLactate, 30, 45, 3.1),
		lab(observation.LabLactate, 100, 0, 1.2),
	}
	hours := resample(t, Observations{Labs: labs}, site)

	for _, f := range hours {
		if f.Lactate == nil {
			continue
		}
		var src *observation.Lab
		for i := range labs {
			if labs[i].LabResultDttm.Before(f.End()) && (src == nil || labs[i].LabResultDttm.After(src.LabResultDttm)) {
				src = &labs[i]
			}
		}
		if src == nil || src.LabValueNumeric != *f.Lactate {
			t.Fatalf("hour %d: lactate %v has no matching source", f.Hour, *f.Lactate)
		}
		if src.LabResultDttm.Before(f.Start.Add(-site.LabTimeout)) {
			t.Fatalf("hour %d: lactate from %s carried past timeout", f.Hour, src.LabResultDttm)
		}
	}
	if hours[24].Lactate == nil || *hours[24].Lactate != 2.5 {
		t.Errorf("hour 24 lactate = %v, want 2.5", hours[24].Lactate)
	}
	if hours[25].Lactate != nil {
		t.Errorf("hour 25 lactate should be missing")
	}
	if hours[80].Lactate != nil {
		t.Errorf("hour 80 lactate should be missing")
	}
	if hours[54].Lactate == nil || *hours[54].Lactate != 3.1 {
		t.Errorf("hour 54 lactate = %v, want 3.1", hours[54].Lactate)
	}
}

func TestResample_OutlierBounds(t *testing.T) {
	site := config.DefaultSite()
	hours := resample(t, Observations{
		Vitals: []observation.Vital{
			vital(observation.VitalMAP, 1, 0, -5),
			vital(observation.VitalMAP, 1, 10, 0),
			vital(observation.VitalMAP, 1, 20, 900),
		},
	}, site)
	if hours[1].AvgMAP == nil || *hours[1].AvgMAP != 0 {
		t.Fatalf("only the zero MAP is within bounds, got %v", hours[1].AvgMAP)
	}
}

func TestResample_MedicationLastDoseCarried(t *testing.T) {
	stop := med("norepinephrine", 6, 0, 0.1)
	stop.MedAction = "Stop"
	hours := resample(t, Observations{
		Medications: []observation.Medication{
			med("norepinephrine", 1, 10, 0.3),
			med("norepinephrine", 1, 50, 0.15),
			stop,
			med("dopamine", 2, 0, 5),
			med("dopamine", 3, 0, 0),
		},
	}, config.DefaultSite())

	tests := []struct {
		hour int
		cat  string
		want float64
	}{
		{0, "norepinephrine", 0},
		{1, "norepinephrine", 0.15},
		{5, "norepinephrine", 0.15},
		{6, "norepinephrine", 0},
		{2, "dopamine", 5},
		{3, "dopamine", 0},
		{6, "dopamine", 0},
	}
	for _, tt := range tests {
		if got := hours[tt.hour].Dose(tt.cat); got != tt.want {
			t.Errorf("hour %d %s dose = %v, want %v", tt.hour, tt.cat, got, tt.want)
		}
	}
	if got := hours[2].ActiveDrugs(); len(got) != 2 {
		t.Errorf("hour 2 active drugs = %v", got)
	}
}

func TestResample_Respiratory(t *testing.T) {
	trach := true
	hours := resample(t, Observations{
		Vitals: []observation.Vital{vital(observation.VitalMAP, 8, 0, 70)},
		Respiratory: []observation.RespiratorySupport{
			{RecordedDttm: at(-1, 0), DeviceCategory: "NIPPV", FiO2Set: fptr(0.7)},
			{RecordedDttm: at(1, 0), DeviceCategory: "IMV", FiO2Set: fptr(0.5), PEEPSet: fptr(8)},
			{RecordedDttm: at(1, 30), DeviceCategory: "IMV", FiO2Set: fptr(40)},
			{RecordedDttm: at(3, 0), DeviceCategory: "IMV", FiO2Set: fptr(0.6), PEEPSet: fptr(10)},
			{RecordedDttm: at(3, 40), DeviceCategory: ""},
			{RecordedDttm: at(5, 0), DeviceCategory: "IMV", Tracheostomy: &trach},
		},
	}, config.DefaultSite())

	if hours[0].Device != "IMV" || hours[0].FiO2 != nil {
		t.Errorf("pre-anchor settings leaked into hour 0: %q %v", hours[0].Device, hours[0].FiO2)
	}
	if hours[1].FiO2 == nil || *hours[1].FiO2 != 0.4 || hours[1].PEEP == nil || *hours[1].PEEP != 8 {
		t.Errorf("hour 1 should read fio2 0.4 and keep peep 8 within the hour, got %v/%v", hours[1].FiO2, hours[1].PEEP)
	}
	if hours[2].Device != "" || hours[2].FiO2 != nil || hours[2].PEEP != nil || hours[2].OnSupport() {
		t.Errorf("hour without a record should read no device, got %q %v/%v", hours[2].Device, hours[2].FiO2, hours[2].PEEP)
	}
	if hours[3].Device != "" || hours[3].FiO2 != nil {
		t.Errorf("empty device record should end the hour's settings")
	}
	if hours[4].Tracheostomy || !hours[5].Tracheostomy || !hours[8].Tracheostomy {
		t.Errorf("tracheostomy should be set from hour 5 onward")
	}
	if hours[6].Device != "" || !hours[6].Tracheostomy {
		t.Errorf("hour 6 should have no device but keep tracheostomy")
	}
}

func TestResample_NoRespiratoryCarryAfterExtubation(t *testing.T) {
	hours := resample(t, Observations{
		Vitals: []observation.Vital{vital(observation.VitalMAP, 30, 0, 70)},
		Respiratory: []observation.RespiratorySupport{
			{RecordedDttm: at(0, 20), DeviceCategory: "IMV", FiO2Set: fptr(0.9), PEEPSet: fptr(18)},
		},
	}, config.DefaultSite())

	if len(hours) != 31 {
		t.Fatalf("expected 31 hours, got %d", len(hours))
	}
	if hours[0].FiO2 == nil || hours[0].PEEP == nil || *hours[0].FiO2 != 0.9 || *hours[0].PEEP != 18 {
		t.Errorf("hour 0 settings = %v/%v", hours[0].FiO2, hours[0].PEEP)
	}
	last := hours[30]
	if last.Device != "" || last.FiO2 != nil || last.PEEP != nil {
		t.Errorf("hour 30 = %q %v/%v, want no device and no settings", last.Device, last.FiO2, last.PEEP)
	}
}

func TestResample_LocalClock(t *testing.T) {
	site, err := config.LoadSite("")
	if err != nil {
		t.Fatal(err)
	}
	hours := resample(t, Observations{Vitals: []observation.Vital{vital(observation.VitalMAP, 3, 0, 70)}}, site)
	if hours[2].LocalHour != 8 {
		t.Errorf("local hour = %d, want 8", hours[2].LocalHour)
	}
	if hours[0].Weekday != time.Monday {
		t.Errorf("weekday = %v, want Monday", hours[0].Weekday)
	}
}
