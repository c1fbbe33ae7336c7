package observation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/mobilization/internal/domain/cohort"
	"github.com/ehr/mobilization/internal/platform/tabular"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewFileSource_UnsupportedFormat(t *testing.T) {
	_, err := NewFileSource(t.TempDir(), "xlsx")
	if !errors.Is(err, tabular.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFileSource_CSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hospitalization.csv",
		"patient_id,hospitalization_id,facility,admission_dttm,discharge_dttm,death_dttm,discharge_category,age_at_admission\n"+
			"p1,h1,north,2024-01-01 06:00:00,2024-01-05 10:00:00,,Home,64\n"+
			"p2,h2,north,2024-01-02 06:00:00,NA,2024-01-03 01:30:00,Expired,\n")
	writeFile(t, dir, "vitals.csv",
		"hospitalization_id,recorded_dttm,vital_category,vital_value\n"+
			"h1,2024-01-01 07:10:00,MAP,72.5\n")
	writeFile(t, dir, "medication_admin_continuous.csv",
		"hospitalization_id,admin_dttm,med_category,med_dose,med_dose_unit,mar_action_name\n"+
			"h1,2024-01-01 07:00:00,norepinephrine,0.05,mcg/kg/min,\n"+
			"h1,2024-01-01 09:00:00,norepinephrine,,mcg/kg/min,Stop\n")
	writeFile(t, dir, "respiratory_support.csv",
		"hospitalization_id,recorded_dttm,device_category,mode_category,fio2_set,peep_set,tracheostomy\n"+
			"h1,2024-01-01 06:30:00,IMV,assist control,0.4,8,0\n"+
			"h1,2024-01-02 06:30:00,IMV,,,,1\n")

	src, err := NewFileSource(dir, tabular.FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	hosps, err := src.Hospitalizations(ctx)
	if err != nil {
		t.Fatalf("hospitalizations: %v", err)
	}
	if len(hosps) != 2 {
		t.Fatalf("expected 2 hospitalizations, got %d", len(hosps))
	}
	if hosps[0].DischargeDttm == nil || hosps[0].DeathDttm != nil {
		t.Errorf("h1 terminal timestamps decoded wrong: %+v", hosps[0])
	}
	if hosps[0].AgeAtAdmission == nil || *hosps[0].AgeAtAdmission != 64 {
		t.Errorf("h1 age = %v", hosps[0].AgeAtAdmission)
	}
	if hosps[1].DischargeDttm != nil {
		t.Errorf("NA discharge should decode as nil")
	}
	if want := time.Date(2024, 1, 3, 1, 30, 0, 0, time.UTC); hosps[1].DeathDttm == nil || !hosps[1].DeathDttm.Equal(want) {
		t.Errorf("h2 death = %v, want %v", hosps[1].DeathDttm, want)
	}

	vitals, err := src.Vitals(ctx)
	if err != nil {
		t.Fatalf("vitals: %v", err)
	}
	if len(vitals) != 1 || vitals[0].VitalValue != 72.5 || vitals[0].VitalCategory != "MAP" {
		t.Errorf("unexpected vitals %+v", vitals)
	}

	meds, err := src.Medications(ctx)
	if err != nil {
		t.Fatalf("medications: %v", err)
	}
	if len(meds) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(meds))
	}
	if meds[1].EffectiveDose() != 0 {
		t.Errorf("stop record should have zero effective dose")
	}

	resp, err := src.Respiratory(ctx)
	if err != nil {
		t.Fatalf("respiratory: %v", err)
	}
	if resp[0].FiO2Set == nil || *resp[0].FiO2Set != 0.4 {
		t.Errorf("fio2 = %v", resp[0].FiO2Set)
	}
	if resp[0].HasTracheostomy() || !resp[1].HasTracheostomy() {
		t.Errorf("tracheostomy flags decoded wrong")
	}
	if resp[1].PEEPSet != nil {
		t.Errorf("empty peep should be nil")
	}

	if _, err := src.Labs(ctx); !errors.Is(err, ErrMissingTable) {
		t.Errorf("expected ErrMissingTable for labs, got %v", err)
	}
}

func TestFileSource_CSVBadValue(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "labs.csv",
		"hospitalization_id,lab_result_dttm,lab_category,lab_value_numeric\n"+
			"h1,2024-01-01 07:00:00,lactate,high\n")
	src, _ := NewFileSource(dir, tabular.FormatCSV)
	if _, err := src.Labs(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileSource_Parquet(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	labs := []Lab{
		{HospitalizationID: "h1", LabResultDttm: at, LabCategory: "lactate", LabValueNumeric: 2.1},
		{HospitalizationID: "h1", LabResultDttm: at.Add(time.Hour), LabCategory: "creatinine", LabValueNumeric: 1.4},
	}
	if err := tabular.WriteParquet(tabular.Path(dir, TableLabs, tabular.FormatParquet), labs); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(dir, tabular.FormatParquet)
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.Labs(context.Background())
	if err != nil {
		t.Fatalf("labs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 labs, got %d", len(got))
	}
	if got[1].LabCategory != "creatinine" || got[1].LabValueNumeric != 1.4 {
		t.Errorf("unexpected row %+v", got[1])
	}
	if !got[0].LabResultDttm.Equal(at) {
		t.Errorf("timestamp = %v, want %v", got[0].LabResultDttm, at)
	}
}

func TestLoadAll_OptionalCRRT(t *testing.T) {
	adm := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &StaticSource{
		Tables: Tables{
			Hospitalizations: []cohort.Hospitalization{{PatientID: "p1", HospitalizationID: "h1", AdmissionDttm: adm}},
			Vitals:           []Vital{{HospitalizationID: "h1", RecordedDttm: adm, VitalCategory: " Heart_Rate ", VitalValue: 80}},
			Respiratory:      []RespiratorySupport{{HospitalizationID: "h1", RecordedDttm: adm, DeviceCategory: " IMV "}},
		},
		Missing: map[string]bool{TableCRRT: true},
	}
	tables, err := LoadAll(context.Background(), src, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if tables.HasCRRT {
		t.Error("HasCRRT should be false when the table is missing")
	}
	if tables.Vitals[0].VitalCategory != VitalHeartRate {
		t.Errorf("category not normalized: %q", tables.Vitals[0].VitalCategory)
	}
	if tables.Respiratory[0].DeviceCategory != "IMV" {
		t.Errorf("device not trimmed: %q", tables.Respiratory[0].DeviceCategory)
	}
}

func TestLoadAll_MissingRequired(t *testing.T) {
	src := &StaticSource{Missing: map[string]bool{TableVitals: true}}
	_, err := LoadAll(context.Background(), src, zerolog.Nop())
	if !errors.Is(err, ErrMissingTable) {
		t.Fatalf("expected ErrMissingTable, got %v", err)
	}
}
