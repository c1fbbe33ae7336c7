package observation

import (
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/domain/cohort"
)

// Vital categories.
const (
	VitalMAP       = "map"
	VitalSBP       = "sbp"
	VitalHeartRate = "heart_rate"
	VitalRespRate  = "respiratory_rate"
	VitalSpO2      = "spo2"
	VitalGCS       = "gcs_total"
)

// Lab categories.
const (
	LabLactate    = "lactate"
	LabCreatinine = "creatinine"
	LabBilirubin  = "bilirubin_total"
	LabPlatelets  = "platelet_count"
	LabPaO2       = "po2_arterial"
)

// Respiratory-support setting variables, used for outlier bounds.
const (
	SettingFiO2 = "fio2_set"
	SettingPEEP = "peep_set"
)

// MedActionStop marks a continuous infusion as stopped regardless of dose.
const MedActionStop = "stop"

type Vital struct {
	HospitalizationID string    `db:"hospitalization_id" parquet:"hospitalization_id"`
	RecordedDttm      time.Time `db:"recorded_dttm" parquet:"recorded_dttm"`
	VitalCategory     string    `db:"vital_category" parquet:"vital_category"`
	VitalValue        float64   `db:"vital_value" parquet:"vital_value"`
}

type Lab struct {
	HospitalizationID string    `db:"hospitalization_id" parquet:"hospitalization_id"`
	LabResultDttm     time.Time `db:"lab_result_dttm" parquet:"lab_result_dttm"`
	LabCategory       string    `db:"lab_category" parquet:"lab_category"`
	LabValueNumeric   float64   `db:"lab_value_numeric" parquet:"lab_value_numeric"`
}

// Medication is one continuous-infusion administration record. Doses are
// expected in mcg/kg/min, vasopressin in units/min.
type Medication struct {
	HospitalizationID string    `db:"hospitalization_id" parquet:"hospitalization_id"`
	AdminDttm         time.Time `db:"admin_dttm" parquet:"admin_dttm"`
	MedCategory       string    `db:"med_category" parquet:"med_category"`
	MedDose           float64   `db:"med_dose" parquet:"med_dose"`
	MedDoseUnit       string    `db:"med_dose_unit" parquet:"med_dose_unit,optional"`
	MedAction         string    `db:"mar_action_name" parquet:"mar_action_name,optional"`
}

// EffectiveDose is the dose the infusion runs at after this record.
func (m Medication) EffectiveDose() float64 {
	if strings.EqualFold(m.MedAction, MedActionStop) {
		return 0
	}
	return m.MedDose
}

type RespiratorySupport struct {
	HospitalizationID string    `db:"hospitalization_id" parquet:"hospitalization_id"`
	RecordedDttm      time.Time `db:"recorded_dttm" parquet:"recorded_dttm"`
	DeviceCategory    string    `db:"device_category" parquet:"device_category,optional"`
	ModeCategory      string    `db:"mode_category" parquet:"mode_category,optional"`
	FiO2Set           *float64  `db:"fio2_set" parquet:"fio2_set,optional"`
	PEEPSet           *float64  `db:"peep_set" parquet:"peep_set,optional"`
	Tracheostomy      *bool     `db:"tracheostomy" parquet:"tracheostomy,optional"`
}

// HasTracheostomy treats a null flag as no tracheostomy.
func (r RespiratorySupport) HasTracheostomy() bool {
	return r.Tracheostomy != nil && *r.Tracheostomy
}

type CRRT struct {
	HospitalizationID string    `db:"hospitalization_id" parquet:"hospitalization_id"`
	RecordedDttm      time.Time `db:"recorded_dttm" parquet:"recorded_dttm"`
	CRRTMode          string    `db:"crrt_mode_category" parquet:"crrt_mode_category,optional"`
}

// Tables is the closed batch of input observations for one run.
type Tables struct {
	Hospitalizations []cohort.Hospitalization
	Vitals           []Vital
	Labs             []Lab
	Medications      []Medication
	Respiratory      []RespiratorySupport
	CRRT             []CRRT
	HasCRRT          bool
}

func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize lower-cases and trims categorical names in place.
func (t *Tables) Normalize() {
	for i := range t.Vitals {
		t.Vitals[i].VitalCategory = normalizeCategory(t.Vitals[i].VitalCategory)
	}
	for i := range t.Labs {
		t.Labs[i].LabCategory = normalizeCategory(t.Labs[i].LabCategory)
	}
	for i := range t.Medications {
		t.Medications[i].MedCategory = normalizeCategory(t.Medications[i].MedCategory)
	}
	for i := range t.Respiratory {
		t.Respiratory[i].DeviceCategory = strings.TrimSpace(t.Respiratory[i].DeviceCategory)
	}
}
