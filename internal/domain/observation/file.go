package observation

import (
	"context"
	"fmt"

	"github.com/ehr/mobilization/internal/domain/cohort"
	"github.com/ehr/mobilization/internal/platform/tabular"
)

// FileSource reads <dir>/<table>.<format> files.
type FileSource struct {
	dir    string
	format string
}

func NewFileSource(dir, format string) (*FileSource, error) {
	if format != tabular.FormatCSV && format != tabular.FormatParquet {
		return nil, fmt.Errorf("%w: %q", tabular.ErrUnsupportedFormat, format)
	}
	return &FileSource{dir: dir, format: format}, nil
}

func readTable[T any](s *FileSource, table string, decode func(tabular.Row) (T, error)) ([]T, error) {
	path := tabular.Path(s.dir, table, s.format)
	if !tabular.Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrMissingTable, path)
	}
	if s.format == tabular.FormatParquet {
		return tabular.ReadParquet[T](path)
	}
	return tabular.ReadCSV(path, decode)
}

func (s *FileSource) Hospitalizations(context.Context) ([]cohort.Hospitalization, error) {
	return readTable(s, TableHospitalization, decodeHospitalization)
}

func (s *FileSource) Vitals(context.Context) ([]Vital, error) {
	return readTable(s, TableVitals, decodeVital)
}

func (s *FileSource) Labs(context.Context) ([]Lab, error) {
	return readTable(s, TableLabs, decodeLab)
}

func (s *FileSource) Medications(context.Context) ([]Medication, error) {
	return readTable(s, TableMedications, decodeMedication)
}

func (s *FileSource) Respiratory(context.Context) ([]RespiratorySupport, error) {
	return readTable(s, TableRespiratory, decodeRespiratory)
}

func (s *FileSource) CRRT(context.Context) ([]CRRT, error) {
	return readTable(s, TableCRRT, decodeCRRT)
}

func decodeHospitalization(r tabular.Row) (cohort.Hospitalization, error) {
	h := cohort.Hospitalization{
		PatientID:         r.Str("patient_id"),
		HospitalizationID: r.Str("hospitalization_id"),
		Facility:          r.Str("facility"),
		DischargeCategory: r.Str("discharge_category"),
	}
	var err error
	if h.AdmissionDttm, err = r.Time("admission_dttm"); err != nil {
		return h, err
	}
	if h.DischargeDttm, err = r.OptTime("discharge_dttm"); err != nil {
		return h, err
	}
	if h.DeathDttm, err = r.OptTime("death_dttm"); err != nil {
		return h, err
	}
	if h.AgeAtAdmission, err = r.OptFloat("age_at_admission"); err != nil {
		return h, err
	}
	return h, nil
}

func decodeVital(r tabular.Row) (Vital, error) {
	v := Vital{HospitalizationID: r.Str("hospitalization_id"), VitalCategory: r.Str("vital_category")}
	var err error
	if v.RecordedDttm, err = r.Time("recorded_dttm"); err != nil {
		return v, err
	}
	v.VitalValue, err = r.Float("vital_value")
	return v, err
}

func decodeLab(r tabular.Row) (Lab, error) {
	l := Lab{HospitalizationID: r.Str("hospitalization_id"), LabCategory: r.Str("lab_category")}
	var err error
	if l.LabResultDttm, err = r.Time("lab_result_dttm"); err != nil {
		return l, err
	}
	l.LabValueNumeric, err = r.Float("lab_value_numeric")
	return l, err
}

func decodeMedication(r tabular.Row) (Medication, error) {
	m := Medication{
		HospitalizationID: r.Str("hospitalization_id"),
		MedCategory:       r.Str("med_category"),
		MedDoseUnit:       r.Str("med_dose_unit"),
		MedAction:         r.Str("mar_action_name"),
	}
	var err error
	if m.AdminDttm, err = r.Time("admin_dttm"); err != nil {
		return m, err
	}
	dose, err := r.OptFloat("med_dose")
	if err != nil {
		return m, err
	}
	if dose != nil {
		m.MedDose = *dose
	}
	return m, nil
}

func decodeRespiratory(r tabular.Row) (RespiratorySupport, error) {
	rs := RespiratorySupport{
		HospitalizationID: r.Str("hospitalization_id"),
		DeviceCategory:    r.Str("device_category"),
		ModeCategory:      r.Str("mode_category"),
	}
	var err error
	if rs.RecordedDttm, err = r.Time("recorded_dttm"); err != nil {
		return rs, err
	}
	if rs.FiO2Set, err = r.OptFloat("fio2_set"); err != nil {
		return rs, err
	}
	if rs.PEEPSet, err = r.OptFloat("peep_set"); err != nil {
		return rs, err
	}
	rs.Tracheostomy, err = r.OptBool("tracheostomy")
	return rs, err
}

func decodeCRRT(r tabular.Row) (CRRT, error) {
	c := CRRT{HospitalizationID: r.Str("hospitalization_id"), CRRTMode: r.Str("crrt_mode_category")}
	var err error
	c.RecordedDttm, err = r.Time("recorded_dttm")
	return c, err
}
