package cohort

import (
	"errors"
	"strings"
	"time"
)

var ErrNoTerminalTimestamp = errors.New("hospitalization has neither discharge_dttm nor death_dttm")

// Hospitalization maps to one row of the hospitalization table.
type Hospitalization struct {
	PatientID         string     `db:"patient_id" json:"patient_id" parquet:"patient_id"`
	HospitalizationID string     `db:"hospitalization_id" json:"hospitalization_id" parquet:"hospitalization_id"`
	Facility          string     `db:"facility" json:"facility,omitempty" parquet:"facility,optional"`
	AdmissionDttm     time.Time  `db:"admission_dttm" json:"admission_dttm" parquet:"admission_dttm"`
	DischargeDttm     *time.Time `db:"discharge_dttm" json:"discharge_dttm,omitempty" parquet:"discharge_dttm,optional"`
	DeathDttm         *time.Time `db:"death_dttm" json:"death_dttm,omitempty" parquet:"death_dttm,optional"`
	DischargeCategory string     `db:"discharge_category" json:"discharge_category" parquet:"discharge_category,optional"`
	AgeAtAdmission    *float64   `db:"age_at_admission" json:"age_at_admission,omitempty" parquet:"age_at_admission,optional"`
}

// TerminalTime is discharge_dttm when present, else death_dttm.
func (h Hospitalization) TerminalTime() (time.Time, error) {
	if h.DischargeDttm != nil {
		return *h.DischargeDttm, nil
	}
	if h.DeathDttm != nil {
		return *h.DeathDttm, nil
	}
	return time.Time{}, ErrNoTerminalTimestamp
}

// ExpiredToHospice reports whether a discharge category names both hospice
// and expired.
func ExpiredToHospice(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "hospice") && strings.Contains(c, "expired")
}

type Outcome string

const (
	OutcomeDied       Outcome = "died"
	OutcomeDischarged Outcome = "discharged_alive"
)

// Block is one continuous stay at a facility built from one or more
// hospitalizations. Blocks are values; the stitcher never shares their slices.
type Block struct {
	ID                 int        `json:"encounter_block"`
	PatientID          string     `json:"patient_id"`
	Facility           string     `json:"facility,omitempty"`
	HospitalizationIDs []string   `json:"hospitalization_ids"`
	Start              time.Time  `json:"block_start_dttm"`
	End                time.Time  `json:"block_end_dttm"`
	Outcome            Outcome    `json:"outcome"`
	DeathTime          *time.Time `json:"death_dttm,omitempty"`
	DischargeCategory  string     `json:"discharge_category"`
	AgeAtAdmission     *float64   `json:"age_at_admission,omitempty"`
}

func (b Block) Died() bool { return b.Outcome == OutcomeDied }

// TerminalTime is the death time for blocks that ended in death, else the
// block end.
func (b Block) TerminalTime() time.Time {
	if b.Died() && b.DeathTime != nil {
		return *b.DeathTime
	}
	return b.End
}
