package engine

import (
	"time"

	"github.com/ehr/mobilization/internal/domain/aggregate"
)

// Excluded describes one encounter left out of the output tables.
type Excluded struct {
	EncounterBlock    int    `json:"encounter_block,omitempty"`
	PatientID         string `json:"patient_id"`
	HospitalizationID string `json:"hospitalization_id,omitempty"`
	Kind              string `json:"kind"`
	Reason            string `json:"reason"`
}

// Summary is written as run_summary.json next to the output tables.
type Summary struct {
	RunID            string                `json:"run_id"`
	Site             string                `json:"site"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       time.Time             `json:"finished_at"`
	Hospitalizations int                   `json:"hospitalizations"`
	Blocks           int                   `json:"encounter_blocks"`
	BlocksWritten    int                   `json:"encounter_blocks_written"`
	Hours            int                   `json:"hours"`
	HasCRRT          bool                  `json:"crrt_table_present"`
	Excluded         []Excluded            `json:"excluded_encounters"`
	ThresholdGaps    []ThresholdGap        `json:"threshold_gaps"`
	Eligibility      aggregate.SiteSummary `json:"eligibility"`
}

func exclusions(errs []*EncounterError) []Excluded {
	out := make([]Excluded, 0, len(errs))
	for _, e := range errs {
		out = append(out, Excluded{
			EncounterBlock:    e.Block,
			PatientID:         e.PatientID,
			HospitalizationID: e.HospitalizationID,
			Kind:              e.Kind,
			Reason:            e.Err.Error(),
		})
	}
	return out
}
