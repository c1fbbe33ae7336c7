package engine

import (
	"errors"
	"fmt"

	"github.com/ehr/mobilization/internal/domain/hourly"
)

// Kinds of per-block failure. None of them stops the run.
const (
	KindMissingAnchor          = "missing_anchor"
	KindInconsistentTimeline   = "inconsistent_timeline"
	KindInvalidHospitalization = "invalid_hospitalization"
)

// EncounterError excludes one block, or one hospitalization that could not
// join a block, from the output tables.
type EncounterError struct {
	Block             int
	PatientID         string
	HospitalizationID string
	Kind              string
	Err               error
}

func (e *EncounterError) Error() string {
	if e.Block == 0 {
		return fmt.Sprintf("hospitalization %s (patient %s): %s: %v", e.HospitalizationID, e.PatientID, e.Kind, e.Err)
	}
	return fmt.Sprintf("encounter block %d (patient %s): %s: %v", e.Block, e.PatientID, e.Kind, e.Err)
}

func (e *EncounterError) Unwrap() error { return e.Err }

func kindOf(err error) string {
	switch {
	case errors.Is(err, hourly.ErrMissingAnchor):
		return KindMissingAnchor
	case errors.Is(err, hourly.ErrInconsistentTimeline):
		return KindInconsistentTimeline
	}
	return KindInvalidHospitalization
}

// ThresholdGap is a medication category seen in the data with no entry in
// the site drug table. Its pressor sub-flag defaults to eligible.
type ThresholdGap struct {
	Category string `json:"med_category"`
	Blocks   int    `json:"encounter_blocks"`
	Hours    int    `json:"hours"`
}
