package telemetry

import (
	"time"

	"github.com/ehr/mobilization/internal/domain/engine"
)

// RecordRun publishes the counts of a finished run as gauges.
func (r *Registry) RecordRun(s engine.Summary) {
	site := Labels("site", s.Site)
	r.Set("mobilization_run_duration_seconds", "Wall time of the last run.", site, s.FinishedAt.Sub(s.StartedAt).Seconds())
	r.Set("mobilization_run_finished_timestamp_seconds", "Unix time the last run finished.", site, float64(s.FinishedAt.Unix()))
	r.Set("mobilization_hospitalizations", "Hospitalizations read by the last run.", site, float64(s.Hospitalizations))
	r.Set("mobilization_encounter_blocks", "Encounter blocks written by the last run.", site, float64(s.BlocksWritten))
	r.Set("mobilization_encounter_hours", "Encounter hours written by the last run.", site, float64(s.Hours))
	r.Set("mobilization_threshold_gaps", "Drugs without a conversion entry in the last run.", site, float64(len(s.ThresholdGaps)))

	excluded := map[string]int{}
	for _, e := range s.Excluded {
		excluded[e.Kind]++
	}
	for kind, n := range excluded {
		r.Set("mobilization_excluded_encounters", "Encounters left out of the last run by kind.",
			Labels("site", s.Site, "kind", kind), float64(n))
	}
	for _, set := range s.Eligibility.Sets {
		labels := Labels("site", s.Site, "criteria", set.Criteria)
		r.Set("mobilization_eligible_patients", "Patients eligible at least once in the last run.", labels, float64(set.EligiblePatients))
		r.Set("mobilization_eligible_hours", "Eligible hours in the last run.", labels, float64(set.EligibleHours))
	}
}

// ObserveStage counts one completed pipeline stage and its elapsed time.
func (r *Registry) ObserveStage(stage string, elapsed time.Duration) {
	labels := Labels("stage", stage)
	r.Add("mobilization_stage_runs_total", "Completed pipeline stages.", labels, 1)
	r.Set("mobilization_stage_duration_seconds", "Elapsed time of the last completed stage.", labels, elapsed.Seconds())
}
