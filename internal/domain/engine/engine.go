// Package engine runs the per-block mobilization pipeline over a closed batch
// of observations and collects the output tables and run summary.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/aggregate"
	"github.com/ehr/mobilization/internal/domain/cohort"
	"github.com/ehr/mobilization/internal/domain/criteria"
	"github.com/ehr/mobilization/internal/domain/observation"
)

var ErrNoHospitalizations = errors.New("hospitalization table is empty")

// Result is everything a run produces, ordered by block and hour.
type Result struct {
	Summary Summary
	Blocks  []BlockRow
	Hours   []HourRow
	Events  []EventRow
	Errors  []*EncounterError
}

// EventsFor returns the event rows of one criteria set.
func (r *Result) EventsFor(set string) []EventRow {
	var out []EventRow
	for _, e := range r.Events {
		if e.Criteria == set {
			out = append(out, e)
		}
	}
	return out
}

type Engine struct {
	site    config.Site
	workers int
	logger  zerolog.Logger
}

func New(site config.Site, workers int, logger zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{site: site, workers: workers, logger: logger}
}

// Run stitches blocks and processes each on its own worker. Failures scoped
// to one block are recorded in the summary and never stop the run.
func (e *Engine) Run(ctx context.Context, tables *observation.Tables) (*Result, error) {
	started := time.Now().UTC()
	runID := uuid.New().String()
	log := e.logger.With().Str("run_id", runID).Str("site", e.site.Name).Logger()

	if len(tables.Hospitalizations) == 0 {
		return nil, ErrNoHospitalizations
	}

	blocks, rejected := cohort.Stitch(tables.Hospitalizations, e.site.StitchWindow)
	res := &Result{}
	for _, r := range rejected {
		res.Errors = append(res.Errors, &EncounterError{
			PatientID:         r.Hospitalization.PatientID,
			HospitalizationID: r.Hospitalization.HospitalizationID,
			Kind:              KindInvalidHospitalization,
			Err:               r.Err,
		})
	}
	log.Info().Int("hospitalizations", len(tables.Hospitalizations)).Int("blocks", len(blocks)).Msg("encounter blocks stitched")

	inputs := partition(blocks, tables)
	outputs := make([]blockOutput, len(inputs))
	errs := make([]error, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i], errs[i] = processBlock(inputs[i], e.site)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counter := aggregate.NewCounter()
	gaps := make(map[string]*ThresholdGap)
	for i, in := range inputs {
		if errs[i] != nil {
			res.Errors = append(res.Errors, &EncounterError{
				Block:     in.block.ID,
				PatientID: in.block.PatientID,
				Kind:      kindOf(errs[i]),
				Err:       errs[i],
			})
			continue
		}
		out := outputs[i]
		res.Blocks = append(res.Blocks, out.block)
		res.Hours = append(res.Hours, out.hours...)
		res.Events = append(res.Events, out.events...)
		for _, h := range out.hours {
			for _, set := range criteria.Sets {
				counter.Add(set, h.PatientID, h.Eligible(set))
			}
		}
		for cat, n := range out.gaps {
			gap, ok := gaps[cat]
			if !ok {
				gap = &ThresholdGap{Category: cat}
				gaps[cat] = gap
			}
			gap.Blocks++
			gap.Hours += n
		}
	}

	for _, ee := range res.Errors {
		log.Warn().
			Int("encounter_block", ee.Block).
			Str("patient_id", ee.PatientID).
			Str("hospitalization_id", ee.HospitalizationID).
			Str("reason", ee.Kind).
			Err(ee.Err).
			Msg("encounter excluded")
	}

	gapList := make([]ThresholdGap, 0, len(gaps))
	for _, g := range gaps {
		gapList = append(gapList, *g)
	}
	sort.Slice(gapList, func(i, j int) bool { return gapList[i].Category < gapList[j].Category })
	for _, g := range gapList {
		log.Warn().
			Str("med_category", g.Category).
			Int("encounter_blocks", g.Blocks).
			Int("hours", g.Hours).
			Msg("medication category missing from drug threshold table, pressor sub-flag defaulted to eligible")
	}

	res.Summary = Summary{
		RunID:            runID,
		Site:             e.site.Name,
		StartedAt:        started,
		FinishedAt:       time.Now().UTC(),
		Hospitalizations: len(tables.Hospitalizations),
		Blocks:           len(blocks),
		BlocksWritten:    len(res.Blocks),
		Hours:            len(res.Hours),
		HasCRRT:          tables.HasCRRT,
		Excluded:         exclusions(res.Errors),
		ThresholdGaps:    gapList,
		Eligibility:      counter.Summary(e.site.Name),
	}
	log.Info().
		Int("blocks_written", res.Summary.BlocksWritten).
		Int("blocks_excluded", len(res.Summary.Excluded)).
		Int("hours", res.Summary.Hours).
		Dur("elapsed", res.Summary.FinishedAt.Sub(started)).
		Msg("run complete")
	return res, nil
}

// partition routes every observation to the block that owns its
// hospitalization. Observations of unknown hospitalizations are ignored.
func partition(blocks []cohort.Block, t *observation.Tables) []blockInput {
	inputs := make([]blockInput, len(blocks))
	owner := make(map[string]int)
	for i, b := range blocks {
		inputs[i].block = b
		for _, id := range b.HospitalizationIDs {
			owner[id] = i
		}
	}
	for _, v := range t.Vitals {
		if i, ok := owner[v.HospitalizationID]; ok {
			inputs[i].obs.Vitals = append(inputs[i].obs.Vitals, v)
		}
	}
	for _, l := range t.Labs {
		if i, ok := owner[l.HospitalizationID]; ok {
			inputs[i].obs.Labs = append(inputs[i].obs.Labs, l)
		}
	}
	for _, m := range t.Medications {
		if i, ok := owner[m.HospitalizationID]; ok {
			inputs[i].obs.Medications = append(inputs[i].obs.Medications, m)
		}
	}
	for _, r := range t.Respiratory {
		if i, ok := owner[r.HospitalizationID]; ok {
			inputs[i].obs.Respiratory = append(inputs[i].obs.Respiratory, r)
		}
	}
	for _, c := range t.CRRT {
		if i, ok := owner[c.HospitalizationID]; ok {
			inputs[i].crrt = append(inputs[i].crrt, c.RecordedDttm)
		}
	}
	return inputs
}
