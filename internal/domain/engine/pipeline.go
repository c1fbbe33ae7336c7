package engine

import (
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/cohort"
	"github.com/ehr/mobilization/internal/domain/criteria"
	"github.com/ehr/mobilization/internal/domain/eventtime"
	"github.com/ehr/mobilization/internal/domain/exclusion"
	"github.com/ehr/mobilization/internal/domain/hourly"
	"github.com/ehr/mobilization/internal/domain/score"
)

// blockInput is owned by exactly one worker.
type blockInput struct {
	block cohort.Block
	obs   hourly.Observations
	crrt  []time.Time
}

type blockOutput struct {
	block  BlockRow
	hours  []HourRow
	events []EventRow
	// gaps counts hours per untabled medication category.
	gaps map[string]int
}

// processBlock runs every stage for one block: grid, resampling, scores,
// exclusion mask, the three criteria sets and event times.
func processBlock(in blockInput, site config.Site) (blockOutput, error) {
	grid, err := hourly.BuildGrid(in.block, in.obs, site)
	if err != nil {
		return blockOutput{}, err
	}
	features := hourly.Resample(grid, in.obs, site)
	crrt := score.NewCRRTIndex(in.crrt)

	out := blockOutput{
		hours: make([]HourRow, 0, len(features)),
		gaps:  make(map[string]int),
	}
	for _, f := range features {
		onCRRT := crrt.Active(f.Start, f.End())
		sofa := score.Compute(f, onCRRT)
		mask := exclusion.Evaluate(f, site)
		patel := criteria.EvaluatePatel(f, mask, site)
		team := criteria.EvaluateTEAM(f, mask, site)
		cons := criteria.EvaluateConsensus(f, mask, site)
		for _, cat := range criteria.Untabled(f, site) {
			out.gaps[cat]++
		}
		row := newHourRow(in.block, f, site.Location())
		row.setScores(sofa, onCRRT)
		row.setMask(mask)
		row.setPatel(patel)
		row.setTEAM(team)
		row.setConsensus(cons)
		out.hours = append(out.hours, row)
	}

	for _, set := range criteria.Sets {
		tl := eventtime.Timeline{
			Hours:    make([]eventtime.Hour, len(out.hours)),
			Anchor:   grid.Anchor,
			Died:     in.block.Died(),
			Terminal: in.block.TerminalTime(),
		}
		for i, r := range out.hours {
			tl.Hours[i] = eventtime.Hour{Index: r.TimeFromVent, Eligible: r.Eligible(set), Weekday: features[i].Weekday}
		}
		for _, ev := range eventtime.DeriveAll(tl, site.TruncationHours) {
			out.events = append(out.events, EventRow{
				EncounterBlock:  in.block.ID,
				PatientID:       in.block.PatientID,
				Criteria:        set,
				Variant:         string(ev.Variant),
				TimeEligibility: ev.TimeEligibility,
				TEvent:          ev.Time,
				Outcome:         int(ev.Outcome),
				EventType:       ev.Outcome.String(),
			})
		}
	}

	out.block = newBlockRow(in.block, grid, in.obs)
	return out, nil
}

func newHourRow(b cohort.Block, f hourly.Features, loc *time.Location) HourRow {
	return HourRow{
		EncounterBlock: b.ID,
		PatientID:      b.PatientID,
		TimeFromVent:   f.Hour,
		RecordedDttm:   f.Start.In(loc),
		RecordedHour:   f.LocalHour,
		DayOfWeek:      f.Weekday.String(),
		AvgMAP:         f.AvgMAP,
		MaxSBP:         f.MaxSBP,
		MinHR:          f.MinHR,
		MaxHR:          f.MaxHR,
		MinRR:          f.MinRR,
		MaxRR:          f.MaxRR,
		MinSpO2:        f.MinSpO2,
		GCS:            f.GCS,
		Lactate:        f.Lactate,
		Creatinine:     f.Creatinine,
		Bilirubin:      f.Bilirubin,
		Platelets:      f.Platelets,
		PaO2:           f.PaO2,
		FiO2:           f.FiO2,
		PEEP:           f.PEEP,
		Device:         f.Device,
		Mode:           f.Mode,
		ActiveMeds:     strings.Join(f.ActiveDrugs(), ";"),
	}
}

func (r *HourRow) setScores(s score.SOFA, onCRRT bool) {
	r.SOFAResp, r.SOFACoag, r.SOFALiver = s.Respiratory, s.Coagulation, s.Liver
	r.SOFACV, r.SOFARenal, r.SOFACNS = s.Cardiovascular, s.Renal, s.CNS
	r.SOFATotal = s.Total()
	r.PFRatio = s.PFRatio
	r.CRRTActive = onCRRT
}

func (r *HourRow) setMask(m exclusion.Mask) {
	r.Paralytics = m.Paralytic
	r.Trach = m.Tracheostomy
	r.EarlyIntubation = m.EarlyIntubation
	r.OffHours = m.OffHours
	r.Excluded = m.Excluded()
}

func (r *HourRow) setPatel(p criteria.Patel) {
	r.PatelMAP, r.PatelSBP, r.PatelHR = p.MAP, p.SBP, p.HeartRate
	r.PatelRR, r.PatelSpO2, r.PatelPressor = p.RespRate, p.SpO2, p.Pressor
	r.Patel = p.Eligible
	r.PatelReasons = joinReasons(p.Reasons)
}

func (r *HourRow) setTEAM(t criteria.TEAM) {
	r.TEAMHR, r.TEAMLactate, r.TEAMNoNE = t.HeartRate, t.Lactate, t.NoNE
	r.TEAMFiO2, r.TEAMPEEP, r.TEAMRR = t.FiO2, t.PEEP, t.RespRate
	r.TEAMPressor = t.Pressor
	r.TEAM = t.Eligible
	r.TEAMReasons = joinReasons(t.Reasons)
}

func (r *HourRow) setConsensus(c criteria.Consensus) {
	g, y, red := c.Flags, c.Caution, c.Red
	r.NEE = c.NEE
	r.GreenSpO2, r.GreenMAP, r.GreenNEE = g.SpO2, g.MAP, g.NEE
	r.GreenHR, r.GreenFiO2, r.GreenRR = g.HeartRate, g.FiO2, g.RespRate
	r.GreenPEEP, r.GreenLactate, r.GreenPressor = g.PEEP, g.Lactate, g.Pressor
	r.YellowSpO2, r.YellowMAP, r.YellowNEE, r.YellowHR = y.SpO2, y.MAP, y.NEE, y.HeartRate
	r.YellowFiO2, r.YellowRR, r.YellowPEEP, r.YellowLactate = y.FiO2, y.RespRate, y.PEEP, y.Lactate
	r.RedNEE, r.RedMAP, r.RedHR = red.NEE, red.MAP, red.HR
	r.RedSpO2, r.RedRR, r.RedFiO2 = red.SpO2, red.RespRate, red.FiO2
	r.RedPEEP, r.RedLactate, r.RedPressors = red.PEEP, red.Lactate, red.Pressors
	r.AnyRed = red.Any()
	r.Tier = string(c.Tier)
	r.Green, r.GreenReasons = c.Green.Eligible, joinReasons(c.Green.Reasons)
	r.Yellow, r.YellowReasons = c.Yellow.Eligible, joinReasons(c.Yellow.Reasons)
}

func newBlockRow(b cohort.Block, g hourly.Grid, obs hourly.Observations) BlockRow {
	row := BlockRow{
		EncounterBlock:     b.ID,
		PatientID:          b.PatientID,
		Facility:           b.Facility,
		HospitalizationIDs: strings.Join(b.HospitalizationIDs, ";"),
		BlockStart:         b.Start,
		BlockEnd:           b.End,
		VentStart:          g.Anchor,
		Hours:              g.Hours,
		Outcome:            string(b.Outcome),
		DeathDttm:          b.DeathTime,
		DischargeCategory:  b.DischargeCategory,
		AgeAtAdmission:     b.AgeAtAdmission,
	}
	for _, v := range obs.Vitals {
		t := v.RecordedDttm
		if row.FirstVital == nil || t.Before(*row.FirstVital) {
			row.FirstVital = &t
		}
		if row.LastVital == nil || t.After(*row.LastVital) {
			lt := t
			row.LastVital = &lt
		}
	}
	return row
}
