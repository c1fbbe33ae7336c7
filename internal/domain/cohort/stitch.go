package cohort

import (
	"sort"
	"time"
)

// Rejected is a hospitalization the stitcher could not place on a timeline.
type Rejected struct {
	Hospitalization Hospitalization
	Err             error
}

type stay struct {
	h   Hospitalization
	end time.Time
}

// Stitch groups hospitalizations into encounter blocks. Consecutive stays of
// one patient at the same facility are joined when the next admission starts
// no later than window after the current block ends. Block ids are assigned
// in patient id order, then admission order, starting at 1.
func Stitch(hosps []Hospitalization, window time.Duration) ([]Block, []Rejected) {
	byPatient := make(map[string][]stay)
	var rejected []Rejected
	for _, h := range hosps {
		end, err := h.TerminalTime()
		if err != nil {
			rejected = append(rejected, Rejected{Hospitalization: h, Err: err})
			continue
		}
		byPatient[h.PatientID] = append(byPatient[h.PatientID], stay{h: h, end: end})
	}

	patients := make([]string, 0, len(byPatient))
	for p := range byPatient {
		patients = append(patients, p)
	}
	sort.Strings(patients)

	var blocks []Block
	nextID := 1
	for _, p := range patients {
		stays := byPatient[p]
		sort.SliceStable(stays, func(i, j int) bool {
			if stays[i].h.AdmissionDttm.Equal(stays[j].h.AdmissionDttm) {
				return stays[i].h.HospitalizationID < stays[j].h.HospitalizationID
			}
			return stays[i].h.AdmissionDttm.Before(stays[j].h.AdmissionDttm)
		})

		var group []stay
		flush := func() {
			if len(group) == 0 {
				return
			}
			blocks = append(blocks, buildBlock(nextID, group))
			nextID++
			group = nil
		}
		for _, s := range stays {
			if len(group) > 0 {
				last := group[len(group)-1]
				blockEnd := groupEnd(group)
				if s.h.Facility != last.h.Facility || s.h.AdmissionDttm.Sub(blockEnd) > window {
					flush()
				}
			}
			group = append(group, s)
		}
		flush()
	}
	return blocks, rejected
}

func groupEnd(group []stay) time.Time {
	end := group[0].end
	for _, s := range group[1:] {
		if s.end.After(end) {
			end = s.end
		}
	}
	return end
}

func buildBlock(id int, group []stay) Block {
	first := group[0].h
	b := Block{
		ID:                 id,
		PatientID:          first.PatientID,
		Facility:           first.Facility,
		HospitalizationIDs: make([]string, 0, len(group)),
		Start:              first.AdmissionDttm,
		End:                groupEnd(group),
		Outcome:            OutcomeDischarged,
		AgeAtAdmission:     first.AgeAtAdmission,
	}

	var death *time.Time
	for _, s := range group {
		b.HospitalizationIDs = append(b.HospitalizationIDs, s.h.HospitalizationID)
		if s.h.DischargeCategory != "" {
			b.DischargeCategory = s.h.DischargeCategory
		}
		switch {
		case s.h.DeathDttm != nil:
			t := *s.h.DeathDttm
			if death == nil || t.Before(*death) {
				death = &t
			}
			b.Outcome = OutcomeDied
		case ExpiredToHospice(s.h.DischargeCategory):
			t := s.end
			if death == nil || t.Before(*death) {
				death = &t
			}
			b.Outcome = OutcomeDied
		}
	}
	b.DeathTime = death
	return b
}
