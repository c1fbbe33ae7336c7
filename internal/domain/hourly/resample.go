package hourly

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/observation"
)

type point struct {
	at    time.Time
	value float64
}

// cursor walks one variable's time-ordered points. Each point is consumed
// exactly once across the grid.
type cursor struct {
	pts  []point
	next int
}

// advance consumes every remaining point strictly before end.
func (c *cursor) advance(end time.Time) []point {
	from := c.next
	for c.next < len(c.pts) && c.pts[c.next].at.Before(end) {
		c.next++
	}
	return c.pts[from:c.next]
}

func newCursors(pts map[string][]point) map[string]*cursor {
	out := make(map[string]*cursor, len(pts))
	for name, p := range pts {
		sort.SliceStable(p, func(i, j int) bool { return p[i].at.Before(p[j].at) })
		out[name] = &cursor{pts: p}
	}
	return out
}

type summary struct {
	min, max, sum float64
	n             int
	last          time.Time
}

func summarize(pts []point) summary {
	s := summary{min: pts[0].value, max: pts[0].value}
	for _, p := range pts {
		if p.value < s.min {
			s.min = p.value
		}
		if p.value > s.max {
			s.max = p.value
		}
		s.sum += p.value
		s.n++
		s.last = p.at
	}
	return s
}

func (s summary) mean() float64 { return s.sum / float64(s.n) }

// vitalState carries the last hourly summary of one vital.
type vitalState struct {
	cur   *cursor
	carry *summary
}

// step returns the summary for [start, end). In-hour observations are
// summarized; without them the previous summary is carried while its last
// observation is within timeout of start.
func (v *vitalState) step(start, end time.Time, timeout time.Duration) *summary {
	pts := v.cur.advance(end)
	var in []point
	for i, p := range pts {
		if !p.at.Before(start) {
			in = pts[i:]
			break
		}
	}
	switch {
	case len(in) > 0:
		s := summarize(in)
		v.carry = &s
	case len(pts) > 0:
		s := summarize(pts[len(pts)-1:])
		v.carry = &s
	}
	if v.carry == nil || v.carry.last.Before(start.Add(-timeout)) {
		return nil
	}
	return v.carry
}

// labState carries the most recent value of a point lab.
type labState struct {
	cur  *cursor
	last *point
}

func (l *labState) step(start, end time.Time, timeout time.Duration) *float64 {
	if pts := l.cur.advance(end); len(pts) > 0 {
		p := pts[len(pts)-1]
		l.last = &p
	}
	if l.last == nil || l.last.at.Before(start.Add(-timeout)) {
		return nil
	}
	v := l.last.value
	return &v
}

type medEvent struct {
	at       time.Time
	category string
	dose     float64
}

type respState struct {
	device, mode string
	fio2, peep   *float64
	trach        bool
}

// Resample fills every grid hour from the block's observations. Out-of-bounds
// values are dropped before any carry-forward.
func Resample(g Grid, obs Observations, site config.Site) []Features {
	vitals := make(map[string]*vitalState)
	vitalPts := make(map[string][]point)
	for _, o := range obs.Vitals {
		if site.InBounds(o.VitalCategory, o.VitalValue) {
			vitalPts[o.VitalCategory] = append(vitalPts[o.VitalCategory], point{o.RecordedDttm, o.VitalValue})
		}
	}
	for name, c := range newCursors(vitalPts) {
		vitals[name] = &vitalState{cur: c}
	}

	labs := make(map[string]*labState)
	labPts := make(map[string][]point)
	for _, o := range obs.Labs {
		if site.InBounds(o.LabCategory, o.LabValueNumeric) {
			labPts[o.LabCategory] = append(labPts[o.LabCategory], point{o.LabResultDttm, o.LabValueNumeric})
		}
	}
	for name, c := range newCursors(labPts) {
		labs[name] = &labState{cur: c}
	}

	meds := make([]medEvent, 0, len(obs.Medications))
	for _, m := range obs.Medications {
		d := m.EffectiveDose()
		if d != 0 && !site.InBounds(m.MedCategory, d) {
			continue
		}
		meds = append(meds, medEvent{m.AdminDttm, m.MedCategory, d})
	}
	sort.SliceStable(meds, func(i, j int) bool { return meds[i].at.Before(meds[j].at) })

	resp := append([]observation.RespiratorySupport(nil), obs.Respiratory...)
	sort.SliceStable(resp, func(i, j int) bool { return resp[i].RecordedDttm.Before(resp[j].RecordedDttm) })

	out := make([]Features, g.Hours)
	doses := make(map[string]float64)
	var rs respState
	mi, ri := 0, 0
	loc := site.Location()

	for h := 0; h < g.Hours; h++ {
		start := g.HourStart(h)
		end := start.Add(time.Hour)
		local := start.In(loc)
		f := Features{Hour: h, Start: start, LocalHour: local.Hour(), Weekday: local.Weekday()}

		if s := stepVital(vitals, observation.VitalMAP, start, end, site.VitalTimeout); s != nil {
			f.AvgMAP = ptr(s.mean())
		}
		if s := stepVital(vitals, observation.VitalSBP, start, end, site.VitalTimeout); s != nil {
			f.MaxSBP = ptr(s.max)
		}
		if s := stepVital(vitals, observation.VitalHeartRate, start, end, site.VitalTimeout); s != nil {
			f.MinHR, f.MaxHR = ptr(s.min), ptr(s.max)
		}
		if s := stepVital(vitals, observation.VitalRespRate, start, end, site.VitalTimeout); s != nil {
			f.MinRR, f.MaxRR = ptr(s.min), ptr(s.max)
		}
		if s := stepVital(vitals, observation.VitalSpO2, start, end, site.VitalTimeout); s != nil {
			f.MinSpO2 = ptr(s.min)
		}
		if s := stepVital(vitals, observation.VitalGCS, start, end, site.VitalTimeout); s != nil {
			f.GCS = ptr(s.min)
		}

		f.Lactate = stepLab(labs, observation.LabLactate, start, end, site.LabTimeout)
		f.Creatinine = stepLab(labs, observation.LabCreatinine, start, end, site.LabTimeout)
		f.Bilirubin = stepLab(labs, observation.LabBilirubin, start, end, site.LabTimeout)
		f.Platelets = stepLab(labs, observation.LabPlatelets, start, end, site.LabTimeout)
		f.PaO2 = stepLab(labs, observation.LabPaO2, start, end, site.LabTimeout)

		for ; mi < len(meds) && meds[mi].at.Before(end); mi++ {
			doses[meds[mi].category] = meds[mi].dose
		}
		f.Doses = make(map[string]float64, len(doses))
		for k, v := range doses {
			f.Doses[k] = v
		}

		rs.reset()
		for ; ri < len(resp) && resp[ri].RecordedDttm.Before(end); ri++ {
			if resp[ri].RecordedDttm.Before(start) {
				rs.trach = rs.trach || resp[ri].HasTracheostomy()
				continue
			}
			rs.apply(resp[ri], site)
		}
		f.Device, f.Mode, f.FiO2, f.PEEP, f.Tracheostomy = rs.device, rs.mode, rs.fio2, rs.peep, rs.trach

		out[h] = f
	}
	return out
}

func stepVital(states map[string]*vitalState, name string, start, end time.Time, timeout time.Duration) *summary {
	st, ok := states[name]
	if !ok {
		return nil
	}
	return st.step(start, end, timeout)
}

func stepLab(states map[string]*labState, name string, start, end time.Time, timeout time.Duration) *float64 {
	st, ok := states[name]
	if !ok {
		return nil
	}
	return st.step(start, end, timeout)
}

// reset clears the device settings at an hour boundary. Only tracheostomy
// outlives the hour it was recorded in.
func (s *respState) reset() {
	s.device, s.mode, s.fio2, s.peep = "", "", nil, nil
}

// apply folds one in-hour respiratory record into the hour's state. A record
// with no device ends the previous device's settings; settings left blank on a
// later record for the same device keep the earlier in-hour value.
func (s *respState) apply(r observation.RespiratorySupport, site config.Site) {
	if r.HasTracheostomy() {
		s.trach = true
	}
	if r.DeviceCategory == "" {
		s.device, s.mode, s.fio2, s.peep = "", "", nil, nil
		return
	}
	if !strings.EqualFold(r.DeviceCategory, s.device) {
		s.fio2, s.peep, s.mode = nil, nil, ""
	}
	s.device = r.DeviceCategory
	if r.ModeCategory != "" {
		s.mode = r.ModeCategory
	}
	if r.FiO2Set != nil {
		v := *r.FiO2Set
		// Percent-scaled FiO2 is common in extracts.
		if v > 1 && v <= 100 {
			v /= 100
		}
		if site.InBounds(observation.SettingFiO2, v) {
			s.fio2 = ptr(v)
		}
	}
	if r.PEEPSet != nil && site.InBounds(observation.SettingPEEP, *r.PEEPSet) {
		s.peep = ptr(*r.PEEPSet)
	}
}

func ptr(v float64) *float64 { return &v }
