// Package aggregate summarizes eligibility per site and compares sites.
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SiteSummaryFile is the per-run site summary shared between sites.
const SiteSummaryFile = "site_summary.json"

// SetSummary counts eligibility under one criteria set.
type SetSummary struct {
	Criteria         string `json:"criteria"`
	EligibleHours    int    `json:"eligible_hours"`
	TotalHours       int    `json:"total_hours"`
	EligiblePatients int    `json:"eligible_patients"`
	TotalPatients    int    `json:"total_patients"`
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func (s SetSummary) HourRate() float64    { return rate(s.EligibleHours, s.TotalHours) }
func (s SetSummary) PatientRate() float64 { return rate(s.EligiblePatients, s.TotalPatients) }

// SiteSummary holds only counts, never patient identifiers, so it can leave
// the site.
type SiteSummary struct {
	Site string       `json:"site"`
	Sets []SetSummary `json:"sets"`
}

func (s SiteSummary) Set(criteria string) (SetSummary, bool) {
	for _, set := range s.Sets {
		if set.Criteria == criteria {
			return set, true
		}
	}
	return SetSummary{}, false
}

type setCount struct {
	eligibleHours, totalHours int
	// patients maps patient id to whether any hour was eligible.
	patients map[string]bool
}

// Counter accumulates hourly eligibility. It is not safe for concurrent use.
type Counter struct {
	order []string
	sets  map[string]*setCount
}

func NewCounter() *Counter {
	return &Counter{sets: make(map[string]*setCount)}
}

// Add records one hour of one patient under one criteria set.
func (c *Counter) Add(criteria, patientID string, eligible bool) {
	sc, ok := c.sets[criteria]
	if !ok {
		sc = &setCount{patients: make(map[string]bool)}
		c.sets[criteria] = sc
		c.order = append(c.order, criteria)
	}
	sc.totalHours++
	if eligible {
		sc.eligibleHours++
	}
	sc.patients[patientID] = sc.patients[patientID] || eligible
}

// Summary returns the counts in the order criteria sets were first added.
func (c *Counter) Summary(site string) SiteSummary {
	out := SiteSummary{Site: site, Sets: make([]SetSummary, 0, len(c.order))}
	for _, name := range c.order {
		sc := c.sets[name]
		s := SetSummary{
			Criteria:      name,
			EligibleHours: sc.eligibleHours,
			TotalHours:    sc.totalHours,
			TotalPatients: len(sc.patients),
		}
		for _, ok := range sc.patients {
			if ok {
				s.EligiblePatients++
			}
		}
		out.Sets = append(out.Sets, s)
	}
	return out
}

func WriteSiteSummary(path string, s SiteSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func ReadSiteSummary(path string) (SiteSummary, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return SiteSummary{}, fmt.Errorf("read site summary: %w", err)
	}
	var s SiteSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return SiteSummary{}, fmt.Errorf("parse site summary %s: %w", path, err)
	}
	if s.Site == "" {
		s.Site = filepath.Base(filepath.Dir(path))
	}
	return s, nil
}

// Row is one line of the combined cross-site table.
type Row struct {
	Site string
	SetSummary
}

func (Row) CSVHeader() []string {
	return []string{"site", "criteria", "eligible_hours", "total_hours", "hour_rate",
		"eligible_patients", "total_patients", "patient_rate"}
}

func (r Row) CSVRow() []string {
	return []string{
		r.Site, r.Criteria,
		strconv.Itoa(r.EligibleHours), strconv.Itoa(r.TotalHours), strconv.FormatFloat(r.HourRate(), 'f', 4, 64),
		strconv.Itoa(r.EligiblePatients), strconv.Itoa(r.TotalPatients), strconv.FormatFloat(r.PatientRate(), 'f', 4, 64),
	}
}

// Rows flattens site summaries into the combined table.
func Rows(sites []SiteSummary) []Row {
	var out []Row
	for _, s := range sites {
		for _, set := range s.Sets {
			out = append(out, Row{Site: s.Site, SetSummary: set})
		}
	}
	return out
}
