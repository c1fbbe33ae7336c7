package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSite = errors.New("invalid site configuration")

// Grid end policies: combine per-category last observation times by union
// (latest of them) or intersection (earliest of them).
const (
	GridEndMax = "max"
	GridEndMin = "min"
)

// Drug classes recognised in the threshold table.
const (
	ClassVasopressor = "vasopressor"
	ClassInotrope    = "inotrope"
	ClassParalytic   = "paralytic"
)

// Bounds is an optional closed interval. A nil side is unbounded; an explicit
// zero lower bound is a real bound.
type Bounds struct {
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
}

func (b Bounds) Contains(v float64) bool {
	if b.Lower != nil && v < *b.Lower {
		return false
	}
	if b.Upper != nil && v > *b.Upper {
		return false
	}
	return true
}

// Drug is one row of the per-drug threshold table.
type Drug struct {
	Class string `yaml:"class"`
	// MinThreshold is the dose at or above which the pressor sub-flag fails.
	// Nil means the drug never fails the sub-flag.
	MinThreshold *float64 `yaml:"min_threshold"`
	NEFactor     float64  `yaml:"ne_factor"`
}

type BusinessHours struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Contains reports whether a local clock hour is inside [Start, End).
func (b BusinessHours) Contains(hour int) bool {
	return hour >= b.Start && hour < b.End
}

type PatelThresholds struct {
	MAPMin  float64 `yaml:"map_min"`
	MAPMax  float64 `yaml:"map_max"`
	SBPMax  float64 `yaml:"sbp_max"`
	HRMin   float64 `yaml:"hr_min"`
	HRMax   float64 `yaml:"hr_max"`
	RRMin   float64 `yaml:"rr_min"`
	RRMax   float64 `yaml:"rr_max"`
	SpO2Min float64 `yaml:"spo2_min"`
}

type TEAMThresholds struct {
	HRMax      float64 `yaml:"hr_max"`
	LactateMax float64 `yaml:"lactate_max"`
	FiO2Max    float64 `yaml:"fio2_max"`
	PEEPMax    float64 `yaml:"peep_max"`
	RRMax      float64 `yaml:"rr_max"`
}

type GreenThresholds struct {
	SpO2Min    float64 `yaml:"spo2_min"`
	MAPMin     float64 `yaml:"map_min"`
	NEEBelow   float64 `yaml:"nee_below"`
	HRMin      float64 `yaml:"hr_min"`
	HRMax      float64 `yaml:"hr_max"`
	FiO2Max    float64 `yaml:"fio2_max"`
	RRMax      float64 `yaml:"rr_max"`
	PEEPMax    float64 `yaml:"peep_max"`
	LactateMax float64 `yaml:"lactate_max"`
}

// YellowThresholds are the relaxed caution bounds a non-red hour must still
// meet to be classified yellow.
type YellowThresholds struct {
	SpO2Min    float64 `yaml:"spo2_min"`
	MAPMin     float64 `yaml:"map_min"`
	NEEMax     float64 `yaml:"nee_max"`
	HRMin      float64 `yaml:"hr_min"`
	HRMax      float64 `yaml:"hr_max"`
	FiO2Max    float64 `yaml:"fio2_max"`
	RRMax      float64 `yaml:"rr_max"`
	PEEPMax    float64 `yaml:"peep_max"`
	LactateMax float64 `yaml:"lactate_max"`
}

// RedThresholds are strict: a value beyond the bound raises the red flag.
type RedThresholds struct {
	NEEAbove              float64 `yaml:"nee_above"`
	MAPBelow              float64 `yaml:"map_below"`
	HRAbove               float64 `yaml:"hr_above"`
	SpO2Below             float64 `yaml:"spo2_below"`
	RRAbove               float64 `yaml:"rr_above"`
	FiO2Above             float64 `yaml:"fio2_above"`
	PEEPAbove             float64 `yaml:"peep_above"`
	LactateAbove          float64 `yaml:"lactate_above"`
	ActivePressorsAtLeast int     `yaml:"active_pressors_at_least"`
}

type Criteria struct {
	Patel PatelThresholds `yaml:"patel"`
	TEAM  TEAMThresholds  `yaml:"team"`
	Green  GreenThresholds  `yaml:"green"`
	Yellow YellowThresholds `yaml:"yellow"`
	Red    RedThresholds    `yaml:"red"`
}

// Site is the per-site run configuration. It is loaded once and passed by
// value to every stage.
type Site struct {
	Name                 string            `yaml:"name"`
	Timezone             string            `yaml:"timezone"`
	BusinessHours        BusinessHours     `yaml:"business_hours"`
	LabTimeout           time.Duration     `yaml:"lab_timeout"`
	VitalTimeout         time.Duration     `yaml:"vital_timeout"`
	EarlyIntubationHours int               `yaml:"early_intubation_hours"`
	TruncationHours      int               `yaml:"truncation_hours"`
	StitchWindow         time.Duration     `yaml:"stitch_window"`
	VentilationDevice    string            `yaml:"ventilation_device"`
	GridEnd              string            `yaml:"grid_end"`
	OutlierBounds        map[string]Bounds `yaml:"outlier_bounds"`
	Drugs                map[string]Drug   `yaml:"drugs"`
	Criteria             Criteria          `yaml:"criteria"`

	loc *time.Location
}

func ptr(v float64) *float64 { return &v }

func DefaultSite() Site {
	s := Site{
		Name:                 "default",
		Timezone:             "UTC",
		BusinessHours:        BusinessHours{Start: 8, End: 17},
		LabTimeout:           24 * time.Hour,
		VitalTimeout:         24 * time.Hour,
		EarlyIntubationHours: 4,
		TruncationHours:      72,
		StitchWindow:         6 * time.Hour,
		VentilationDevice:    "IMV",
		GridEnd:              GridEndMax,
		OutlierBounds: map[string]Bounds{
			"map":              {Lower: ptr(0), Upper: ptr(250)},
			"sbp":              {Lower: ptr(0), Upper: ptr(300)},
			"heart_rate":       {Lower: ptr(0), Upper: ptr(300)},
			"respiratory_rate": {Lower: ptr(0), Upper: ptr(60)},
			"spo2":             {Lower: ptr(50), Upper: ptr(100)},
			"lactate":          {Lower: ptr(0), Upper: ptr(30)},
			"fio2_set":         {Lower: ptr(0.21), Upper: ptr(1)},
			"peep_set":         {Lower: ptr(0), Upper: ptr(30)},
		},
		Drugs: map[string]Drug{
			"norepinephrine": {Class: ClassVasopressor, MinThreshold: ptr(0.2), NEFactor: 1},
			"epinephrine":    {Class: ClassVasopressor, MinThreshold: ptr(0.2), NEFactor: 1},
			"phenylephrine":  {Class: ClassVasopressor, NEFactor: 0.1},
			"dopamine":       {Class: ClassVasopressor, MinThreshold: ptr(10), NEFactor: 0.01},
			"vasopressin":    {Class: ClassVasopressor, NEFactor: 2.5},
			"angiotensin":    {Class: ClassVasopressor, NEFactor: 10},
			"dobutamine":     {Class: ClassInotrope},
			"milrinone":      {Class: ClassInotrope},
			"cisatracurium":  {Class: ClassParalytic},
			"vecuronium":     {Class: ClassParalytic},
			"rocuronium":     {Class: ClassParalytic},
		},
		Criteria: Criteria{
			Patel:  PatelThresholds{MAPMin: 65, MAPMax: 110, SBPMax: 200, HRMin: 40, HRMax: 130, RRMin: 5, RRMax: 40, SpO2Min: 88},
			TEAM:   TEAMThresholds{HRMax: 150, LactateMax: 4, FiO2Max: 0.6, PEEPMax: 16, RRMax: 45},
			Green:  GreenThresholds{SpO2Min: 90, MAPMin: 65, NEEBelow: 0.1, HRMin: 40, HRMax: 120, FiO2Max: 0.6, RRMax: 30, PEEPMax: 10, LactateMax: 4},
			Yellow: YellowThresholds{SpO2Min: 85, MAPMin: 65, NEEMax: 0.3, HRMin: 40, HRMax: 150, FiO2Max: 0.8, RRMax: 45, PEEPMax: 16, LactateMax: 4},
			Red: RedThresholds{NEEAbove: 0.3, MAPBelow: 65, HRAbove: 150, SpO2Below: 85, RRAbove: 45,
				FiO2Above: 0.8, PEEPAbove: 16, LactateAbove: 4, ActivePressorsAtLeast: 2},
		},
	}
	s.loc = time.UTC
	return s
}

// LoadSite reads a site file over the defaults. An empty path returns the
// defaults.
func LoadSite(path string) (Site, error) {
	site := DefaultSite()
	if path == "" {
		return site, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Site{}, fmt.Errorf("read site config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &site); err != nil {
		return Site{}, fmt.Errorf("parse site config %s: %w", path, err)
	}
	if err := site.init(); err != nil {
		return Site{}, err
	}
	return site, nil
}

func (s *Site) init() error {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSite, s.Timezone, err)
	}
	s.loc = loc
	return s.Validate()
}

// Location returns the site timezone. Timestamps are converted into it before
// business-hour and weekday checks.
func (s Site) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func (s Site) Validate() error {
	if s.BusinessHours.Start < 0 || s.BusinessHours.End > 24 || s.BusinessHours.Start >= s.BusinessHours.End {
		return fmt.Errorf("%w: business_hours %d-%d", ErrInvalidSite, s.BusinessHours.Start, s.BusinessHours.End)
	}
	if s.LabTimeout <= 0 || s.VitalTimeout <= 0 {
		return fmt.Errorf("%w: carry-forward timeouts must be positive", ErrInvalidSite)
	}
	if s.TruncationHours <= 0 {
		return fmt.Errorf("%w: truncation_hours must be positive", ErrInvalidSite)
	}
	if s.EarlyIntubationHours < 0 {
		return fmt.Errorf("%w: early_intubation_hours must not be negative", ErrInvalidSite)
	}
	if s.StitchWindow < 0 {
		return fmt.Errorf("%w: stitch_window must not be negative", ErrInvalidSite)
	}
	if s.VentilationDevice == "" {
		return fmt.Errorf("%w: ventilation_device is required", ErrInvalidSite)
	}
	if s.GridEnd != GridEndMax && s.GridEnd != GridEndMin {
		return fmt.Errorf("%w: grid_end must be %q or %q, got %q", ErrInvalidSite, GridEndMax, GridEndMin, s.GridEnd)
	}
	for name, b := range s.OutlierBounds {
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return fmt.Errorf("%w: outlier bounds for %s are inverted", ErrInvalidSite, name)
		}
	}
	for name, d := range s.Drugs {
		switch d.Class {
		case ClassVasopressor, ClassInotrope, ClassParalytic:
		default:
			return fmt.Errorf("%w: drug %s has unknown class %q", ErrInvalidSite, name, d.Class)
		}
	}
	return nil
}

// Drug looks up a medication category in the threshold table.
func (s Site) Drug(category string) (Drug, bool) {
	d, ok := s.Drugs[category]
	return d, ok
}

// DrugsOfClass returns the configured categories of one class, sorted.
func (s Site) DrugsOfClass(class string) []string {
	var out []string
	for name, d := range s.Drugs {
		if d.Class == class {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// InBounds applies the configured outlier bounds for a variable. Variables
// without bounds accept every value.
func (s Site) InBounds(variable string, v float64) bool {
	b, ok := s.OutlierBounds[variable]
	if !ok {
		return true
	}
	return b.Contains(v)
}
