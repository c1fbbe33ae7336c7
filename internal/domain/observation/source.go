package observation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/mobilization/internal/domain/cohort"
)

var ErrMissingTable = errors.New("input table not found")

// Table names shared by the file and database sources.
const (
	TableHospitalization = "hospitalization"
	TableVitals          = "vitals"
	TableLabs            = "labs"
	TableMedications     = "medication_admin_continuous"
	TableRespiratory     = "respiratory_support"
	TableCRRT            = "crrt_therapy"
)

// Source reads the input tables of one run.
type Source interface {
	Hospitalizations(ctx context.Context) ([]cohort.Hospitalization, error)
	Vitals(ctx context.Context) ([]Vital, error)
	Labs(ctx context.Context) ([]Lab, error)
	Medications(ctx context.Context) ([]Medication, error)
	Respiratory(ctx context.Context) ([]RespiratorySupport, error)
	CRRT(ctx context.Context) ([]CRRT, error)
}

// LoadAll reads every table concurrently. A missing required table fails the
// load; a missing CRRT table is logged and treated as empty.
func LoadAll(ctx context.Context, src Source, logger zerolog.Logger) (*Tables, error) {
	t := &Tables{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		t.Hospitalizations, err = src.Hospitalizations(ctx)
		return wrapTable(TableHospitalization, err)
	})
	g.Go(func() (err error) {
		t.Vitals, err = src.Vitals(ctx)
		return wrapTable(TableVitals, err)
	})
	g.Go(func() (err error) {
		t.Labs, err = src.Labs(ctx)
		return wrapTable(TableLabs, err)
	})
	g.Go(func() (err error) {
		t.Medications, err = src.Medications(ctx)
		return wrapTable(TableMedications, err)
	})
	g.Go(func() (err error) {
		t.Respiratory, err = src.Respiratory(ctx)
		return wrapTable(TableRespiratory, err)
	})
	g.Go(func() error {
		rows, err := src.CRRT(ctx)
		if errors.Is(err, ErrMissingTable) {
			logger.Warn().Str("table", TableCRRT).Msg("optional table missing, assuming no renal replacement therapy")
			return nil
		}
		if err != nil {
			return wrapTable(TableCRRT, err)
		}
		t.CRRT = rows
		t.HasCRRT = true
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	t.Normalize()

	logger.Info().
		Int("hospitalizations", len(t.Hospitalizations)).
		Int("vitals", len(t.Vitals)).
		Int("labs", len(t.Labs)).
		Int("medications", len(t.Medications)).
		Int("respiratory", len(t.Respiratory)).
		Int("crrt", len(t.CRRT)).
		Msg("input tables loaded")
	return t, nil
}

func wrapTable(table string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("load %s: %w", table, err)
}

// StaticSource serves tables already held in memory.
type StaticSource struct {
	Tables Tables
	// Missing names tables that report ErrMissingTable.
	Missing map[string]bool
}

func (s *StaticSource) missing(table string) error {
	if s.Missing[table] {
		return fmt.Errorf("%w: %s", ErrMissingTable, table)
	}
	return nil
}

func (s *StaticSource) Hospitalizations(context.Context) ([]cohort.Hospitalization, error) {
	return s.Tables.Hospitalizations, s.missing(TableHospitalization)
}

func (s *StaticSource) Vitals(context.Context) ([]Vital, error) {
	return s.Tables.Vitals, s.missing(TableVitals)
}

func (s *StaticSource) Labs(context.Context) ([]Lab, error) {
	return s.Tables.Labs, s.missing(TableLabs)
}

func (s *StaticSource) Medications(context.Context) ([]Medication, error) {
	return s.Tables.Medications, s.missing(TableMedications)
}

func (s *StaticSource) Respiratory(context.Context) ([]RespiratorySupport, error) {
	return s.Tables.Respiratory, s.missing(TableRespiratory)
}

func (s *StaticSource) CRRT(context.Context) ([]CRRT, error) {
	return s.Tables.CRRT, s.missing(TableCRRT)
}
