package observation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/mobilization/internal/domain/cohort"
)

const undefinedTable = "42P01"

type pgSource struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPGSource reads the input tables from a Postgres schema.
func NewPGSource(pool *pgxpool.Pool, schema string) Source {
	return &pgSource{pool: pool, schema: schema}
}

func (s *pgSource) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func queryAll[T any](ctx context.Context, s *pgSource, table, cols string) ([]T, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", cols, s.table(table)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingTable, s.schema, table)
		}
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return out, nil
}

const hospCols = `patient_id, hospitalization_id, COALESCE(facility, '') AS facility,
	admission_dttm, discharge_dttm, death_dttm,
	COALESCE(discharge_category, '') AS discharge_category, age_at_admission`

func (s *pgSource) Hospitalizations(ctx context.Context) ([]cohort.Hospitalization, error) {
	return queryAll[cohort.Hospitalization](ctx, s, TableHospitalization, hospCols)
}

func (s *pgSource) Vitals(ctx context.Context) ([]Vital, error) {
	return queryAll[Vital](ctx, s, TableVitals,
		`hospitalization_id, recorded_dttm, vital_category, vital_value`)
}

func (s *pgSource) Labs(ctx context.Context) ([]Lab, error) {
	return queryAll[Lab](ctx, s, TableLabs,
		`hospitalization_id, lab_result_dttm, lab_category, lab_value_numeric`)
}

func (s *pgSource) Medications(ctx context.Context) ([]Medication, error) {
	return queryAll[Medication](ctx, s, TableMedications,
		`hospitalization_id, admin_dttm, med_category, COALESCE(med_dose, 0) AS med_dose,
		COALESCE(med_dose_unit, '') AS med_dose_unit, COALESCE(mar_action_name, '') AS mar_action_name`)
}

func (s *pgSource) Respiratory(ctx context.Context) ([]RespiratorySupport, error) {
	return queryAll[RespiratorySupport](ctx, s, TableRespiratory,
		`hospitalization_id, recorded_dttm, COALESCE(device_category, '') AS device_category,
		COALESCE(mode_category, '') AS mode_category, fio2_set, peep_set, tracheostomy`)
}

func (s *pgSource) CRRT(ctx context.Context) ([]CRRT, error) {
	return queryAll[CRRT](ctx, s, TableCRRT,
		`hospitalization_id, recorded_dttm, COALESCE(crrt_mode_category, '') AS crrt_mode_category`)
}
