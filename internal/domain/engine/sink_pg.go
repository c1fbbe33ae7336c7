package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGSink stores a run in the result schema created by the migrations. All
// rows of a run are written in one transaction.
type PGSink struct {
	pool   *pgxpool.Pool
	schema string
	logger zerolog.Logger
}

func NewPGSink(pool *pgxpool.Pool, schema string, logger zerolog.Logger) *PGSink {
	return &PGSink{pool: pool, schema: schema, logger: logger}
}

var (
	blockColumns = []string{"run_id", "encounter_block", "patient_id", "facility", "hospitalization_ids",
		"block_start_dttm", "block_end_dttm", "vent_start_dttm", "hours", "outcome", "death_dttm",
		"discharge_category", "age_at_admission"}
	hourColumns = []string{"run_id", "encounter_block", "patient_id", "time_from_vent", "recorded_dttm",
		"recorded_hour", "avg_map", "ne_calc_last", "sofa_total", "excluded", "patel_flag", "team_flag",
		"green_flag", "yellow_flag", "consensus_tier", "detail"}
	eventColumns = []string{"run_id", "encounter_block", "patient_id", "criteria", "variant",
		"time_eligibility", "t_event", "outcome", "event_type"}
)

func (s *PGSink) Write(ctx context.Context, res *Result) error {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	runID, err := uuid.Parse(res.Summary.RunID)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	hourRows := make([][]any, 0, len(res.Hours))
	for _, h := range res.Hours {
		detail, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode hour detail: %w", err)
		}
		hourRows = append(hourRows, []any{runID, h.EncounterBlock, h.PatientID, h.TimeFromVent, h.RecordedDttm,
			h.RecordedHour, h.AvgMAP, h.NEE, h.SOFATotal, h.Excluded, h.Patel, h.TEAM, h.Green, h.Yellow,
			h.Tier, detail})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (run_id, site, started_at, finished_at, blocks_written, hours, summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.table("runs")),
		runID, res.Summary.Site, res.Summary.StartedAt, res.Summary.FinishedAt,
		res.Summary.BlocksWritten, res.Summary.Hours, summary,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	blocks := pgx.CopyFromSlice(len(res.Blocks), func(i int) ([]any, error) {
		b := res.Blocks[i]
		return []any{runID, b.EncounterBlock, b.PatientID, b.Facility, b.HospitalizationIDs, b.BlockStart,
			b.BlockEnd, b.VentStart, b.Hours, b.Outcome, b.DeathDttm, b.DischargeCategory, b.AgeAtAdmission}, nil
	})
	if err := s.copy(ctx, tx, "encounter_blocks", blockColumns, blocks); err != nil {
		return err
	}
	if err := s.copy(ctx, tx, "hourly_eligibility", hourColumns, pgx.CopyFromRows(hourRows)); err != nil {
		return err
	}
	events := pgx.CopyFromSlice(len(res.Events), func(i int) ([]any, error) {
		e := res.Events[i]
		return []any{runID, e.EncounterBlock, e.PatientID, e.Criteria, e.Variant, e.TimeEligibility,
			e.TEvent, int16(e.Outcome), e.EventType}, nil
	})
	if err := s.copy(ctx, tx, "competing_risk_events", eventColumns, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", runID, err)
	}
	s.logger.Info().Str("run_id", res.Summary.RunID).Str("schema", s.schema).Int("hours", len(res.Hours)).Msg("run stored in postgres")
	return nil
}

func (s *PGSink) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PGSink) copy(ctx context.Context, tx pgx.Tx, table string, cols []string, src pgx.CopyFromSource) error {
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.schema, table}, cols, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	s.logger.Debug().Str("table", table).Int64("rows", n).Msg("rows copied")
	return nil
}
