package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ehr/mobilization/internal/domain/aggregate"
	"github.com/ehr/mobilization/internal/domain/criteria"
	"github.com/ehr/mobilization/internal/platform/tabular"
)

// Output table names under OUTPUT_PATH.
const (
	TableHours  = "final_df_w_criteria"
	TableBlocks = "final_df_blocks"
	TableEvents = "competing_risk_final"
	SummaryFile = "run_summary.json"
)

// EventsTable names the per-criteria-set competing risk table.
func EventsTable(set string) string {
	return "competing_risk_" + set + "_final"
}

// Sink persists the result of one run.
type Sink interface {
	Write(ctx context.Context, res *Result) error
}

// FileSink writes parquet tables, optional csv copies and the json summaries.
type FileSink struct {
	dir    string
	csv    bool
	logger zerolog.Logger
}

func NewFileSink(dir string, csv bool, logger zerolog.Logger) *FileSink {
	return &FileSink{dir: dir, csv: csv, logger: logger}
}

func writeTable[T tabular.Record](s *FileSink, name string, rows []T) error {
	path := tabular.Path(s.dir, name, tabular.FormatParquet)
	if err := tabular.WriteParquet(path, rows); err != nil {
		return err
	}
	if s.csv {
		if err := tabular.WriteCSV(tabular.Path(s.dir, name, tabular.FormatCSV), rows); err != nil {
			return err
		}
	}
	s.logger.Debug().Str("table", name).Int("rows", len(rows)).Msg("output table written")
	return nil
}

func (s *FileSink) Write(_ context.Context, res *Result) error {
	if err := writeTable(s, TableHours, res.Hours); err != nil {
		return err
	}
	if err := writeTable(s, TableBlocks, res.Blocks); err != nil {
		return err
	}
	if err := writeTable(s, TableEvents, res.Events); err != nil {
		return err
	}
	for _, set := range criteria.Sets {
		if err := writeTable(s, EventsTable(set), res.EventsFor(set)); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(res.Summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, SummaryFile), b, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	if err := aggregate.WriteSiteSummary(filepath.Join(s.dir, aggregate.SiteSummaryFile), res.Summary.Eligibility); err != nil {
		return fmt.Errorf("write site summary: %w", err)
	}
	s.logger.Info().Str("dir", s.dir).Msg("outputs written")
	return nil
}

// MultiSink writes to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, res *Result) error {
	for _, s := range m {
		if err := s.Write(ctx, res); err != nil {
			return err
		}
	}
	return nil
}
