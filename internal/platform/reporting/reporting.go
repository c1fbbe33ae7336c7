// Package reporting evaluates predefined measures over the result schema
// written by the postgres sink.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

// MeasureDefinition is one report. {schema} in SQL is replaced with the
// quoted result schema and $1 is bound to the run id.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "eligibility-by-criteria",
		Name:        "Eligibility by Criteria",
		Description: "Encounter blocks reaching eligibility per criteria set, with the mean hour of first eligibility",
		SQL: `SELECT criteria,
       COUNT(*) FILTER (WHERE outcome = 1) AS eligible_blocks,
       COUNT(*) AS total_blocks,
       AVG(time_eligibility)::float8 AS mean_time_eligibility
FROM {schema}.competing_risk_events
WHERE run_id = $1 AND variant = 'full'
GROUP BY criteria ORDER BY criteria`,
	},
	{
		ID:          "block-outcomes",
		Name:        "Encounter Block Outcomes",
		Description: "Encounter blocks by hospital outcome",
		SQL: `SELECT outcome, COUNT(*) AS blocks, SUM(hours) AS hours
FROM {schema}.encounter_blocks
WHERE run_id = $1
GROUP BY outcome ORDER BY outcome`,
	},
	{
		ID:          "consensus-tier-hours",
		Name:        "Consensus Tier Hours",
		Description: "Encounter hours per consensus tier",
		SQL: `SELECT consensus_tier, COUNT(*) AS hours
FROM {schema}.hourly_eligibility
WHERE run_id = $1
GROUP BY consensus_tier ORDER BY consensus_tier`,
	},
	{
		ID:          "eligibility-by-hour-of-day",
		Name:        "Eligibility by Hour of Day",
		Description: "Eligible hours per criteria set by clock hour",
		SQL: `SELECT recorded_hour,
       COUNT(*) FILTER (WHERE patel_flag) AS patel,
       COUNT(*) FILTER (WHERE team_flag) AS team,
       COUNT(*) FILTER (WHERE green_flag) AS green,
       COUNT(*) FILTER (WHERE yellow_flag) AS yellow,
       COUNT(*) AS hours
FROM {schema}.hourly_eligibility
WHERE run_id = $1
GROUP BY recorded_hour ORDER BY recorded_hour`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Render returns the measure SQL qualified with schema.
func (m *MeasureDefinition) Render(schema string) string {
	return strings.ReplaceAll(m.SQL, "{schema}", pgx.Identifier{schema}.Sanitize())
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var errNoRuns = errors.New("no runs recorded")

type Handler struct {
	db     Querier
	schema string
}

func NewHandler(db Querier, schema string) *Handler {
	return &Handler{db: db, schema: schema}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs a measure against ?run_id, or the latest run when the
// parameter is absent.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	ctx := c.Request().Context()
	runID := c.QueryParam("run_id")
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "run_id must be a uuid")
		}
	} else {
		latest, err := h.latestRun(ctx)
		if errors.Is(err, errNoRuns) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "latest run lookup failed").SetInternal(err)
		}
		runID = latest
	}

	results, err := h.executeSQL(ctx, measure.Render(h.schema), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err)).SetInternal(err)
	}
	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	})
}

func (h *Handler) latestRun(ctx context.Context) (string, error) {
	sql := fmt.Sprintf("SELECT run_id::text FROM %s ORDER BY finished_at DESC LIMIT 1",
		pgx.Identifier{h.schema, "runs"}.Sanitize())
	var id string
	if err := h.db.QueryRow(ctx, sql).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errNoRuns
		}
		return "", err
	}
	return id, nil
}

func (h *Handler) executeSQL(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
