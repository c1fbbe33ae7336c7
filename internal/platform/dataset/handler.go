package dataset

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/mobilization/internal/domain/engine"
	"github.com/ehr/mobilization/internal/platform/tabular"
	"github.com/ehr/mobilization/pkg/pagination"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1")
	api.GET("/summary", h.GetSummary)
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:block", h.GetEncounter)
	api.GET("/encounters/:block/hours", h.ListHours)
	api.GET("/encounters/:block/events", h.ListEvents)
}

func (h *Handler) snapshot(c echo.Context) (*Snapshot, error) {
	snap, err := h.store.Snapshot(c.Request().Context())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, err.Error()).SetInternal(err)
	}
	return snap, nil
}

func (h *Handler) Health(c echo.Context) error {
	snap, err := h.store.Snapshot(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"run_id":           snap.Summary.RunID,
		"site":             snap.Summary.Site,
		"encounter_blocks": len(snap.Blocks),
	})
}

func (h *Handler) GetSummary(c echo.Context) error {
	snap, err := h.snapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Summary)
}

// ListEncounters pages through block rows, optionally filtered by
// patient_id and outcome.
func (h *Handler) ListEncounters(c echo.Context) error {
	snap, err := h.snapshot(c)
	if err != nil {
		return err
	}
	patient, outcome := c.QueryParam("patient_id"), c.QueryParam("outcome")
	blocks := snap.Blocks
	if patient != "" || outcome != "" {
		blocks = nil
		for _, b := range snap.Blocks {
			if (patient == "" || b.PatientID == patient) && (outcome == "" || b.Outcome == outcome) {
				blocks = append(blocks, b)
			}
		}
	}
	return c.JSON(http.StatusOK, pagination.Page(blocks, pagination.FromContext(c), c.Request().URL.Path))
}

func blockParam(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("block"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid encounter block")
	}
	return id, nil
}

func (h *Handler) block(c echo.Context) (*Snapshot, int, error) {
	id, err := blockParam(c)
	if err != nil {
		return nil, 0, err
	}
	snap, err := h.snapshot(c)
	if err != nil {
		return nil, 0, err
	}
	if _, err := snap.Block(id); errors.Is(err, ErrNotFound) {
		return nil, 0, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return snap, id, nil
}

func (h *Handler) GetEncounter(c echo.Context) error {
	snap, id, err := h.block(c)
	if err != nil {
		return err
	}
	b, _ := snap.Block(id)
	return c.JSON(http.StatusOK, b)
}

// ListHours returns every hour of a block, as json or as a csv download with
// ?format=csv.
func (h *Handler) ListHours(c echo.Context) error {
	snap, id, err := h.block(c)
	if err != nil {
		return err
	}
	hours := snap.Hours(id)
	switch strings.ToLower(c.QueryParam("format")) {
	case "", "json":
		if hours == nil {
			hours = []engine.HourRow{}
		}
		return c.JSON(http.StatusOK, hours)
	case tabular.FormatCSV:
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
		res.Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="encounter_%d_hours.csv"`, id))
		res.WriteHeader(http.StatusOK)
		return tabular.EncodeCSV(res, hours)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or csv")
	}
}

// ListEvents returns the competing-risk rows of a block, optionally filtered
// by criteria and variant.
func (h *Handler) ListEvents(c echo.Context) error {
	snap, id, err := h.block(c)
	if err != nil {
		return err
	}
	set, variant := c.QueryParam("criteria"), c.QueryParam("variant")
	out := []engine.EventRow{}
	for _, e := range snap.Events(id) {
		if (set == "" || e.Criteria == set) && (variant == "" || e.Variant == variant) {
			out = append(out, e)
		}
	}
	return c.JSON(http.StatusOK, out)
}
