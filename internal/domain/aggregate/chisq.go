package aggregate

import (
	"errors"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrTooFewSites = errors.New("at least two site summaries are required")

// Units compared across sites.
const (
	UnitHours    = "hours"
	UnitPatients = "patients"
)

// ChiSquare is a test of independence between site and eligibility for one
// criteria set, on a sites x {eligible, not eligible} table. Skipped is set
// when a margin is zero and the statistic is undefined.
type ChiSquare struct {
	Criteria  string  `json:"criteria"`
	Unit      string  `json:"unit"`
	Sites     int     `json:"sites"`
	Statistic float64 `json:"statistic"`
	DF        int     `json:"df"`
	PValue    float64 `json:"p_value"`
	Skipped   string  `json:"skipped,omitempty"`
}

// Compare runs one test per criteria set and unit over every set present in
// the first summary. Sites missing a set are left out of that set's test.
func Compare(sites []SiteSummary) ([]ChiSquare, error) {
	if len(sites) < 2 {
		return nil, ErrTooFewSites
	}
	var out []ChiSquare
	for _, ref := range sites[0].Sets {
		var hours, patients [][2]float64
		for _, s := range sites {
			set, ok := s.Set(ref.Criteria)
			if !ok {
				continue
			}
			hours = append(hours, [2]float64{float64(set.EligibleHours), float64(set.TotalHours - set.EligibleHours)})
			patients = append(patients, [2]float64{float64(set.EligiblePatients), float64(set.TotalPatients - set.EligiblePatients)})
		}
		out = append(out, independence(ref.Criteria, UnitHours, hours), independence(ref.Criteria, UnitPatients, patients))
	}
	return out, nil
}

func independence(criteria, unit string, table [][2]float64) ChiSquare {
	res := ChiSquare{Criteria: criteria, Unit: unit, Sites: len(table)}
	if len(table) < 2 {
		res.Skipped = "only one site reports this criteria set"
		return res
	}

	var cols [2]float64
	rows := make([]float64, len(table))
	var total float64
	for i, r := range table {
		rows[i] = r[0] + r[1]
		cols[0] += r[0]
		cols[1] += r[1]
		total += rows[i]
	}
	for i, r := range rows {
		if r == 0 {
			res.Skipped = "site " + strconv.Itoa(i) + " has no observations"
			return res
		}
	}
	if cols[0] == 0 || cols[1] == 0 {
		res.Skipped = "eligibility does not vary"
		return res
	}

	observed := make([]float64, 0, 2*len(table))
	expected := make([]float64, 0, 2*len(table))
	for i, r := range table {
		for j := range r {
			observed = append(observed, r[j])
			expected = append(expected, rows[i]*cols[j]/total)
		}
	}
	res.Statistic = stat.ChiSquare(observed, expected)
	res.DF = len(table) - 1
	res.PValue = distuv.ChiSquared{K: float64(res.DF)}.Survival(res.Statistic)
	return res
}
