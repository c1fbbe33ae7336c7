package cohort

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func at(h float64) *time.Time {
	t := t0.Add(time.Duration(h * float64(time.Hour)))
	return &t
}

func hosp(patient, id string, admit, discharge float64, category string) Hospitalization {
	return Hospitalization{
		PatientID:         patient,
		HospitalizationID: id,
		AdmissionDttm:     *at(admit),
		DischargeDttm:     at(discharge),
		DischargeCategory: category,
	}
}

func TestStitch_JoinsAdjacentStays(t *testing.T) {
	hosps := []Hospitalization{
		hosp("p1", "h2", 50, 80, "Home"),
		hosp("p1", "h1", 0, 48, "Acute Care Hospital"),
	}
	blocks, rejected := Stitch(hosps, 6*time.Hour)
	if len(rejected) != 0 {
		t.Fatalf("expected no rejected, got %d", len(rejected))
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.ID != 1 {
		t.Errorf("expected block id 1, got %d", b.ID)
	}
	if len(b.HospitalizationIDs) != 2 || b.HospitalizationIDs[0] != "h1" || b.HospitalizationIDs[1] != "h2" {
		t.Errorf("unexpected hospitalization ids %v", b.HospitalizationIDs)
	}
	if !b.Start.Equal(*at(0)) || !b.End.Equal(*at(80)) {
		t.Errorf("unexpected span %s - %s", b.Start, b.End)
	}
	if b.Outcome != OutcomeDischarged {
		t.Errorf("expected discharged, got %s", b.Outcome)
	}
	if b.DischargeCategory != "Home" {
		t.Errorf("expected last discharge category Home, got %s", b.DischargeCategory)
	}
}

func TestStitch_SplitsOnGap(t *testing.T) {
	hosps := []Hospitalization{
		hosp("p1", "h1", 0, 48, "Home"),
		hosp("p1", "h2", 60, 80, "Home"),
	}
	blocks, _ := Stitch(hosps, 6*time.Hour)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].ID != 1 || blocks[1].ID != 2 {
		t.Errorf("unexpected ids %d, %d", blocks[0].ID, blocks[1].ID)
	}
}

func TestStitch_SplitsOnFacility(t *testing.T) {
	a := hosp("p1", "h1", 0, 48, "Home")
	a.Facility = "north"
	b := hosp("p1", "h2", 49, 80, "Home")
	b.Facility = "south"
	blocks, _ := Stitch([]Hospitalization{a, b}, 6*time.Hour)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks across facilities, got %d", len(blocks))
	}
}

func TestStitch_OverlappingStays(t *testing.T) {
	hosps := []Hospitalization{
		hosp("p1", "h1", 0, 48, "Home"),
		hosp("p1", "h2", 10, 30, "Home"),
		hosp("p1", "h3", 50, 60, "Home"),
	}
	blocks, _ := Stitch(hosps, 6*time.Hour)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if !blocks[0].End.Equal(*at(60)) {
		t.Errorf("expected end at hour 60, got %s", blocks[0].End)
	}
}

func TestStitch_IDsOrderedByPatient(t *testing.T) {
	hosps := []Hospitalization{
		hosp("p2", "h9", 0, 10, "Home"),
		hosp("p1", "h1", 0, 10, "Home"),
	}
	blocks, _ := Stitch(hosps, 6*time.Hour)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].PatientID != "p1" || blocks[0].ID != 1 {
		t.Errorf("expected p1 first with id 1, got %s id %d", blocks[0].PatientID, blocks[0].ID)
	}
}

func TestStitch_RejectsMissingTerminal(t *testing.T) {
	h := Hospitalization{PatientID: "p1", HospitalizationID: "h1", AdmissionDttm: t0}
	blocks, rejected := Stitch([]Hospitalization{h}, 6*time.Hour)
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(blocks))
	}
	if len(rejected) != 1 || !errors.Is(rejected[0].Err, ErrNoTerminalTimestamp) {
		t.Fatalf("expected ErrNoTerminalTimestamp, got %+v", rejected)
	}
}

func TestStitch_DeathOnlyTimestamp(t *testing.T) {
	h := Hospitalization{PatientID: "p1", HospitalizationID: "h1", AdmissionDttm: t0, DeathDttm: at(30)}
	blocks, rejected := Stitch([]Hospitalization{h}, 6*time.Hour)
	if len(rejected) != 0 || len(blocks) != 1 {
		t.Fatalf("expected one block, got %d blocks %d rejected", len(blocks), len(rejected))
	}
	if blocks[0].Outcome != OutcomeDied {
		t.Errorf("expected died, got %s", blocks[0].Outcome)
	}
	if !blocks[0].TerminalTime().Equal(*at(30)) {
		t.Errorf("expected terminal at hour 30, got %s", blocks[0].TerminalTime())
	}
}

func TestOutcome_DischargeCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		death    *time.Time
		want     Outcome
	}{
		{"home", "Home", nil, OutcomeDischarged},
		{"hospice and expired", "Hospice/Expired", nil, OutcomeDied},
		{"case insensitive", "expired - HOSPICE", nil, OutcomeDied},
		{"hospice only", "Hospice", nil, OutcomeDischarged},
		{"death timestamp wins", "Home", at(20), OutcomeDied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hosp("p1", "h1", 0, 24, tt.category)
			h.DeathDttm = tt.death
			blocks, _ := Stitch([]Hospitalization{h}, time.Hour)
			if len(blocks) != 1 {
				t.Fatalf("expected 1 block, got %d", len(blocks))
			}
			if blocks[0].Outcome != tt.want {
				t.Errorf("category %q: got %s, want %s", tt.category, blocks[0].Outcome, tt.want)
			}
		})
	}
}

func TestOutcome_HospiceExpiredUsesDischargeTime(t *testing.T) {
	h := hosp("p1", "h1", 0, 36, "Hospice Expired")
	blocks, _ := Stitch([]Hospitalization{h}, time.Hour)
	if !blocks[0].Died() {
		t.Fatal("expected died")
	}
	if !blocks[0].TerminalTime().Equal(*at(36)) {
		t.Errorf("expected terminal at discharge hour 36, got %s", blocks[0].TerminalTime())
	}
}
