package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/ehr/mobilization/internal/domain/criteria"
	"github.com/ehr/mobilization/internal/platform/tabular"
)

// HourRow is one line of final_df_w_criteria: the frozen state of one
// encounter-block hour. Eligibility flags read 1 when safe, red flags read 1
// when raised.
type HourRow struct {
	EncounterBlock int       `parquet:"encounter_block" json:"encounter_block"`
	PatientID      string    `parquet:"patient_id" json:"patient_id"`
	TimeFromVent   int       `parquet:"time_from_vent" json:"time_from_vent"`
	RecordedDttm   time.Time `parquet:"recorded_dttm" json:"recorded_dttm"`
	RecordedHour   int       `parquet:"recorded_hour" json:"recorded_hour"`
	DayOfWeek      string    `parquet:"day_of_week" json:"day_of_week"`

	AvgMAP     *float64 `parquet:"avg_map,optional" json:"avg_map"`
	MaxSBP     *float64 `parquet:"max_sbp,optional" json:"max_sbp"`
	MinHR      *float64 `parquet:"min_heart_rate,optional" json:"min_heart_rate"`
	MaxHR      *float64 `parquet:"max_heart_rate,optional" json:"max_heart_rate"`
	MinRR      *float64 `parquet:"min_respiratory_rate,optional" json:"min_respiratory_rate"`
	MaxRR      *float64 `parquet:"max_respiratory_rate,optional" json:"max_respiratory_rate"`
	MinSpO2    *float64 `parquet:"min_spo2,optional" json:"min_spo2"`
	GCS        *float64 `parquet:"gcs_total,optional" json:"gcs_total"`
	Lactate    *float64 `parquet:"lactate,optional" json:"lactate"`
	Creatinine *float64 `parquet:"creatinine,optional" json:"creatinine"`
	Bilirubin  *float64 `parquet:"bilirubin_total,optional" json:"bilirubin_total"`
	Platelets  *float64 `parquet:"platelet_count,optional" json:"platelet_count"`
	PaO2       *float64 `parquet:"po2_arterial,optional" json:"po2_arterial"`
	FiO2       *float64 `parquet:"fio2_set,optional" json:"fio2_set"`
	PEEP       *float64 `parquet:"peep_set,optional" json:"peep_set"`
	Device     string   `parquet:"device_category" json:"device_category"`
	Mode       string   `parquet:"mode_category" json:"mode_category"`
	NEE        float64  `parquet:"ne_calc_last" json:"ne_calc_last"`
	ActiveMeds string   `parquet:"active_meds" json:"active_meds"`

	SOFAResp   int      `parquet:"sofa_resp" json:"sofa_resp"`
	SOFACoag   int      `parquet:"sofa_coag" json:"sofa_coag"`
	SOFALiver  int      `parquet:"sofa_liver" json:"sofa_liver"`
	SOFACV     int      `parquet:"sofa_cv" json:"sofa_cv"`
	SOFARenal  int      `parquet:"sofa_renal" json:"sofa_renal"`
	SOFACNS    int      `parquet:"sofa_cns" json:"sofa_cns"`
	SOFATotal  int      `parquet:"sofa_total" json:"sofa_total"`
	PFRatio    *float64 `parquet:"pf_ratio,optional" json:"pf_ratio"`
	CRRTActive bool     `parquet:"crrt_active" json:"crrt_active"`

	Paralytics      bool `parquet:"paralytics_flag" json:"paralytics_flag"`
	Trach           bool `parquet:"hourly_trach" json:"hourly_trach"`
	EarlyIntubation bool `parquet:"early_intubation_flag" json:"early_intubation_flag"`
	OffHours        bool `parquet:"outside_business_hours" json:"outside_business_hours"`
	Excluded        bool `parquet:"excluded" json:"excluded"`

	PatelMAP     bool   `parquet:"patel_map_flag" json:"patel_map_flag"`
	PatelSBP     bool   `parquet:"patel_sbp_flag" json:"patel_sbp_flag"`
	PatelHR      bool   `parquet:"patel_hr_flag" json:"patel_hr_flag"`
	PatelRR      bool   `parquet:"patel_rr_flag" json:"patel_rr_flag"`
	PatelSpO2    bool   `parquet:"patel_spo2_flag" json:"patel_spo2_flag"`
	PatelPressor bool   `parquet:"patel_pressor_flag" json:"patel_pressor_flag"`
	Patel        bool   `parquet:"patel_flag" json:"patel_flag"`
	PatelReasons string `parquet:"patel_reasons" json:"patel_reasons"`

	TEAMHR      bool   `parquet:"team_hr_flag" json:"team_hr_flag"`
	TEAMLactate bool   `parquet:"team_lactate_flag" json:"team_lactate_flag"`
	TEAMNoNE    bool   `parquet:"team_ne_flag" json:"team_ne_flag"`
	TEAMFiO2    bool   `parquet:"team_fio2_flag" json:"team_fio2_flag"`
	TEAMPEEP    bool   `parquet:"team_peep_flag" json:"team_peep_flag"`
	TEAMRR      bool   `parquet:"team_rr_flag" json:"team_rr_flag"`
	TEAMPressor bool   `parquet:"team_pressor_flag" json:"team_pressor_flag"`
	TEAM        bool   `parquet:"team_flag" json:"team_flag"`
	TEAMReasons string `parquet:"team_reasons" json:"team_reasons"`

	GreenSpO2    bool `parquet:"green_spo2_flag" json:"green_spo2_flag"`
	GreenMAP     bool `parquet:"green_map_flag" json:"green_map_flag"`
	GreenNEE     bool `parquet:"green_nee_flag" json:"green_nee_flag"`
	GreenHR      bool `parquet:"green_hr_flag" json:"green_hr_flag"`
	GreenFiO2    bool `parquet:"green_fio2_flag" json:"green_fio2_flag"`
	GreenRR      bool `parquet:"green_rr_flag" json:"green_rr_flag"`
	GreenPEEP    bool `parquet:"green_peep_flag" json:"green_peep_flag"`
	GreenLactate bool `parquet:"green_lactate_flag" json:"green_lactate_flag"`
	GreenPressor bool `parquet:"green_pressor_flag" json:"green_pressor_flag"`

	YellowSpO2    bool `parquet:"yellow_resp_spo2_flag" json:"yellow_resp_spo2_flag"`
	YellowMAP     bool `parquet:"yellow_map_flag" json:"yellow_map_flag"`
	YellowNEE     bool `parquet:"yellow_nee_flag" json:"yellow_nee_flag"`
	YellowHR      bool `parquet:"yellow_pulse_flag" json:"yellow_pulse_flag"`
	YellowFiO2    bool `parquet:"yellow_fio2_flag" json:"yellow_fio2_flag"`
	YellowRR      bool `parquet:"yellow_resp_rate_flag" json:"yellow_resp_rate_flag"`
	YellowPEEP    bool `parquet:"yellow_peep_flag" json:"yellow_peep_flag"`
	YellowLactate bool `parquet:"yellow_lactate_flag" json:"yellow_lactate_flag"`

	RedNEE      bool `parquet:"red_ne_flag" json:"red_ne_flag"`
	RedMAP      bool `parquet:"red_map_flag" json:"red_map_flag"`
	RedHR       bool `parquet:"red_hr_flag" json:"red_hr_flag"`
	RedSpO2     bool `parquet:"red_spo2_flag" json:"red_spo2_flag"`
	RedRR       bool `parquet:"red_rr_flag" json:"red_rr_flag"`
	RedFiO2     bool `parquet:"red_fio2_flag" json:"red_fio2_flag"`
	RedPEEP     bool `parquet:"red_peep_flag" json:"red_peep_flag"`
	RedLactate  bool `parquet:"red_lactate_flag" json:"red_lactate_flag"`
	RedPressors bool `parquet:"red_pressors_flag" json:"red_pressors_flag"`
	AnyRed      bool `parquet:"any_red" json:"any_red"`

	Tier          string `parquet:"consensus_tier" json:"consensus_tier"`
	Green         bool   `parquet:"green_flag" json:"green_flag"`
	GreenReasons  string `parquet:"green_reasons" json:"green_reasons"`
	Yellow        bool   `parquet:"yellow_flag" json:"yellow_flag"`
	YellowReasons string `parquet:"yellow_reasons" json:"yellow_reasons"`
}

// Eligible returns the hour's eligibility under a criteria set name.
func (r HourRow) Eligible(set string) bool {
	switch set {
	case criteria.SetPatel:
		return r.Patel
	case criteria.SetTEAM:
		return r.TEAM
	case criteria.SetGreen:
		return r.Green
	case criteria.SetYellow:
		return r.Yellow
	}
	return false
}

func (HourRow) CSVHeader() []string {
	return []string{
		"encounter_block", "patient_id", "time_from_vent", "recorded_dttm", "recorded_hour", "day_of_week",
		"avg_map", "max_sbp", "min_heart_rate", "max_heart_rate", "min_respiratory_rate", "max_respiratory_rate",
		"min_spo2", "gcs_total", "lactate", "creatinine", "bilirubin_total", "platelet_count", "po2_arterial",
		"fio2_set", "peep_set", "device_category", "mode_category", "ne_calc_last", "active_meds",
		"sofa_resp", "sofa_coag", "sofa_liver", "sofa_cv", "sofa_renal", "sofa_cns", "sofa_total", "pf_ratio", "crrt_active",
		"paralytics_flag", "hourly_trach", "early_intubation_flag", "outside_business_hours", "excluded",
		"patel_map_flag", "patel_sbp_flag", "patel_hr_flag", "patel_rr_flag", "patel_spo2_flag", "patel_pressor_flag",
		"patel_flag", "patel_reasons",
		"team_hr_flag", "team_lactate_flag", "team_ne_flag", "team_fio2_flag", "team_peep_flag", "team_rr_flag",
		"team_pressor_flag", "team_flag", "team_reasons",
		"green_spo2_flag", "green_map_flag", "green_nee_flag", "green_hr_flag", "green_fio2_flag", "green_rr_flag",
		"green_peep_flag", "green_lactate_flag", "green_pressor_flag",
		"yellow_resp_spo2_flag", "yellow_map_flag", "yellow_nee_flag", "yellow_pulse_flag", "yellow_fio2_flag",
		"yellow_resp_rate_flag", "yellow_peep_flag", "yellow_lactate_flag",
		"red_ne_flag", "red_map_flag", "red_hr_flag", "red_spo2_flag", "red_rr_flag", "red_fio2_flag",
		"red_peep_flag", "red_lactate_flag", "red_pressors_flag", "any_red",
		"consensus_tier", "green_flag", "green_reasons", "yellow_flag", "yellow_reasons",
	}
}

func (r HourRow) CSVRow() []string {
	b, f, i := tabular.FormatBool, tabular.FormatFloat, strconv.Itoa
	return []string{
		i(r.EncounterBlock), r.PatientID, i(r.TimeFromVent), tabular.FormatTime(&r.RecordedDttm), i(r.RecordedHour), r.DayOfWeek,
		f(r.AvgMAP), f(r.MaxSBP), f(r.MinHR), f(r.MaxHR), f(r.MinRR), f(r.MaxRR),
		f(r.MinSpO2), f(r.GCS), f(r.Lactate), f(r.Creatinine), f(r.Bilirubin), f(r.Platelets), f(r.PaO2),
		f(r.FiO2), f(r.PEEP), r.Device, r.Mode, f(&r.NEE), r.ActiveMeds,
		i(r.SOFAResp), i(r.SOFACoag), i(r.SOFALiver), i(r.SOFACV), i(r.SOFARenal), i(r.SOFACNS), i(r.SOFATotal), f(r.PFRatio), b(r.CRRTActive),
		b(r.Paralytics), b(r.Trach), b(r.EarlyIntubation), b(r.OffHours), b(r.Excluded),
		b(r.PatelMAP), b(r.PatelSBP), b(r.PatelHR), b(r.PatelRR), b(r.PatelSpO2), b(r.PatelPressor),
		b(r.Patel), r.PatelReasons,
		b(r.TEAMHR), b(r.TEAMLactate), b(r.TEAMNoNE), b(r.TEAMFiO2), b(r.TEAMPEEP), b(r.TEAMRR),
		b(r.TEAMPressor), b(r.TEAM), r.TEAMReasons,
		b(r.GreenSpO2), b(r.GreenMAP), b(r.GreenNEE), b(r.GreenHR), b(r.GreenFiO2), b(r.GreenRR),
		b(r.GreenPEEP), b(r.GreenLactate), b(r.GreenPressor),
		b(r.YellowSpO2), b(r.YellowMAP), b(r.YellowNEE), b(r.YellowHR), b(r.YellowFiO2),
		b(r.YellowRR), b(r.YellowPEEP), b(r.YellowLactate),
		b(r.RedNEE), b(r.RedMAP), b(r.RedHR), b(r.RedSpO2), b(r.RedRR), b(r.RedFiO2),
		b(r.RedPEEP), b(r.RedLactate), b(r.RedPressors), b(r.AnyRed),
		r.Tier, b(r.Green), r.GreenReasons, b(r.Yellow), r.YellowReasons,
	}
}

// BlockRow is one line of final_df_blocks.
type BlockRow struct {
	EncounterBlock     int        `parquet:"encounter_block" json:"encounter_block"`
	PatientID          string     `parquet:"patient_id" json:"patient_id"`
	Facility           string     `parquet:"facility" json:"facility"`
	HospitalizationIDs string     `parquet:"hospitalization_ids" json:"hospitalization_ids"`
	BlockStart         time.Time  `parquet:"block_start_dttm" json:"block_start_dttm"`
	BlockEnd           time.Time  `parquet:"block_end_dttm" json:"block_end_dttm"`
	VentStart          time.Time  `parquet:"vent_start_dttm" json:"vent_start_dttm"`
	FirstVital         *time.Time `parquet:"first_vital_dttm,optional" json:"first_vital_dttm"`
	LastVital          *time.Time `parquet:"last_vital_dttm,optional" json:"last_vital_dttm"`
	Hours              int        `parquet:"hours" json:"hours"`
	Outcome            string     `parquet:"outcome" json:"outcome"`
	DeathDttm          *time.Time `parquet:"death_dttm,optional" json:"death_dttm"`
	DischargeCategory  string     `parquet:"discharge_category" json:"discharge_category"`
	AgeAtAdmission     *float64   `parquet:"age_at_admission,optional" json:"age_at_admission"`
}

func (BlockRow) CSVHeader() []string {
	return []string{"encounter_block", "patient_id", "facility", "hospitalization_ids", "block_start_dttm",
		"block_end_dttm", "vent_start_dttm", "first_vital_dttm", "last_vital_dttm", "hours", "outcome",
		"death_dttm", "discharge_category", "age_at_admission"}
}

func (r BlockRow) CSVRow() []string {
	return []string{
		strconv.Itoa(r.EncounterBlock), r.PatientID, r.Facility, r.HospitalizationIDs,
		tabular.FormatTime(&r.BlockStart), tabular.FormatTime(&r.BlockEnd), tabular.FormatTime(&r.VentStart),
		tabular.FormatTime(r.FirstVital), tabular.FormatTime(r.LastVital), strconv.Itoa(r.Hours), r.Outcome,
		tabular.FormatTime(r.DeathDttm), r.DischargeCategory, tabular.FormatFloat(r.AgeAtAdmission),
	}
}

// EventRow is one line of competing_risk_final.
type EventRow struct {
	EncounterBlock  int    `parquet:"encounter_block" json:"encounter_block"`
	PatientID       string `parquet:"patient_id" json:"patient_id"`
	Criteria        string `parquet:"criteria" json:"criteria"`
	Variant         string `parquet:"variant" json:"variant"`
	TimeEligibility *int   `parquet:"time_eligibility,optional" json:"time_eligibility"`
	TEvent          int    `parquet:"t_event" json:"t_event"`
	Outcome         int    `parquet:"outcome" json:"outcome"`
	EventType       string `parquet:"event_type" json:"event_type"`
}

func (EventRow) CSVHeader() []string {
	return []string{"encounter_block", "patient_id", "criteria", "variant", "time_eligibility", "t_event", "outcome", "event_type"}
}

func (r EventRow) CSVRow() []string {
	te := ""
	if r.TimeEligibility != nil {
		te = strconv.Itoa(*r.TimeEligibility)
	}
	return []string{strconv.Itoa(r.EncounterBlock), r.PatientID, r.Criteria, r.Variant, te,
		strconv.Itoa(r.TEvent), strconv.Itoa(r.Outcome), r.EventType}
}

func joinReasons(r []string) string { return strings.Join(r, ";") }
