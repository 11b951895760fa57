package booking

import (
	"strconv"

	"github.com/xkilldash9x/tablebook/internal/formfill"
	"github.com/xkilldash9x/tablebook/internal/reservation"
)

// Plan field names. They key the label overrides in Settings.Labels.
const (
	FieldGuests    = "guests"
	FieldDate      = "date"
	FieldTime      = "time"
	FieldDuration  = "duration"
	FieldSource    = "source"
	FieldOccasion  = "occasion"
	FieldTable     = "table"
	FieldLastName  = "last_name"
	FieldFirstName = "first_name"
	FieldPhone     = "phone"
	FieldNotes     = "notes"
)

// DefaultLabels are the label texts of the Czech reservation form.
var DefaultLabels = map[string][]string{
	FieldGuests:    {"Počet hostů", "Počet osob", "Hosté"},
	FieldDate:      {"Datum"},
	FieldTime:      {"Čas"},
	FieldDuration:  {"Doba trvání", "Délka"},
	FieldSource:    {"Zdroj"},
	FieldOccasion:  {"Příležitost"},
	FieldTable:     {"Stůl"},
	FieldLastName:  {"Příjmení"},
	FieldFirstName: {"Jméno"},
	FieldPhone:     {"Telefon"},
	FieldNotes:     {"Poznámky k rezervaci", "Poznámka"},
}

// BuildPlan returns the ordered field plan for req. Guests come first
// because some layouts only render the date picker once the party size is
// known.
func BuildPlan(req *reservation.Request, s Settings) []formfill.FieldSpec {
	label := func(field string) formfill.Pattern {
		if alts := s.Labels[field]; len(alts) > 0 {
			return formfill.Text(alts...)
		}
		return formfill.Text(DefaultLabels[field]...)
	}
	orDefault := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}

	var plan []formfill.FieldSpec
	if req.Guests() > 0 {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldGuests, Label: label(FieldGuests),
			Value: strconv.Itoa(req.Guests()), Hint: formfill.HintNativeText,
		})
	}
	plan = append(plan,
		formfill.FieldSpec{
			Name: FieldDate, Label: label(FieldDate),
			Value: req.Date(), Option: req.Day(), Hint: formfill.HintCustomPicker,
		},
		formfill.FieldSpec{
			Name: FieldTime, Label: label(FieldTime),
			Value: req.Time(), Hint: formfill.HintCustomPicker,
		},
		formfill.FieldSpec{
			Name: FieldDuration, Label: label(FieldDuration),
			Value: orDefault(req.Duration(), s.Duration), Hint: formfill.HintCustomPicker, Optional: true,
		},
		formfill.FieldSpec{
			Name: FieldSource, Label: label(FieldSource),
			Value: orDefault(req.Source(), s.Source), Hint: formfill.HintCustomPicker, Optional: true,
		},
		formfill.FieldSpec{
			Name: FieldOccasion, Label: label(FieldOccasion),
			Value: orDefault(req.Occasion(), s.Occasion), Hint: formfill.HintCustomPicker, Optional: true,
		},
	)
	if req.Table() != "" {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldTable, Label: label(FieldTable),
			Value: req.Table(), Hint: formfill.HintCustomPicker, Optional: true,
		})
	}
	if req.LastName() != "" {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldLastName, Label: label(FieldLastName), Value: req.LastName(), Hint: formfill.HintNativeText,
		})
	}
	if req.FirstName() != "" {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldFirstName, Label: label(FieldFirstName), Value: req.FirstName(), Hint: formfill.HintNativeText,
		})
	}
	if req.Phone() != "" {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldPhone, Label: label(FieldPhone), Value: req.Phone(), Hint: formfill.HintNativeText,
		})
	}
	if req.Notes() != "" {
		plan = append(plan, formfill.FieldSpec{
			Name: FieldNotes, Label: label(FieldNotes), Value: req.Notes(), Hint: formfill.HintNativeText, Optional: true,
		})
	}

	// Optional option pickers with nothing to pick are dropped.
	out := plan[:0]
	for _, f := range plan {
		if f.Optional && f.Value == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
