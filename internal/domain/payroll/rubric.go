package payroll

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type CustomRubric struct {
	ID                       int64            `json:"id"`
	Code                     string           `json:"code" validate:"required,max=20"`
	Label                    string           `json:"label" validate:"required,max=100"`
	Kind                     RubricKind       `json:"kind"`
	Mode                     RubricMode       `json:"mode"`
	FixedValue               *decimal.Decimal `json:"fixedValue,omitempty"`
	Percentage               *decimal.Decimal `json:"percentage,omitempty" validate:"omitempty,pct"`
	Formula                  string           `json:"formula,omitempty" validate:"max=512"`
	Taxable                  bool             `json:"taxable"`
	SubjectToSocialSecurity  bool             `json:"subjectToSocialSecurity"`
	SubjectToHealthInsurance bool             `json:"subjectToHealthInsurance"`
	SubjectToRetirement      bool             `json:"subjectToRetirement"`
	DisplayOrder             int              `json:"displayOrder"`
	CompanyWide              bool             `json:"companyWide"`
	Active                   bool             `json:"active"`
	CreatedAt                time.Time        `json:"createdAt"`
}

var codeFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeRubricCode strips accents, upper-cases and replaces separators with underscores.
func NormalizeRubricCode(code string) string {
	folded, _, err := transform.String(codeFolder, strings.TrimSpace(code))
	if err != nil {
		folded = strings.TrimSpace(code)
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(folded) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Validate checks that the fields required by the rubric's mode are present.
func (r CustomRubric) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if NormalizeRubricCode(r.Code) == "" {
		return invalid("code", "must contain letters or digits")
	}
	if !r.Kind.Valid() {
		return invalid("kind", "unknown rubric kind")
	}
	switch r.Mode {
	case RubricModeFixed:
		if r.FixedValue == nil {
			return invalid("fixedValue", "is required for fixed rubrics")
		}
		if r.FixedValue.IsNegative() {
			return invalid("fixedValue", "must not be negative")
		}
	case RubricModePercentage:
		if r.Percentage == nil {
			return invalid("percentage", "is required for percentage rubrics")
		}
	case RubricModeFormula:
		if strings.TrimSpace(r.Formula) == "" {
			return invalid("formula", "is required for formula rubrics")
		}
		if _, err := CompileFormula(r.Formula); err != nil {
			return invalidErr("formula", err)
		}
	default:
		return invalid("mode", "unknown calculation mode")
	}
	return nil
}

// sortRubrics orders by display order, then creation sequence.
func sortRubrics(rubrics []CustomRubric) {
	sort.SliceStable(rubrics, func(i, j int) bool {
		if rubrics[i].DisplayOrder != rubrics[j].DisplayOrder {
			return rubrics[i].DisplayOrder < rubrics[j].DisplayOrder
		}
		return rubrics[i].ID < rubrics[j].ID
	})
}

// mergeRubrics returns the active rubrics of both lists, employee entries
// overriding company ones with the same code.
func mergeRubrics(company, assigned []CustomRubric) []CustomRubric {
	byCode := make(map[string]int, len(company)+len(assigned))
	out := make([]CustomRubric, 0, len(company)+len(assigned))
	for _, list := range [][]CustomRubric{company, assigned} {
		for _, r := range list {
			if !r.Active {
				continue
			}
			if idx, ok := byCode[r.Code]; ok {
				out[idx] = r
				continue
			}
			byCode[r.Code] = len(out)
			out = append(out, r)
		}
	}
	sortRubrics(out)
	return out
}

// evaluate computes the rubric amount against the running gross.
func (r CustomRubric) evaluate(gross decimal.Decimal, vars FormulaVars) (RubricLine, error) {
	line := RubricLine{Code: r.Code, Label: r.Label, Kind: r.Kind, Mode: r.Mode}
	switch r.Mode {
	case RubricModeFixed:
		if r.FixedValue == nil {
			return line, invalid("fixedValue", "rubric "+r.Code+" has no fixed value")
		}
		line.BaseAmount = round2(*r.FixedValue)
		line.Amount = line.BaseAmount
	case RubricModePercentage:
		if r.Percentage == nil {
			return line, invalid("percentage", "rubric "+r.Code+" has no percentage")
		}
		rate := *r.Percentage
		line.BaseAmount = gross
		line.Rate = &rate
		line.Amount = round2(percentOf(gross, rate))
	case RubricModeFormula:
		f, err := CompileFormula(r.Formula)
		if err != nil {
			if errors.Is(err, ErrUnknownVariable) {
				return line, &ValidationError{Field: "formula", Reason: "rubric " + r.Code + ": " + err.Error(), Err: err}
			}
			return line, &ComputationError{Rubric: r.Code, Err: err}
		}
		value, err := f.Eval(vars)
		if err != nil {
			return line, &ComputationError{Rubric: r.Code, Err: err}
		}
		// Kind carries the sign; a formula only yields a magnitude.
		if value.IsNegative() {
			return line, &ComputationError{Rubric: r.Code, Err: fmt.Errorf("%w: %s", ErrNegativeAmount, value.String())}
		}
		line.BaseAmount = vars.GrossTotal
		line.Amount = round2(value)
	default:
		return line, invalid("mode", "rubric "+r.Code+" has unknown calculation mode")
	}
	return line, nil
}

// yearsOfService counts completed anniversaries between hire and asOf.
func yearsOfService(hire, asOf time.Time) int {
	if hire.IsZero() || asOf.Before(hire) {
		return 0
	}
	years := asOf.Year() - hire.Year()
	if asOf.Month() < hire.Month() || (asOf.Month() == hire.Month() && asOf.Day() < hire.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
