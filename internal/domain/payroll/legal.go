package payroll

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type TaxBracket struct {
	MinAnnualIncome  decimal.Decimal  `json:"minAnnualIncome" yaml:"min"`
	MaxAnnualIncome  *decimal.Decimal `json:"maxAnnualIncome" yaml:"max"`
	Rate             decimal.Decimal  `json:"rate" yaml:"rate"`
	DeductibleAmount decimal.Decimal  `json:"deductibleAmount" yaml:"deductible"`
	Order            int              `json:"order" yaml:"order"`
}

// LegalParameters holds one fiscal year of statutory constants. Rates are percentages.
type LegalParameters struct {
	Year                    int             `json:"year" yaml:"year"`
	SocialSecurityCeiling   decimal.Decimal `json:"socialSecurityCeiling" yaml:"social_security_ceiling"`
	ProfessionalExpenseCap  decimal.Decimal `json:"professionalExpenseCap" yaml:"professional_expense_cap"`
	ProfessionalExpenseRate decimal.Decimal `json:"professionalExpenseRate" yaml:"professional_expense_rate"`
	PerDependentDeduction   decimal.Decimal `json:"perDependentDeduction" yaml:"per_dependent_deduction"`

	SocialSecurityRate  decimal.Decimal `json:"socialSecurityRate" yaml:"social_security_rate"`
	HealthInsuranceRate decimal.Decimal `json:"healthInsuranceRate" yaml:"health_insurance_rate"`
	RetirementRate      decimal.Decimal `json:"retirementRate" yaml:"retirement_rate"`

	EmployerSocialSecurityRate  decimal.Decimal `json:"employerSocialSecurityRate" yaml:"employer_social_security_rate"`
	EmployerHealthInsuranceRate decimal.Decimal `json:"employerHealthInsuranceRate" yaml:"employer_health_insurance_rate"`
	ProfessionalTrainingRate    decimal.Decimal `json:"professionalTrainingRate" yaml:"professional_training_rate"`
	SocialBenefitsRate          decimal.Decimal `json:"socialBenefitsRate" yaml:"social_benefits_rate"`

	TaxBrackets []TaxBracket `json:"taxBrackets" yaml:"tax_brackets"`
	Active      bool         `json:"active" yaml:"active"`
}

// Validate checks rate bounds and the bracket schedule shape.
func (p LegalParameters) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return invalid("year", "must be a four digit year")
	}
	amounts := map[string]decimal.Decimal{
		"socialSecurityCeiling":  p.SocialSecurityCeiling,
		"professionalExpenseCap": p.ProfessionalExpenseCap,
		"perDependentDeduction":  p.PerDependentDeduction,
	}
	for _, field := range sortedKeys(amounts) {
		if amounts[field].IsNegative() {
			return invalid(field, "must not be negative")
		}
	}
	rates := map[string]decimal.Decimal{
		"professionalExpenseRate":     p.ProfessionalExpenseRate,
		"socialSecurityRate":          p.SocialSecurityRate,
		"healthInsuranceRate":         p.HealthInsuranceRate,
		"retirementRate":              p.RetirementRate,
		"employerSocialSecurityRate":  p.EmployerSocialSecurityRate,
		"employerHealthInsuranceRate": p.EmployerHealthInsuranceRate,
		"professionalTrainingRate":    p.ProfessionalTrainingRate,
		"socialBenefitsRate":          p.SocialBenefitsRate,
	}
	for _, field := range sortedKeys(rates) {
		if !validPercent(rates[field]) {
			return invalid(field, "must be a percentage between 0 and 100")
		}
	}
	return validateBrackets(p.TaxBrackets)
}

func validateBrackets(brackets []TaxBracket) error {
	if len(brackets) == 0 {
		return invalid("taxBrackets", "at least one tax bracket is required")
	}
	ordered := orderedBrackets(brackets)
	for i, b := range ordered {
		field := fmt.Sprintf("taxBrackets[%d]", i)
		if b.MinAnnualIncome.IsNegative() || b.DeductibleAmount.IsNegative() {
			return invalid(field, "amounts must not be negative")
		}
		if !validPercent(b.Rate) {
			return invalid(field, "rate must be a percentage between 0 and 100")
		}
		last := i == len(ordered)-1
		if b.MaxAnnualIncome == nil {
			if !last {
				return invalid(field, "only the top bracket may be open-ended")
			}
			continue
		}
		if last {
			return invalid(field, "the top bracket must be open-ended")
		}
		if !b.MaxAnnualIncome.GreaterThan(b.MinAnnualIncome) {
			return invalid(field, "max must be greater than min")
		}
		if !b.MaxAnnualIncome.Equal(ordered[i+1].MinAnnualIncome) {
			return invalid(field, "brackets must be contiguous")
		}
	}
	return nil
}

// orderedBrackets returns a copy sorted by Order, then by lower bound.
func orderedBrackets(brackets []TaxBracket) []TaxBracket {
	out := make([]TaxBracket, len(brackets))
	copy(out, brackets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].MinAnnualIncome.LessThan(out[j].MinAnnualIncome)
	})
	return out
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultParameters returns the statutory Moroccan schedule used since 2024.
func DefaultParameters(year int) LegalParameters {
	d := decimal.RequireFromString
	bound := func(s string) *decimal.Decimal {
		v := d(s)
		return &v
	}
	return LegalParameters{
		Year:                        year,
		SocialSecurityCeiling:       d("6000"),
		ProfessionalExpenseCap:      d("2500"),
		ProfessionalExpenseRate:     d("20"),
		PerDependentDeduction:       d("30"),
		SocialSecurityRate:          d("4.48"),
		HealthInsuranceRate:         d("2.26"),
		RetirementRate:              d("6.00"),
		EmployerSocialSecurityRate:  d("6.40"),
		EmployerHealthInsuranceRate: d("2.26"),
		ProfessionalTrainingRate:    d("1.60"),
		SocialBenefitsRate:          d("8.98"),
		TaxBrackets: []TaxBracket{
			{MinAnnualIncome: d("0"), MaxAnnualIncome: bound("30000"), Rate: d("0"), Order: 1},
			{MinAnnualIncome: d("30000"), MaxAnnualIncome: bound("50000"), Rate: d("10"), Order: 2},
			{MinAnnualIncome: d("50000"), MaxAnnualIncome: bound("60000"), Rate: d("20"), Order: 3},
			{MinAnnualIncome: d("60000"), MaxAnnualIncome: bound("80000"), Rate: d("30"), Order: 4},
			{MinAnnualIncome: d("80000"), MaxAnnualIncome: bound("180000"), Rate: d("34"), Order: 5},
			{MinAnnualIncome: d("180000"), Rate: d("38"), Order: 6},
		},
		Active: true,
	}
}

// ParameterTable is a read-only lookup of legal parameters by year.
type ParameterTable struct {
	mu     sync.RWMutex
	byYear map[int]LegalParameters
}

func NewParameterTable(params ...LegalParameters) (*ParameterTable, error) {
	t := &ParameterTable{byYear: make(map[int]LegalParameters, len(params))}
	for _, p := range params {
		if err := t.Put(p); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Put validates p and replaces any entry for the same year.
func (t *ParameterTable) Put(p LegalParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.TaxBrackets = orderedBrackets(p.TaxBrackets)
	t.mu.Lock()
	t.byYear[p.Year] = p
	t.mu.Unlock()
	return nil
}

func (t *ParameterTable) RatesFor(year int) (LegalParameters, error) {
	t.mu.RLock()
	p, ok := t.byYear[year]
	t.mu.RUnlock()
	if !ok {
		return LegalParameters{}, fmt.Errorf("year %d: %w", year, ErrParametersNotFound)
	}
	p.TaxBrackets = orderedBrackets(p.TaxBrackets)
	return p, nil
}

func (t *ParameterTable) Years() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	years := make([]int, 0, len(t.byYear))
	for y := range t.byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

type parameterFile struct {
	Parameters []LegalParameters `yaml:"parameters"`
}

// LoadParameterTable reads a YAML document with a top-level "parameters" list.
func LoadParameterTable(path string) (*ParameterTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legal parameters: %w", err)
	}
	return ParseParameterTable(raw)
}

func ParseParameterTable(raw []byte) (*ParameterTable, error) {
	var file parameterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode legal parameters: %w", err)
	}
	return NewParameterTable(file.Parameters...)
}
