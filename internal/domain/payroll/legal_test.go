package payroll

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParametersValid(t *testing.T) {
	p := DefaultParameters(2024)
	require.NoError(t, p.Validate())
	assert.Len(t, p.TaxBrackets, 6)
	assert.Nil(t, p.TaxBrackets[5].MaxAnnualIncome)
}

func TestLegalParametersValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LegalParameters)
		field  string
	}{
		{"bad year", func(p *LegalParameters) { p.Year = 24 }, "year"},
		{"negative ceiling", func(p *LegalParameters) { p.SocialSecurityCeiling = dec("-1") }, "socialSecurityCeiling"},
		{"rate above 100", func(p *LegalParameters) { p.HealthInsuranceRate = dec("101") }, "healthInsuranceRate"},
		{"no brackets", func(p *LegalParameters) { p.TaxBrackets = nil }, "taxBrackets"},
		{"open bracket in the middle", func(p *LegalParameters) { p.TaxBrackets[2].MaxAnnualIncome = nil }, "taxBrackets[2]"},
		{"closed top bracket", func(p *LegalParameters) { p.TaxBrackets[5].MaxAnnualIncome = decPtr("999999") }, "taxBrackets[5]"},
		{"gap between brackets", func(p *LegalParameters) { p.TaxBrackets[1].MaxAnnualIncome = decPtr("45000") }, "taxBrackets[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParameters(2024)
			tt.mutate(&p)
			err := p.Validate()
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestParameterTableRatesFor(t *testing.T) {
	table, err := NewParameterTable(DefaultParameters(2024), flatParams2025())
	require.NoError(t, err)

	p, err := table.RatesFor(2024)
	require.NoError(t, err)
	assertDecimal(t, "6000", p.SocialSecurityCeiling)

	_, err = table.RatesFor(2019)
	assert.ErrorIs(t, err, ErrParametersNotFound)
	assert.Equal(t, []int{2024, 2025}, table.Years())
}

func TestParameterTableRejectsInvalid(t *testing.T) {
	bad := DefaultParameters(2024)
	bad.TaxBrackets = nil
	_, err := NewParameterTable(bad)
	assert.True(t, IsValidation(err))
}

func TestRatesForReturnsOrderedBrackets(t *testing.T) {
	p := DefaultParameters(2024)
	p.TaxBrackets[0], p.TaxBrackets[5] = p.TaxBrackets[5], p.TaxBrackets[0]
	table, err := NewParameterTable(p)
	require.NoError(t, err)

	got, err := table.RatesFor(2024)
	require.NoError(t, err)
	for i, b := range got.TaxBrackets {
		assert.Equal(t, i+1, b.Order)
	}
}

func TestLoadParameterTableYAML(t *testing.T) {
	doc := `
parameters:
  - year: 2025
    social_security_ceiling: "6000"
    professional_expense_cap: "2916.67"
    professional_expense_rate: "25"
    per_dependent_deduction: "41.67"
    social_security_rate: "4.48"
    health_insurance_rate: "2.26"
    retirement_rate: "6"
    employer_social_security_rate: "8.98"
    employer_health_insurance_rate: "4.11"
    professional_training_rate: "1.6"
    social_benefits_rate: "6.4"
    active: true
    tax_brackets:
      - {order: 1, min: "0", max: "40000", rate: "0"}
      - {order: 2, min: "40000", rate: "20", deductible: "8000"}
`
	path := filepath.Join(t.TempDir(), "legal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	table, err := LoadParameterTable(path)
	require.NoError(t, err)
	p, err := table.RatesFor(2025)
	require.NoError(t, err)
	assertDecimal(t, "2916.67", p.ProfessionalExpenseCap)
	require.Len(t, p.TaxBrackets, 2)
	assertDecimal(t, "8000", p.TaxBrackets[1].DeductibleAmount)
	assert.Nil(t, p.TaxBrackets[1].MaxAnnualIncome)
}

func TestLoadParameterTableMissingFile(t *testing.T) {
	_, err := LoadParameterTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func flatParams2025() LegalParameters {
	p := flatParams()
	p.Year = 2025
	return p
}
