package payroll

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormulaEval(t *testing.T) {
	vars := FormulaVars{BaseSalary: dec("10000"), GrossTotal: dec("12000"), YearsOfService: 4}
	tests := []struct {
		src  string
		want string
	}{
		{"baseSalary * 0.05", "500"},
		{"salaire_base * 5 / 100", "500"},
		{"total_brut - baseSalary", "2000"},
		{"anciennete_annees * 100", "400"},
		{"(grossTotal + 1000) * 2", "26000"},
		{"-baseSalary + 1", "-9999"},
		{"10 % 3", "1"},
		{"yearsOfService >= 5", "0"},
		{"(yearsOfService < 5) * 250", "250"},
		{"baseSalary == 10000", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			f, err := CompileFormula(tt.src)
			require.NoError(t, err)
			got, err := f.Eval(vars)
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestFormulaRejects(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"undefined_variable * 2", ErrUnknownVariable},
		{"__import__", ErrUnknownVariable},
		{"max(baseSalary, 1)", ErrDisallowedSyntax},
		{"baseSalary.__class__", ErrDisallowedSyntax},
		{"baseSalary ; 1", ErrDisallowedSyntax},
		{"'abc'", ErrDisallowedSyntax},
		{"baseSalary +", ErrMalformedFormula},
		{"(baseSalary", ErrMalformedFormula},
		{"1.2.3", ErrMalformedFormula},
		{"1 < 2 < 3", ErrMalformedFormula},
		{"", ErrMalformedFormula},
		{strings.Repeat("(", 40) + "1" + strings.Repeat(")", 40), ErrMalformedFormula},
		{strings.Repeat("1+", 300) + "1", ErrMalformedFormula},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := CompileFormula(tt.src)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFormulaDivisionByZero(t *testing.T) {
	f, err := CompileFormula("baseSalary / (yearsOfService - 4)")
	require.NoError(t, err)
	_, err = f.Eval(FormulaVars{BaseSalary: dec("100"), YearsOfService: 4})
	assert.ErrorIs(t, err, ErrDivisionByZero)

	f, err = CompileFormula("baseSalary % 0")
	require.NoError(t, err)
	_, err = f.Eval(FormulaVars{BaseSalary: dec("100")})
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestFormulaString(t *testing.T) {
	f, err := CompileFormula("  baseSalary * 2 ")
	require.NoError(t, err)
	assert.Equal(t, "baseSalary * 2", f.String())
}
