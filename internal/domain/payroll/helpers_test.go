package payroll

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(i int) *int { return &i }

// flatParams is a single 10% bracket schedule that keeps expected values easy to derive by hand.
func flatParams() LegalParameters {
	return LegalParameters{
		Year:                    2024,
		SocialSecurityCeiling:   dec("6000"),
		ProfessionalExpenseCap:  dec("2500"),
		ProfessionalExpenseRate: dec("20"),
		PerDependentDeduction:   dec("30"),
		SocialSecurityRate:      dec("4.48"),
		HealthInsuranceRate:     dec("2.26"),
		RetirementRate:          dec("6"),

		EmployerSocialSecurityRate:  dec("6.40"),
		EmployerHealthInsuranceRate: dec("2.26"),
		ProfessionalTrainingRate:    dec("1.60"),
		SocialBenefitsRate:          dec("8.98"),
		TaxBrackets: []TaxBracket{
			{MinAnnualIncome: dec("0"), Rate: dec("10"), Order: 1},
		},
		Active: true,
	}
}

func testPeriod(params LegalParameters) PayPeriod {
	return PayPeriod{
		ID:                 "period-1",
		Label:              "January 2024",
		Type:               PeriodTypeMonthly,
		StartDate:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:            time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		StandardWorkedDays: 30,
		StandardHours:      dec("191.33"),
		LegalParameters:    &params,
		Status:             PeriodStatusDraft,
	}
}

func testEmployee(id string, salary string) Employee {
	return Employee{
		ID:            id,
		Matricule:     "M" + id,
		FirstName:     "Test",
		LastName:      id,
		BaseSalary:    dec(salary),
		HireDate:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaritalStatus: MaritalStatusSingle,
		Active:        true,
	}
}

func fixedRubric(code string, kind RubricKind, amount string, order int) CustomRubric {
	return CustomRubric{
		ID:                       int64(order),
		Code:                     code,
		Label:                    code,
		Kind:                     kind,
		Mode:                     RubricModeFixed,
		FixedValue:               decPtr(amount),
		Taxable:                  true,
		SubjectToSocialSecurity:  true,
		SubjectToHealthInsurance: true,
		SubjectToRetirement:      true,
		DisplayOrder:             order,
		CompanyWide:              true,
		Active:                   true,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		t.Errorf("want %s, got %s %v", want, got.String(), msgAndArgs)
	}
}
