package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// FormulaFailurePolicy decides what a ComputationError from a rubric does to the payslip.
type FormulaFailurePolicy string

const (
	// FailComputation aborts the whole payslip.
	FailComputation FormulaFailurePolicy = "fail"
	// AnnotateAndContinue drops the rubric line, records it in FailedRubrics and continues.
	AnnotateAndContinue FormulaFailurePolicy = "annotate"
)

// RubricFlagPolicy decides whether earning rubric flags narrow the contribution and tax bases.
type RubricFlagPolicy string

const (
	// UniformGross adds every earning rubric to the single gross used by all stages.
	UniformGross RubricFlagPolicy = "uniform"
	// HonorRubricFlags excludes an earning rubric from each base whose flag is false.
	HonorRubricFlags RubricFlagPolicy = "flags"
)

type Option func(*Calculator)

func WithFormulaFailurePolicy(p FormulaFailurePolicy) Option {
	return func(c *Calculator) { c.failurePolicy = p }
}

func WithRubricFlagPolicy(p RubricFlagPolicy) Option {
	return func(c *Calculator) { c.flagPolicy = p }
}

// Calculator computes payslips against one legal-parameter snapshot.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	params        LegalParameters
	rubrics       []CustomRubric
	failurePolicy FormulaFailurePolicy
	flagPolicy    RubricFlagPolicy
}

// NewCalculator binds params and the company-wide rubrics. Inactive rubrics are dropped.
func NewCalculator(params LegalParameters, rubrics []CustomRubric, opts ...Option) (*Calculator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.TaxBrackets = orderedBrackets(params.TaxBrackets)
	c := &Calculator{
		params:        params,
		rubrics:       mergeRubrics(rubrics, nil),
		failurePolicy: FailComputation,
		flagPolicy:    UniformGross,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch c.failurePolicy {
	case FailComputation, AnnotateAndContinue:
	default:
		return nil, invalid("formulaFailurePolicy", fmt.Sprintf("unknown policy %q", c.failurePolicy))
	}
	switch c.flagPolicy {
	case UniformGross, HonorRubricFlags:
	default:
		return nil, invalid("rubricFlagPolicy", fmt.Sprintf("unknown policy %q", c.flagPolicy))
	}
	return c, nil
}

func (c *Calculator) Parameters() LegalParameters { return c.params }

// baseExclusions tracks earning rubric amounts left out of each base.
type baseExclusions struct {
	tax, socialSecurity, health, retirement decimal.Decimal
}

func (c *Calculator) Compute(emp Employee, period PayPeriod, in VariableInputs) (PayslipComputation, error) {
	if period.Status == PeriodStatusClosed {
		return PayslipComputation{}, &ValidationError{Field: "period", Reason: "period is closed", Err: ErrPeriodClosed}
	}
	if len(c.params.TaxBrackets) == 0 {
		return PayslipComputation{}, invalid("taxBrackets", "legal parameters have no tax brackets")
	}
	if period.LegalParameters != nil && period.LegalParameters.Year != c.params.Year {
		return PayslipComputation{}, invalid("period", fmt.Sprintf("period uses %d parameters, calculator holds %d", period.LegalParameters.Year, c.params.Year))
	}
	if period.StandardWorkedDays <= 0 {
		return PayslipComputation{}, invalid("standardWorkedDays", "must be positive")
	}
	if emp.BaseSalary.IsNegative() {
		return PayslipComputation{}, invalid("baseSalary", "must not be negative")
	}
	if emp.NumberOfDependents < 0 {
		return PayslipComputation{}, invalid("numberOfDependents", "must not be negative")
	}
	if err := validateStruct(in); err != nil {
		return PayslipComputation{}, err
	}

	p := c.params
	out := PayslipComputation{
		EmployeeID:         emp.ID,
		PeriodID:           period.ID,
		Year:               p.Year,
		StandardWorkedDays: period.StandardWorkedDays,
		BaseSalary:         emp.BaseSalary,
		RubricLines:        []RubricLine{},
	}

	// Gross elements.
	workedDays := period.StandardWorkedDays
	if in.WorkedDays != nil {
		workedDays = *in.WorkedDays
	}
	out.WorkedDays = workedDays
	out.ProratedBase = round2(emp.BaseSalary)
	if workedDays != period.StandardWorkedDays {
		out.ProratedBase = round2(emp.BaseSalary.Mul(decimal.NewFromInt(int64(workedDays))).Div(decimal.NewFromInt(int64(period.StandardWorkedDays))))
	}
	out.OvertimeAmount = round2(in.OvertimeHours.Mul(in.OvertimeHourlyRate))
	out.SeniorityBonus = round2(in.SeniorityBonus)
	out.ResponsibilityBonus = round2(in.ResponsibilityBonus)
	out.TransportAllowance = round2(in.TransportAllowance)
	out.BenefitsInKind = round2(in.BenefitsInKind)
	gross := sumDecimals(out.ProratedBase, out.OvertimeAmount, out.SeniorityBonus,
		out.ResponsibilityBonus, out.TransportAllowance, out.BenefitsInKind)

	// Custom rubrics, gross accumulating progressively.
	var excluded baseExclusions
	rubricDeductions := zero
	seniority := yearsOfService(emp.HireDate, period.EndDate)
	for _, rubric := range mergeRubrics(c.rubrics, emp.Rubrics) {
		vars := FormulaVars{BaseSalary: emp.BaseSalary, GrossTotal: gross, YearsOfService: seniority}
		line, err := rubric.evaluate(gross, vars)
		if err != nil {
			var compErr *ComputationError
			if c.failurePolicy == AnnotateAndContinue && errors.As(err, &compErr) {
				out.FailedRubrics = append(out.FailedRubrics, RubricFailure{Code: rubric.Code, Message: compErr.Err.Error()})
				continue
			}
			return PayslipComputation{}, err
		}
		out.RubricLines = append(out.RubricLines, line)
		if !rubric.Kind.AddsToGross() {
			rubricDeductions = rubricDeductions.Add(line.Amount)
			continue
		}
		gross = gross.Add(line.Amount)
		out.RubricEarnings = out.RubricEarnings.Add(line.Amount)
		if c.flagPolicy == HonorRubricFlags {
			excluded.add(rubric, line.Amount)
		}
	}
	out.GrossSalary = gross

	// Social contributions.
	out.SocialSecurityBase = minDecimal(gross.Sub(excluded.socialSecurity), p.SocialSecurityCeiling)
	healthBase := gross.Sub(excluded.health)
	out.SocialSecurity = round2(percentOf(out.SocialSecurityBase, p.SocialSecurityRate))
	out.HealthInsurance = round2(percentOf(healthBase, p.HealthInsuranceRate))
	out.Retirement = zero
	if emp.RetirementPlanEnrolled {
		out.Retirement = round2(percentOf(gross.Sub(excluded.retirement), p.RetirementRate))
	}
	contributions := sumDecimals(out.SocialSecurity, out.HealthInsurance, out.Retirement)

	// Income tax.
	taxableGross := gross.Sub(excluded.tax)
	out.ProfessionalExpenses = minDecimal(round2(percentOf(taxableGross, p.ProfessionalExpenseRate)), p.ProfessionalExpenseCap)
	out.TaxableIncome = taxableGross.Sub(out.ProfessionalExpenses).Sub(contributions)
	out.GrossTax = zero
	if out.TaxableIncome.IsPositive() && !emp.TaxExempt {
		out.AnnualTaxableIncome = out.TaxableIncome.Mul(twelve)
		out.GrossTax = round2(annualTax(out.AnnualTaxableIncome, p.TaxBrackets).Div(twelve))
	}
	out.FamilyDeduction = round2(familyDeduction(emp, p.PerDependentDeduction))
	out.NetTax = maxDecimal(out.GrossTax.Sub(out.FamilyDeduction), zero)

	// Other and total deductions.
	out.Advances = round2(in.Advances)
	out.LoanRepayments = round2(in.LoanRepayments)
	out.OtherDeductions = round2(in.OtherDeductions)
	out.RubricDeductions = rubricDeductions
	out.TotalDeductions = sumDecimals(contributions, out.NetTax, out.Advances,
		out.LoanRepayments, out.OtherDeductions, out.RubricDeductions)

	// Net pay is reported as-is, negative included.
	out.NetPay = gross.Sub(out.TotalDeductions)
	if out.NetPay.IsNegative() {
		out.Warnings = append(out.Warnings, WarningNegativeNet)
	}
	if len(out.FailedRubrics) > 0 {
		out.Warnings = append(out.Warnings, WarningRubricFailed)
	}

	// Employer charges.
	out.EmployerSocialSecurity = round2(percentOf(out.SocialSecurityBase, p.EmployerSocialSecurityRate))
	out.EmployerHealthInsurance = round2(percentOf(healthBase, p.EmployerHealthInsuranceRate))
	out.ProfessionalTraining = round2(percentOf(gross, p.ProfessionalTrainingRate))
	out.SocialBenefits = round2(percentOf(out.SocialSecurityBase, p.SocialBenefitsRate))
	out.TotalEmployerCharges = sumDecimals(out.EmployerSocialSecurity, out.EmployerHealthInsurance,
		out.ProfessionalTraining, out.SocialBenefits)

	return out, nil
}

func (e *baseExclusions) add(r CustomRubric, amount decimal.Decimal) {
	if !r.Taxable {
		e.tax = e.tax.Add(amount)
	}
	if !r.SubjectToSocialSecurity {
		e.socialSecurity = e.socialSecurity.Add(amount)
	}
	if !r.SubjectToHealthInsurance {
		e.health = e.health.Add(amount)
	}
	if !r.SubjectToRetirement {
		e.retirement = e.retirement.Add(amount)
	}
}

// annualTax walks the ordered brackets, taxing the overlap of each one.
func annualTax(annual decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	total := zero
	for _, b := range brackets {
		if annual.LessThanOrEqual(b.MinAnnualIncome) {
			break
		}
		upper := annual
		if b.MaxAnnualIncome != nil {
			upper = minDecimal(annual, *b.MaxAnnualIncome)
		}
		overlap := upper.Sub(b.MinAnnualIncome)
		if !overlap.IsPositive() {
			continue
		}
		total = total.Add(maxDecimal(percentOf(overlap, b.Rate).Sub(b.DeductibleAmount), zero))
	}
	return total
}

func familyDeduction(emp Employee, perDependent decimal.Decimal) decimal.Decimal {
	count := int64(emp.NumberOfDependents)
	if emp.MaritalStatus == MaritalStatusMarried && !emp.SpouseEmployed {
		count++
	}
	return perDependent.Mul(decimal.NewFromInt(count))
}
