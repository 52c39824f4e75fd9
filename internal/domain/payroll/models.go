package payroll

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

type Employee struct {
	ID                     string          `json:"id"`
	Matricule              string          `json:"matricule"`
	FirstName              string          `json:"firstName"`
	LastName               string          `json:"lastName"`
	BaseSalary             decimal.Decimal `json:"baseSalary"`
	HireDate               time.Time       `json:"hireDate"`
	NumberOfDependents     int             `json:"numberOfDependents"`
	MaritalStatus          MaritalStatus   `json:"maritalStatus"`
	SpouseEmployed         bool            `json:"spouseEmployed"`
	RetirementPlanEnrolled bool            `json:"retirementPlanEnrolled"`
	TaxExempt              bool            `json:"taxExempt"`
	Active                 bool            `json:"active"`

	// Rubrics assigned to this employee on top of the company-wide ones.
	Rubrics []CustomRubric `json:"rubrics,omitempty"`
}

type PayPeriod struct {
	ID                 string           `json:"id"`
	Label              string           `json:"label"`
	Type               PeriodType       `json:"type"`
	StartDate          time.Time        `json:"startDate"`
	EndDate            time.Time        `json:"endDate"`
	PayDate            *time.Time       `json:"payDate,omitempty"`
	StandardWorkedDays int              `json:"standardWorkedDays"`
	StandardHours      decimal.Decimal  `json:"standardHours"`
	LegalParameters    *LegalParameters `json:"legalParameters,omitempty"`
	Status             PeriodStatus     `json:"status"`
	CreatedAt          time.Time        `json:"createdAt"`
	CalculatedAt       *time.Time       `json:"calculatedAt,omitempty"`
	ValidatedAt        *time.Time       `json:"validatedAt,omitempty"`
	ClosedAt           *time.Time       `json:"closedAt,omitempty"`
}

// NewPeriod carries the fields accepted when opening a period.
type NewPeriod struct {
	Label              string          `json:"label" validate:"required,max=100"`
	Type               PeriodType      `json:"type"`
	StartDate          time.Time       `json:"startDate" validate:"required"`
	EndDate            time.Time       `json:"endDate" validate:"required"`
	PayDate            *time.Time      `json:"payDate"`
	StandardWorkedDays int             `json:"standardWorkedDays" validate:"gte=0,lte=31"`
	StandardHours      decimal.Decimal `json:"standardHours" validate:"nonneg"`
}

type VariableInputs struct {
	OvertimeHours       decimal.Decimal `json:"overtimeHours" validate:"nonneg"`
	OvertimeHourlyRate  decimal.Decimal `json:"overtimeHourlyRate" validate:"nonneg"`
	WorkedDays          *int            `json:"workedDays,omitempty" validate:"omitempty,gte=0"`
	SeniorityBonus      decimal.Decimal `json:"seniorityBonus" validate:"nonneg"`
	ResponsibilityBonus decimal.Decimal `json:"responsibilityBonus" validate:"nonneg"`
	TransportAllowance  decimal.Decimal `json:"transportAllowance" validate:"nonneg"`
	BenefitsInKind      decimal.Decimal `json:"benefitsInKind" validate:"nonneg"`
	Advances            decimal.Decimal `json:"advances" validate:"nonneg"`
	LoanRepayments      decimal.Decimal `json:"loanRepayments" validate:"nonneg"`
	OtherDeductions     decimal.Decimal `json:"otherDeductions" validate:"nonneg"`
}

type RubricLine struct {
	Code       string           `json:"code"`
	Label      string           `json:"label"`
	Kind       RubricKind       `json:"kind"`
	Mode       RubricMode       `json:"mode"`
	BaseAmount decimal.Decimal  `json:"baseAmount"`
	Rate       *decimal.Decimal `json:"rate,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
}

type RubricFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PayslipComputation is the itemised output of one Compute call.
type PayslipComputation struct {
	EmployeeID         string `json:"employeeId"`
	PeriodID           string `json:"periodId"`
	Year               int    `json:"year"`
	WorkedDays         int    `json:"workedDays"`
	StandardWorkedDays int    `json:"standardWorkedDays"`

	BaseSalary          decimal.Decimal `json:"baseSalary"`
	ProratedBase        decimal.Decimal `json:"proratedBase"`
	OvertimeAmount      decimal.Decimal `json:"overtimeAmount"`
	SeniorityBonus      decimal.Decimal `json:"seniorityBonus"`
	ResponsibilityBonus decimal.Decimal `json:"responsibilityBonus"`
	TransportAllowance  decimal.Decimal `json:"transportAllowance"`
	BenefitsInKind      decimal.Decimal `json:"benefitsInKind"`
	RubricEarnings      decimal.Decimal `json:"rubricEarnings"`
	GrossSalary         decimal.Decimal `json:"grossSalary"`

	SocialSecurityBase   decimal.Decimal `json:"socialSecurityBase"`
	SocialSecurity       decimal.Decimal `json:"socialSecurity"`
	HealthInsurance      decimal.Decimal `json:"healthInsurance"`
	Retirement           decimal.Decimal `json:"retirement"`
	ProfessionalExpenses decimal.Decimal `json:"professionalExpenses"`
	TaxableIncome        decimal.Decimal `json:"taxableIncome"`
	AnnualTaxableIncome  decimal.Decimal `json:"annualTaxableIncome"`
	GrossTax             decimal.Decimal `json:"grossTax"`
	FamilyDeduction      decimal.Decimal `json:"familyDeduction"`
	NetTax               decimal.Decimal `json:"netTax"`

	Advances         decimal.Decimal `json:"advances"`
	LoanRepayments   decimal.Decimal `json:"loanRepayments"`
	OtherDeductions  decimal.Decimal `json:"otherDeductions"`
	RubricDeductions decimal.Decimal `json:"rubricDeductions"`
	TotalDeductions  decimal.Decimal `json:"totalDeductions"`
	NetPay           decimal.Decimal `json:"netPay"`

	EmployerSocialSecurity  decimal.Decimal `json:"employerSocialSecurity"`
	EmployerHealthInsurance decimal.Decimal `json:"employerHealthInsurance"`
	ProfessionalTraining    decimal.Decimal `json:"professionalTraining"`
	SocialBenefits          decimal.Decimal `json:"socialBenefits"`
	TotalEmployerCharges    decimal.Decimal `json:"totalEmployerCharges"`

	RubricLines   []RubricLine    `json:"rubricLines"`
	FailedRubrics []RubricFailure `json:"failedRubrics,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// Payslip is a persisted computation for one (period, employee) pair.
type Payslip struct {
	ID          string             `json:"id"`
	Number      string             `json:"number"`
	PeriodID    string             `json:"periodId"`
	EmployeeID  string             `json:"employeeId"`
	Gross       decimal.Decimal    `json:"gross"`
	Deductions  decimal.Decimal    `json:"deductions"`
	Net         decimal.Decimal    `json:"net"`
	Computation PayslipComputation `json:"computation"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type BatchError struct {
	EmployeeID string `json:"employeeId"`
	Message    string `json:"message"`
}

type BatchResult struct {
	PeriodID       string       `json:"periodId"`
	TotalEmployees int          `json:"totalEmployees"`
	Created        int          `json:"created"`
	Replaced       int          `json:"replaced"`
	Skipped        int          `json:"skipped"`
	Errors         []BatchError `json:"errors"`
	Status         PeriodStatus `json:"status"`
}

type JobRun struct {
	ID          string          `json:"id"`
	JobType     string          `json:"jobType"`
	Status      string          `json:"status"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}
