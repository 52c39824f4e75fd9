package payroll

type PeriodStatus string

const (
	PeriodStatusDraft      PeriodStatus = "draft"
	PeriodStatusCalculated PeriodStatus = "calculated"
	PeriodStatusValidated  PeriodStatus = "validated"
	PeriodStatusClosed     PeriodStatus = "closed"
)

type PeriodType string

const (
	PeriodTypeMonthly     PeriodType = "monthly"
	PeriodTypeFortnightly PeriodType = "fortnightly"
	PeriodTypeWeekly      PeriodType = "weekly"
	PeriodTypeDaily       PeriodType = "daily"
)

type RubricKind string

const (
	RubricKindEarning       RubricKind = "earning"
	RubricKindDeduction     RubricKind = "deduction"
	RubricKindBenefitInKind RubricKind = "benefit_in_kind"
	RubricKindAllowance     RubricKind = "allowance"
)

type RubricMode string

const (
	RubricModeFixed      RubricMode = "fixed"
	RubricModePercentage RubricMode = "percentage"
	RubricModeFormula    RubricMode = "formula"
)

type MaritalStatus string

const (
	MaritalStatusSingle   MaritalStatus = "single"
	MaritalStatusMarried  MaritalStatus = "married"
	MaritalStatusDivorced MaritalStatus = "divorced"
	MaritalStatusWidowed  MaritalStatus = "widowed"
)

const (
	WarningNegativeNet  = "negative_net"
	WarningRubricFailed = "rubric_failed"

	DefaultStandardWorkedDays = 30
	DefaultStandardHours      = "191.33"

	JobPeriodCalculation = "payroll_period_calculation"
)

func (k RubricKind) Valid() bool {
	switch k {
	case RubricKindEarning, RubricKindDeduction, RubricKindBenefitInKind, RubricKindAllowance:
		return true
	}
	return false
}

// AddsToGross reports whether amounts of this kind increase gross pay.
func (k RubricKind) AddsToGross() bool {
	return k == RubricKindEarning || k == RubricKindBenefitInKind || k == RubricKindAllowance
}

func (m RubricMode) Valid() bool {
	switch m {
	case RubricModeFixed, RubricModePercentage, RubricModeFormula:
		return true
	}
	return false
}

func (p PeriodType) Valid() bool {
	switch p {
	case PeriodTypeMonthly, PeriodTypeFortnightly, PeriodTypeWeekly, PeriodTypeDaily:
		return true
	}
	return false
}

func (m MaritalStatus) Valid() bool {
	switch m {
	case MaritalStatusSingle, MaritalStatusMarried, MaritalStatusDivorced, MaritalStatusWidowed:
		return true
	}
	return false
}
