package payroll

import (
	"context"
	"time"
)

type StoreAPI interface {
	ListLegalParameters(ctx context.Context) ([]LegalParameters, error)
	LegalParametersForYear(ctx context.Context, year int) (LegalParameters, error)
	SaveLegalParameters(ctx context.Context, params LegalParameters) error

	ListRubrics(ctx context.Context, activeOnly bool) ([]CustomRubric, error)
	CreateRubric(ctx context.Context, rubric CustomRubric) (CustomRubric, error)
	SetRubricActive(ctx context.Context, code string, active bool) error
	AssignRubric(ctx context.Context, employeeID, code string) error

	ListActiveEmployees(ctx context.Context) ([]Employee, error)
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)

	CreatePeriod(ctx context.Context, period PayPeriod) (PayPeriod, error)
	GetPeriod(ctx context.Context, periodID string) (PayPeriod, error)
	// UpdatePeriodStatus moves the period from one status to another only if
	// it is still in from; otherwise the current status is reported.
	UpdatePeriodStatus(ctx context.Context, periodID string, from, to PeriodStatus, at time.Time) error

	VariableInputs(ctx context.Context, periodID, employeeID string) (VariableInputs, error)
	SaveVariableInputs(ctx context.Context, periodID, employeeID string, inputs VariableInputs) error

	PayslipExists(ctx context.Context, periodID, employeeID string) (bool, error)
	// ReplacePayslip deletes any payslip for the pair and stores the new one
	// atomically, reporting whether a previous one existed. It fails when the
	// period is no longer draft or calculated. Numbers come from a sequence
	// shared by every period starting in the same month.
	ReplacePayslip(ctx context.Context, payslip Payslip, matricule string, periodStart time.Time) (Payslip, bool, error)
	ListPayslips(ctx context.Context, periodID string) ([]Payslip, error)
	GetPayslip(ctx context.Context, payslipID string) (Payslip, error)

	CreateJobRun(ctx context.Context, jobType string) (string, error)
	UpdateJobRun(ctx context.Context, runID, status string, detailsJSON []byte) error
	GetJobRun(ctx context.Context, runID string) (JobRun, error)
}

// Locker serialises work on one key across workers and processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

func payslipLockKey(periodID, employeeID string) string {
	return "payroll:payslip:" + periodID + ":" + employeeID
}
