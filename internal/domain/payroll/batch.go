package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type BatchConfig struct {
	Workers       int
	LockTTL       time.Duration
	FailurePolicy FormulaFailurePolicy
	FlagPolicy    RubricFlagPolicy
}

// BatchCalculator runs the payslip calculator across the employees of a period.
type BatchCalculator struct {
	store  StoreAPI
	locker Locker
	cfg    BatchConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewBatchCalculator(store StoreAPI, locker Locker, cfg BatchConfig, log *zap.Logger) *BatchCalculator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailComputation
	}
	if cfg.FlagPolicy == "" {
		cfg.FlagPolicy = UniformGross
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchCalculator{store: store, locker: locker, cfg: cfg, log: log, now: time.Now}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeReplaced
	outcomeSkipped
)

// ComputeForPeriod computes payslips for every selected employee. Per-employee
// failures are collected in the result; only period-level problems are returned as errors.
func (b *BatchCalculator) ComputeForPeriod(ctx context.Context, periodID string, employeeIDs []string, forceRecreate bool) (BatchResult, error) {
	period, err := b.store.GetPeriod(ctx, periodID)
	if err != nil {
		return BatchResult{}, err
	}
	if err := period.Status.Calculable(); err != nil {
		return BatchResult{}, err
	}
	calc, err := b.calculatorFor(ctx, period)
	if err != nil {
		return BatchResult{}, err
	}
	employees, err := b.selectEmployees(ctx, employeeIDs)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{PeriodID: period.ID, TotalEmployees: len(employees), Errors: []BatchError{}}
	outcomes := make([]outcome, len(employees))
	failures := make([]error, len(employees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, emp := range employees {
		i, emp := i, emp
		g.Go(func() error {
			_, o, err := b.processEmployee(gctx, calc, period, emp, forceRecreate)
			outcomes[i], failures[i] = o, err
			return nil
		})
	}
	_ = g.Wait()

	for i, emp := range employees {
		if failures[i] != nil {
			b.log.Warn("payslip computation failed",
				zap.String("period_id", period.ID),
				zap.String("employee_id", emp.ID),
				zap.Error(failures[i]))
			result.Errors = append(result.Errors, BatchError{EmployeeID: emp.ID, Message: failures[i].Error()})
			continue
		}
		switch outcomes[i] {
		case outcomeCreated:
			result.Created++
		case outcomeReplaced:
			result.Created++
			result.Replaced++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	result.Status = period.Status
	if len(result.Errors) == 0 {
		if err := Transition(period.Status, PeriodStatusCalculated); err != nil {
			return result, err
		}
		// The period may have been validated or closed while payslips were written.
		err := b.store.UpdatePeriodStatus(ctx, period.ID, period.Status, PeriodStatusCalculated, b.now())
		if errors.Is(err, ErrInvalidTransition) && period.Status == PeriodStatusDraft {
			// a concurrent run got there first
			err = b.store.UpdatePeriodStatus(ctx, period.ID, PeriodStatusCalculated, PeriodStatusCalculated, b.now())
		}
		if err != nil {
			return result, fmt.Errorf("update period status: %w", err)
		}
		result.Status = PeriodStatusCalculated
	}
	b.log.Info("period calculation finished",
		zap.String("period_id", period.ID),
		zap.Int("total", result.TotalEmployees),
		zap.Int("created", result.Created),
		zap.Int("replaced", result.Replaced),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
		zap.String("status", string(result.Status)))
	return result, nil
}

// ComputeEmployee computes and stores the payslip of one employee.
// Without forceRecreate an existing payslip yields ErrPayslipExists.
func (b *BatchCalculator) ComputeEmployee(ctx context.Context, periodID, employeeID string, forceRecreate bool) (Payslip, bool, error) {
	period, err := b.store.GetPeriod(ctx, periodID)
	if err != nil {
		return Payslip{}, false, err
	}
	if err := period.Status.Calculable(); err != nil {
		return Payslip{}, false, err
	}
	emp, err := b.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return Payslip{}, false, err
	}
	if !emp.Active {
		return Payslip{}, false, &ValidationError{Field: "employeeId", Reason: "employee " + emp.ID + " is not active", Err: ErrEmployeeInactive}
	}
	calc, err := b.calculatorFor(ctx, period)
	if err != nil {
		return Payslip{}, false, err
	}
	payslip, o, err := b.processEmployee(ctx, calc, period, emp, forceRecreate)
	if err != nil {
		return Payslip{}, false, err
	}
	if o == outcomeSkipped {
		return Payslip{}, false, ErrPayslipExists
	}
	return payslip, o == outcomeReplaced, nil
}

// Preview computes without persisting. Nil inputs load the stored ones.
func (b *BatchCalculator) Preview(ctx context.Context, periodID, employeeID string, inputs *VariableInputs) (PayslipComputation, error) {
	period, err := b.store.GetPeriod(ctx, periodID)
	if err != nil {
		return PayslipComputation{}, err
	}
	if period.Status == PeriodStatusClosed {
		return PayslipComputation{}, &ValidationError{Field: "period", Reason: "period is closed", Err: ErrPeriodClosed}
	}
	emp, err := b.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return PayslipComputation{}, err
	}
	calc, err := b.calculatorFor(ctx, period)
	if err != nil {
		return PayslipComputation{}, err
	}
	var in VariableInputs
	if inputs != nil {
		in = *inputs
	} else if in, err = b.store.VariableInputs(ctx, period.ID, emp.ID); err != nil {
		return PayslipComputation{}, err
	}
	return calc.Compute(emp, period, in)
}

func (b *BatchCalculator) calculatorFor(ctx context.Context, period PayPeriod) (*Calculator, error) {
	if period.LegalParameters == nil {
		return nil, &ValidationError{Field: "legalParameters", Reason: "period has no legal parameters", Err: ErrParametersNotFound}
	}
	rubrics, err := b.store.ListRubrics(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list rubrics: %w", err)
	}
	company := make([]CustomRubric, 0, len(rubrics))
	for _, r := range rubrics {
		if r.CompanyWide {
			company = append(company, r)
		}
	}
	return NewCalculator(*period.LegalParameters, company,
		WithFormulaFailurePolicy(b.cfg.FailurePolicy),
		WithRubricFlagPolicy(b.cfg.FlagPolicy))
}

func (b *BatchCalculator) selectEmployees(ctx context.Context, employeeIDs []string) ([]Employee, error) {
	if len(employeeIDs) == 0 {
		return b.store.ListActiveEmployees(ctx)
	}
	seen := make(map[string]struct{}, len(employeeIDs))
	employees := make([]Employee, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		emp, err := b.store.GetEmployee(ctx, id)
		if errors.Is(err, ErrEmployeeNotFound) {
			return nil, &ValidationError{Field: "employeeIds", Reason: "unknown employee " + id, Err: err}
		}
		if err != nil {
			return nil, err
		}
		if !emp.Active {
			return nil, &ValidationError{Field: "employeeIds", Reason: "employee " + id + " is not active", Err: ErrEmployeeInactive}
		}
		employees = append(employees, emp)
	}
	return employees, nil
}

func (b *BatchCalculator) processEmployee(ctx context.Context, calc *Calculator, period PayPeriod, emp Employee, forceRecreate bool) (Payslip, outcome, error) {
	if b.locker != nil {
		release, ok, err := b.locker.TryLock(ctx, payslipLockKey(period.ID, emp.ID), b.cfg.LockTTL)
		if err != nil {
			return Payslip{}, 0, fmt.Errorf("acquire payslip lock: %w", err)
		}
		if !ok {
			return Payslip{}, 0, ErrCalculationRunning
		}
		defer release()
	}

	exists, err := b.store.PayslipExists(ctx, period.ID, emp.ID)
	if err != nil {
		return Payslip{}, 0, fmt.Errorf("check existing payslip: %w", err)
	}
	if exists && !forceRecreate {
		return Payslip{}, outcomeSkipped, nil
	}

	inputs, err := b.store.VariableInputs(ctx, period.ID, emp.ID)
	if err != nil {
		return Payslip{}, 0, fmt.Errorf("load variable inputs: %w", err)
	}
	comp, err := calc.Compute(emp, period, inputs)
	if err != nil {
		return Payslip{}, 0, err
	}
	saved, replaced, err := b.store.ReplacePayslip(ctx, Payslip{
		PeriodID:    period.ID,
		EmployeeID:  emp.ID,
		Gross:       comp.GrossSalary,
		Deductions:  comp.TotalDeductions,
		Net:         comp.NetPay,
		Computation: comp,
	}, emp.Matricule, period.StartDate)
	if err != nil {
		return Payslip{}, 0, fmt.Errorf("save payslip: %w", err)
	}
	if replaced {
		return saved, outcomeReplaced, nil
	}
	return saved, outcomeCreated, nil
}

// PayslipNumber formats the display number YYYYMM-<matricule>-NNN.
func PayslipNumber(periodStart time.Time, matricule string, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", periodStart.Format("200601"), matricule, seq)
}
