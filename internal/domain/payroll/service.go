package payroll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paie/internal/platform/metrics"
)

type ServiceConfig struct {
	Batch        BatchConfig
	BatchTimeout time.Duration
}

type Service struct {
	store   StoreAPI
	batch   *BatchCalculator
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewService(store StoreAPI, locker Locker, cfg ServiceConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		batch:   NewBatchCalculator(store, locker, cfg.Batch, log.Named("batch")),
		timeout: cfg.BatchTimeout,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) Store() StoreAPI { return s.store }

func (s *Service) ListLegalParameters(ctx context.Context) ([]LegalParameters, error) {
	return s.store.ListLegalParameters(ctx)
}

func (s *Service) LegalParameters(ctx context.Context, year int) (LegalParameters, error) {
	return s.store.LegalParametersForYear(ctx, year)
}

func (s *Service) SaveLegalParameters(ctx context.Context, params LegalParameters) (LegalParameters, error) {
	if err := params.Validate(); err != nil {
		return LegalParameters{}, err
	}
	params.TaxBrackets = orderedBrackets(params.TaxBrackets)
	if err := s.store.SaveLegalParameters(ctx, params); err != nil {
		return LegalParameters{}, fmt.Errorf("save legal parameters: %w", err)
	}
	return params, nil
}

// ImportParameterTable stores every year of t that the store does not know yet.
func (s *Service) ImportParameterTable(ctx context.Context, t *ParameterTable) error {
	for _, year := range t.Years() {
		if _, err := s.store.LegalParametersForYear(ctx, year); err == nil {
			continue
		}
		params, err := t.RatesFor(year)
		if err != nil {
			return err
		}
		if err := s.store.SaveLegalParameters(ctx, params); err != nil {
			return fmt.Errorf("import legal parameters %d: %w", year, err)
		}
		s.log.Info("legal parameters imported", zap.Int("year", year))
	}
	return nil
}

func (s *Service) ListRubrics(ctx context.Context, activeOnly bool) ([]CustomRubric, error) {
	return s.store.ListRubrics(ctx, activeOnly)
}

func (s *Service) CreateRubric(ctx context.Context, rubric CustomRubric) (CustomRubric, error) {
	rubric.Code = NormalizeRubricCode(rubric.Code)
	rubric.Label = strings.TrimSpace(rubric.Label)
	if err := rubric.Validate(); err != nil {
		return CustomRubric{}, err
	}
	rubric.Active = true
	return s.store.CreateRubric(ctx, rubric)
}

func (s *Service) DeactivateRubric(ctx context.Context, code string) error {
	return s.store.SetRubricActive(ctx, NormalizeRubricCode(code), false)
}

func (s *Service) AssignRubric(ctx context.Context, employeeID, code string) error {
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return err
	}
	return s.store.AssignRubric(ctx, employeeID, NormalizeRubricCode(code))
}

func (s *Service) CreatePeriod(ctx context.Context, in NewPeriod) (PayPeriod, error) {
	if err := validateStruct(in); err != nil {
		return PayPeriod{}, err
	}
	if in.EndDate.Before(in.StartDate) {
		return PayPeriod{}, invalid("endDate", "must not be before startDate")
	}
	if in.Type == "" {
		in.Type = PeriodTypeMonthly
	}
	if !in.Type.Valid() {
		return PayPeriod{}, invalid("type", "unknown period type")
	}
	if in.StandardWorkedDays == 0 {
		in.StandardWorkedDays = DefaultStandardWorkedDays
	}
	if in.StandardHours.IsZero() {
		in.StandardHours = decimal.RequireFromString(DefaultStandardHours)
	}
	params, err := s.store.LegalParametersForYear(ctx, in.StartDate.Year())
	if err != nil {
		return PayPeriod{}, err
	}
	return s.store.CreatePeriod(ctx, PayPeriod{
		Label:              strings.TrimSpace(in.Label),
		Type:               in.Type,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		PayDate:            in.PayDate,
		StandardWorkedDays: in.StandardWorkedDays,
		StandardHours:      in.StandardHours,
		LegalParameters:    &params,
		Status:             PeriodStatusDraft,
	})
}

func (s *Service) GetPeriod(ctx context.Context, periodID string) (PayPeriod, error) {
	return s.store.GetPeriod(ctx, periodID)
}

func (s *Service) ValidatePeriod(ctx context.Context, periodID string) (PayPeriod, error) {
	return s.movePeriod(ctx, periodID, PeriodStatusValidated)
}

func (s *Service) ClosePeriod(ctx context.Context, periodID string) (PayPeriod, error) {
	return s.movePeriod(ctx, periodID, PeriodStatusClosed)
}

func (s *Service) movePeriod(ctx context.Context, periodID string, to PeriodStatus) (PayPeriod, error) {
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	if err := Transition(period.Status, to); err != nil {
		return PayPeriod{}, err
	}
	if err := s.store.UpdatePeriodStatus(ctx, periodID, period.Status, to, s.now()); err != nil {
		return PayPeriod{}, fmt.Errorf("update period status: %w", err)
	}
	metrics.PeriodTransitions.WithLabelValues(string(period.Status), string(to)).Inc()
	s.log.Info("period status changed",
		zap.String("period_id", periodID),
		zap.String("from", string(period.Status)),
		zap.String("to", string(to)))
	return s.store.GetPeriod(ctx, periodID)
}

func (s *Service) SetVariableInputs(ctx context.Context, periodID, employeeID string, inputs VariableInputs) error {
	if err := validateStruct(inputs); err != nil {
		return err
	}
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if err := period.Status.Calculable(); err != nil {
		return err
	}
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return err
	}
	return s.store.SaveVariableInputs(ctx, periodID, employeeID, inputs)
}

func (s *Service) Preview(ctx context.Context, periodID, employeeID string, inputs *VariableInputs) (PayslipComputation, error) {
	comp, err := s.batch.Preview(ctx, periodID, employeeID, inputs)
	if err != nil {
		metrics.ComputationFailures.WithLabelValues(failureKind(err)).Inc()
	}
	return comp, err
}

func (s *Service) GeneratePayslip(ctx context.Context, periodID, employeeID string, forceRecreate bool) (Payslip, error) {
	payslip, replaced, err := s.batch.ComputeEmployee(ctx, periodID, employeeID, forceRecreate)
	if err != nil {
		metrics.ComputationFailures.WithLabelValues(failureKind(err)).Inc()
		return Payslip{}, err
	}
	outcome := "created"
	if replaced {
		outcome = "replaced"
	}
	metrics.PayslipsComputed.WithLabelValues(outcome).Inc()
	return payslip, nil
}

// CalculatePeriod runs the batch under the configured timeout and records metrics.
func (s *Service) CalculatePeriod(ctx context.Context, periodID string, employeeIDs []string, forceRecreate bool) (BatchResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := s.batch.ComputeForPeriod(ctx, periodID, employeeIDs, forceRecreate)
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchRuns.WithLabelValues("rejected").Inc()
		return result, err
	}
	metrics.PayslipsComputed.WithLabelValues("created").Add(float64(result.Created - result.Replaced))
	metrics.PayslipsComputed.WithLabelValues("replaced").Add(float64(result.Replaced))
	metrics.PayslipsComputed.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.ComputationFailures.WithLabelValues("batch_employee").Add(float64(len(result.Errors)))
	status := "completed"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	metrics.BatchRuns.WithLabelValues(status).Inc()
	return result, nil
}

func (s *Service) ListPayslips(ctx context.Context, periodID string) ([]Payslip, error) {
	if _, err := s.store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return s.store.ListPayslips(ctx, periodID)
}

func (s *Service) GetPayslip(ctx context.Context, payslipID string) (Payslip, error) {
	return s.store.GetPayslip(ctx, payslipID)
}

func (s *Service) GetJobRun(ctx context.Context, runID string) (JobRun, error) {
	return s.store.GetJobRun(ctx, runID)
}

func failureKind(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsComputation(err):
		return "computation"
	}
	return "internal"
}
