package payroll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"paie/internal/platform/lock"
)

type batchFixture struct {
	store    *MemoryStore
	batch    *BatchCalculator
	period   PayPeriod
	employee []Employee
}

func newBatchFixture(t *testing.T, employees int) batchFixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	params := flatParams()
	require.NoError(t, store.SaveLegalParameters(ctx, params))

	period := testPeriod(params)
	period.ID = ""
	period, err := store.CreatePeriod(ctx, period)
	require.NoError(t, err)

	f := batchFixture{
		store:  store,
		batch:  NewBatchCalculator(store, lock.NewMemoryLocker(), BatchConfig{Workers: 2}, zaptest.NewLogger(t)),
		period: period,
	}
	for i := 0; i < employees; i++ {
		emp := testEmployee(string(rune('a'+i)), "10000")
		emp.ID = ""
		emp.Matricule = "E00" + string(rune('1'+i))
		f.employee = append(f.employee, store.AddEmployee(emp))
	}
	return f
}

func TestComputeForPeriodAllSucceed(t *testing.T) {
	f := newBatchFixture(t, 3)
	ctx := context.Background()

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalEmployees)
	assert.Equal(t, 3, res.Created)
	assert.Empty(t, res.Errors)
	assert.Equal(t, PeriodStatusCalculated, res.Status)

	period, err := f.store.GetPeriod(ctx, f.period.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusCalculated, period.Status)
	assert.NotNil(t, period.CalculatedAt)

	payslips, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)
	require.Len(t, payslips, 3)
	for _, p := range payslips {
		assertDecimal(t, "8754.68", p.Net)
		assert.Regexp(t, `^202401-E00\d-00\d$`, p.Number)
	}
}

func TestComputeForPeriodPartialFailureKeepsDraft(t *testing.T) {
	f := newBatchFixture(t, 3)
	ctx := context.Background()

	bad := fixedRubric("BAD", RubricKindEarning, "0", 1)
	bad.Mode, bad.FixedValue, bad.Formula = RubricModeFormula, nil, "undefined_variable * 2"
	bad.CompanyWide = false
	_, err := f.store.CreateRubric(ctx, bad)
	require.NoError(t, err)
	require.NoError(t, f.store.AssignRubric(ctx, f.employee[1].ID, "BAD"))

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalEmployees)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, f.employee[1].ID, res.Errors[0].EmployeeID)
	assert.Contains(t, res.Errors[0].Message, "undefined_variable")
	assert.Equal(t, PeriodStatusDraft, res.Status)

	period, err := f.store.GetPeriod(ctx, f.period.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusDraft, period.Status)

	exists, err := f.store.PayslipExists(ctx, f.period.ID, f.employee[1].ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestComputeForPeriodIdempotent(t *testing.T) {
	f := newBatchFixture(t, 2)
	ctx := context.Background()

	_, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	first, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, PeriodStatusCalculated, res.Status)

	second, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeForPeriodForceRecreate(t *testing.T) {
	f := newBatchFixture(t, 2)
	ctx := context.Background()

	_, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveVariableInputs(ctx, f.period.ID, f.employee[0].ID, VariableInputs{SeniorityBonus: dec("500")}))

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Replaced)

	payslips, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)
	require.Len(t, payslips, 2)
	for _, p := range payslips {
		if p.EmployeeID == f.employee[0].ID {
			assertDecimal(t, "10500", p.Gross)
		}
	}
}

func TestComputeForPeriodSubset(t *testing.T) {
	f := newBatchFixture(t, 3)
	ctx := context.Background()

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, []string{f.employee[2].ID, f.employee[2].ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalEmployees)
	assert.Equal(t, 1, res.Created)

	_, err = f.batch.ComputeForPeriod(ctx, f.period.ID, []string{"missing"}, false)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrEmployeeNotFound)

	inactive := testEmployee("gone", "1000")
	inactive.Active = false
	f.store.AddEmployee(inactive)
	_, err = f.batch.ComputeForPeriod(ctx, f.period.ID, []string{"gone"}, false)
	assert.ErrorIs(t, err, ErrEmployeeInactive)
}

func TestComputeForPeriodRejectsLockedStatuses(t *testing.T) {
	f := newBatchFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.store.UpdatePeriodStatus(ctx, f.period.ID, PeriodStatusDraft, PeriodStatusClosed, time.Now()))
	_, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	assert.ErrorIs(t, err, ErrPeriodClosed)

	f = newBatchFixture(t, 1)
	require.NoError(t, f.store.UpdatePeriodStatus(ctx, f.period.ID, PeriodStatusDraft, PeriodStatusValidated, time.Now()))
	_, err = f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	assert.ErrorIs(t, err, ErrPeriodValidated)

	_, err = f.batch.ComputeForPeriod(ctx, "nope", nil, false)
	assert.ErrorIs(t, err, ErrPeriodNotFound)
}

func TestComputeForPeriodNoEmployees(t *testing.T) {
	f := newBatchFixture(t, 0)
	res, err := f.batch.ComputeForPeriod(context.Background(), f.period.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalEmployees)
	assert.NotNil(t, res.Errors)
	assert.Equal(t, PeriodStatusCalculated, res.Status)
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestComputeForPeriodLockHeld(t *testing.T) {
	f := newBatchFixture(t, 1)
	batch := NewBatchCalculator(f.store, heldLocker{}, BatchConfig{}, nil)

	res, err := batch.ComputeForPeriod(context.Background(), f.period.ID, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, ErrCalculationRunning.Error())
	assert.Equal(t, PeriodStatusDraft, res.Status)
}

func TestComputeForPeriodConcurrentCallsProduceOnePayslip(t *testing.T) {
	f := newBatchFixture(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
		}()
	}
	wg.Wait()

	payslips, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)
	assert.Len(t, payslips, 4)
}

func TestComputeEmployee(t *testing.T) {
	f := newBatchFixture(t, 1)
	ctx := context.Background()
	empID := f.employee[0].ID

	p, replaced, err := f.batch.ComputeEmployee(ctx, f.period.ID, empID, false)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "202401-E001-001", p.Number)

	_, _, err = f.batch.ComputeEmployee(ctx, f.period.ID, empID, false)
	assert.ErrorIs(t, err, ErrPayslipExists)

	p, replaced, err = f.batch.ComputeEmployee(ctx, f.period.ID, empID, true)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "202401-E001-002", p.Number)

	_, _, err = f.batch.ComputeEmployee(ctx, f.period.ID, "missing", false)
	assert.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	f := newBatchFixture(t, 1)
	ctx := context.Background()
	empID := f.employee[0].ID
	require.NoError(t, f.store.SaveVariableInputs(ctx, f.period.ID, empID, VariableInputs{WorkedDays: intPtr(15)}))

	stored, err := f.batch.Preview(ctx, f.period.ID, empID, nil)
	require.NoError(t, err)
	assertDecimal(t, "5000", stored.GrossSalary)

	override, err := f.batch.Preview(ctx, f.period.ID, empID, &VariableInputs{})
	require.NoError(t, err)
	assertDecimal(t, "10000", override.GrossSalary)

	exists, err := f.store.PayslipExists(ctx, f.period.ID, empID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPayslipNumber(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "202403-E042-007", PayslipNumber(start, "E042", 7))
}

// finalizingStore validates then closes the period around the first payslip write.
type finalizingStore struct {
	*MemoryStore
	before bool
	once   sync.Once
}

func (s *finalizingStore) finalize(ctx context.Context, periodID string) {
	s.once.Do(func() {
		now := time.Now()
		_ = s.MemoryStore.UpdatePeriodStatus(ctx, periodID, PeriodStatusCalculated, PeriodStatusValidated, now)
		_ = s.MemoryStore.UpdatePeriodStatus(ctx, periodID, PeriodStatusValidated, PeriodStatusClosed, now)
	})
}

func (s *finalizingStore) ReplacePayslip(ctx context.Context, p Payslip, matricule string, start time.Time) (Payslip, bool, error) {
	if s.before {
		s.finalize(ctx, p.PeriodID)
		return s.MemoryStore.ReplacePayslip(ctx, p, matricule, start)
	}
	saved, replaced, err := s.MemoryStore.ReplacePayslip(ctx, p, matricule, start)
	s.finalize(ctx, p.PeriodID)
	return saved, replaced, err
}

func TestComputeForPeriodPeriodClosedDuringRun(t *testing.T) {
	recalculate := func(t *testing.T, employees int, before bool) (batchFixture, []Payslip, BatchResult, error) {
		f := newBatchFixture(t, employees)
		ctx := context.Background()
		_, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
		require.NoError(t, err)
		original, err := f.store.ListPayslips(ctx, f.period.ID)
		require.NoError(t, err)

		store := &finalizingStore{MemoryStore: f.store, before: before}
		batch := NewBatchCalculator(store, lock.NewMemoryLocker(), BatchConfig{Workers: 1}, zaptest.NewLogger(t))
		res, err := batch.ComputeForPeriod(ctx, f.period.ID, nil, true)

		period, getErr := f.store.GetPeriod(ctx, f.period.ID)
		require.NoError(t, getErr)
		assert.Equal(t, PeriodStatusClosed, period.Status)
		return f, original, res, err
	}

	t.Run("closed before payslips are written", func(t *testing.T) {
		f, original, res, err := recalculate(t, 2, true)
		require.NoError(t, err)
		require.Len(t, res.Errors, 2)
		for _, e := range res.Errors {
			assert.Contains(t, e.Message, "period is closed")
		}
		assert.Equal(t, 0, res.Created)

		current, err := f.store.ListPayslips(context.Background(), f.period.ID)
		require.NoError(t, err)
		assert.Equal(t, original, current)
	})

	t.Run("closed before the status update", func(t *testing.T) {
		_, _, _, err := recalculate(t, 1, false)
		assert.ErrorIs(t, err, ErrPeriodClosed)
	})
}

func TestComputeForPeriodSharesMonthSequenceAcrossPeriods(t *testing.T) {
	f := newBatchFixture(t, 1)
	ctx := context.Background()

	second := testPeriod(flatParams())
	second.ID = ""
	second.Type = PeriodTypeFortnightly
	second.StartDate = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	second, err := f.store.CreatePeriod(ctx, second)
	require.NoError(t, err)

	first, _, err := f.batch.ComputeEmployee(ctx, f.period.ID, f.employee[0].ID, false)
	require.NoError(t, err)
	next, _, err := f.batch.ComputeEmployee(ctx, second.ID, f.employee[0].ID, false)
	require.NoError(t, err)

	assert.Equal(t, "202401-E001-001", first.Number)
	assert.Equal(t, "202401-E001-002", next.Number)
}

func TestComputeForPeriodFailedRecreateKeepsPreviousPayslip(t *testing.T) {
	f := newBatchFixture(t, 1)
	ctx := context.Background()
	_, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, false)
	require.NoError(t, err)
	before, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)

	bad := fixedRubric("BAD", RubricKindEarning, "0", 1)
	bad.Mode, bad.FixedValue, bad.Formula = RubricModeFormula, nil, "baseSalary / (yearsOfService - yearsOfService)"
	_, err = f.store.CreateRubric(ctx, bad)
	require.NoError(t, err)

	res, err := f.batch.ComputeForPeriod(ctx, f.period.ID, nil, true)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Replaced)

	after, err := f.store.ListPayslips(ctx, f.period.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
