package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"paie/internal/platform/lock"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.SaveLegalParameters(context.Background(), flatParams()))
	svc := NewService(store, lock.NewMemoryLocker(), ServiceConfig{
		Batch:        BatchConfig{Workers: 2},
		BatchTimeout: time.Minute,
	}, zaptest.NewLogger(t))
	return svc, store
}

func januaryPeriod() NewPeriod {
	return NewPeriod{
		Label:     "Janvier 2024",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestServiceCreatePeriodDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	period, err := svc.CreatePeriod(context.Background(), januaryPeriod())
	require.NoError(t, err)
	assert.NotEmpty(t, period.ID)
	assert.Equal(t, PeriodTypeMonthly, period.Type)
	assert.Equal(t, 30, period.StandardWorkedDays)
	assertDecimal(t, "191.33", period.StandardHours)
	assert.Equal(t, PeriodStatusDraft, period.Status)
	require.NotNil(t, period.LegalParameters)
	assert.Equal(t, 2024, period.LegalParameters.Year)
}

func TestServiceCreatePeriodRejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := januaryPeriod()
	in.Label = ""
	_, err := svc.CreatePeriod(ctx, in)
	assert.True(t, IsValidation(err))

	in = januaryPeriod()
	in.EndDate = in.StartDate.AddDate(0, 0, -1)
	_, err = svc.CreatePeriod(ctx, in)
	assert.True(t, IsValidation(err))

	in = januaryPeriod()
	in.Type = "yearly"
	_, err = svc.CreatePeriod(ctx, in)
	assert.True(t, IsValidation(err))

	in = januaryPeriod()
	in.StartDate = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	in.EndDate = time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreatePeriod(ctx, in)
	assert.ErrorIs(t, err, ErrParametersNotFound)
}

func TestServiceCreateRubric(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r := fixedRubric(" prime d'équipe ", RubricKindEarning, "250", 1)
	r.ID = 0
	r.Active = false
	created, err := svc.CreateRubric(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "PRIME_DEQUIPE", created.Code)
	assert.True(t, created.Active)
	assert.NotZero(t, created.ID)

	_, err = svc.CreateRubric(ctx, r)
	assert.ErrorIs(t, err, ErrRubricExists)

	bad := fixedRubric("BAD", RubricKindEarning, "0", 2)
	bad.Mode, bad.FixedValue, bad.Formula = RubricModeFormula, nil, "undefined_variable * 2"
	_, err = svc.CreateRubric(ctx, bad)
	assert.ErrorIs(t, err, ErrUnknownVariable)

	require.NoError(t, svc.DeactivateRubric(ctx, "prime d'équipe"))
	active, err := svc.ListRubrics(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.ErrorIs(t, svc.DeactivateRubric(ctx, "NOPE"), ErrRubricNotFound)
}

func TestServicePeriodLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	emp := store.AddEmployee(testEmployee("e1", "10000"))

	period, err := svc.CreatePeriod(ctx, januaryPeriod())
	require.NoError(t, err)

	_, err = svc.ValidatePeriod(ctx, period.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, svc.SetVariableInputs(ctx, period.ID, emp.ID, VariableInputs{TransportAllowance: dec("300")}))
	res, err := svc.CalculatePeriod(ctx, period.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, PeriodStatusCalculated, res.Status)

	payslips, err := svc.ListPayslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, payslips, 1)
	assertDecimal(t, "10300", payslips[0].Gross)

	got, err := svc.GetPayslip(ctx, payslips[0].ID)
	require.NoError(t, err)
	assert.Equal(t, payslips[0].Number, got.Number)

	validated, err := svc.ValidatePeriod(ctx, period.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusValidated, validated.Status)

	err = svc.SetVariableInputs(ctx, period.ID, emp.ID, VariableInputs{})
	assert.ErrorIs(t, err, ErrPeriodValidated)

	closed, err := svc.ClosePeriod(ctx, period.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = svc.CalculatePeriod(ctx, period.ID, nil, true)
	assert.ErrorIs(t, err, ErrPeriodClosed)
	_, err = svc.GeneratePayslip(ctx, period.ID, emp.ID, true)
	assert.ErrorIs(t, err, ErrPeriodClosed)
	_, err = svc.Preview(ctx, period.ID, emp.ID, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
}

func TestServiceSetVariableInputsValidates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	emp := store.AddEmployee(testEmployee("e1", "10000"))
	period, err := svc.CreatePeriod(ctx, januaryPeriod())
	require.NoError(t, err)

	err = svc.SetVariableInputs(ctx, period.ID, emp.ID, VariableInputs{Advances: dec("-1")})
	assert.True(t, IsValidation(err))

	err = svc.SetVariableInputs(ctx, period.ID, "ghost", VariableInputs{})
	assert.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestServiceAssignRubric(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	emp := store.AddEmployee(testEmployee("e1", "10000"))

	r := fixedRubric("ASTREINTE", RubricKindAllowance, "400", 1)
	r.CompanyWide = false
	_, err := svc.CreateRubric(ctx, r)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRubric(ctx, emp.ID, "astreinte"))
	assert.ErrorIs(t, svc.AssignRubric(ctx, emp.ID, "MISSING"), ErrRubricNotFound)
	assert.ErrorIs(t, svc.AssignRubric(ctx, "ghost", "ASTREINTE"), ErrEmployeeNotFound)

	other := store.AddEmployee(testEmployee("e2", "10000"))
	period, err := svc.CreatePeriod(ctx, januaryPeriod())
	require.NoError(t, err)

	withRubric, err := svc.Preview(ctx, period.ID, emp.ID, nil)
	require.NoError(t, err)
	assertDecimal(t, "10400", withRubric.GrossSalary)

	without, err := svc.Preview(ctx, period.ID, other.ID, nil)
	require.NoError(t, err)
	assertDecimal(t, "10000", without.GrossSalary)
}

func TestServiceLegalParameters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := flatParams2025()
	bad.TaxBrackets = nil
	_, err := svc.SaveLegalParameters(ctx, bad)
	assert.True(t, IsValidation(err))

	saved, err := svc.SaveLegalParameters(ctx, flatParams2025())
	require.NoError(t, err)
	assert.Equal(t, 2025, saved.Year)

	all, err := svc.ListLegalParameters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2025, all[0].Year)
	assert.False(t, all[1].Active)

	_, err = svc.LegalParameters(ctx, 1999)
	assert.ErrorIs(t, err, ErrParametersNotFound)
}

func TestServiceImportParameterTable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	replacement := flatParams()
	replacement.SocialSecurityCeiling = dec("1")
	table, err := NewParameterTable(replacement, DefaultParameters(2026))
	require.NoError(t, err)
	require.NoError(t, svc.ImportParameterTable(ctx, table))

	kept, err := svc.LegalParameters(ctx, 2024)
	require.NoError(t, err)
	assertDecimal(t, "6000", kept.SocialSecurityCeiling)

	imported, err := svc.LegalParameters(ctx, 2026)
	require.NoError(t, err)
	assert.Len(t, imported.TaxBrackets, 6)
}

func TestServiceJobRuns(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, err := store.CreateJobRun(ctx, JobPeriodCalculation)
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobRun(ctx, id, "completed", []byte(`{"created":1}`)))

	run, err := svc.GetJobRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.JSONEq(t, `{"created":1}`, string(run.Details))
	assert.NotNil(t, run.CompletedAt)

	_, err = svc.GetJobRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobRunNotFound)
}
