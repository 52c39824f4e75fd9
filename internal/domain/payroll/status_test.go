package payroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	assert.NoError(t, Transition(PeriodStatusDraft, PeriodStatusCalculated))
	assert.NoError(t, Transition(PeriodStatusCalculated, PeriodStatusCalculated))
	assert.NoError(t, Transition(PeriodStatusCalculated, PeriodStatusValidated))
	assert.NoError(t, Transition(PeriodStatusValidated, PeriodStatusClosed))

	assert.ErrorIs(t, Transition(PeriodStatusDraft, PeriodStatusValidated), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(PeriodStatusDraft, PeriodStatusClosed), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(PeriodStatusValidated, PeriodStatusCalculated), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(PeriodStatusClosed, PeriodStatusCalculated), ErrPeriodClosed)
	assert.True(t, IsValidation(Transition(PeriodStatusClosed, PeriodStatusDraft)))
}

func TestCalculable(t *testing.T) {
	assert.NoError(t, PeriodStatusDraft.Calculable())
	assert.NoError(t, PeriodStatusCalculated.Calculable())
	assert.ErrorIs(t, PeriodStatusValidated.Calculable(), ErrPeriodValidated)
	assert.ErrorIs(t, PeriodStatusClosed.Calculable(), ErrPeriodClosed)
	assert.True(t, IsValidation(PeriodStatus("archived").Calculable()))
}
