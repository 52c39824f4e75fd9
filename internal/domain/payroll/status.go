package payroll

import "fmt"

var allowedTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodStatusDraft:      {PeriodStatusCalculated},
	PeriodStatusCalculated: {PeriodStatusCalculated, PeriodStatusValidated},
	PeriodStatusValidated:  {PeriodStatusClosed},
}

// Transition checks that a period may move from one status to another.
func Transition(from, to PeriodStatus) error {
	if from == PeriodStatusClosed {
		return &ValidationError{Field: "status", Reason: "period is closed", Err: ErrPeriodClosed}
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &ValidationError{
		Field:  "status",
		Reason: fmt.Sprintf("cannot move period from %s to %s", from, to),
		Err:    ErrInvalidTransition,
	}
}

// Calculable reports whether payslips may still be (re)computed in this status.
func (s PeriodStatus) Calculable() error {
	switch s {
	case PeriodStatusDraft, PeriodStatusCalculated:
		return nil
	case PeriodStatusClosed:
		return &ValidationError{Field: "period", Reason: "period is closed", Err: ErrPeriodClosed}
	case PeriodStatusValidated:
		return &ValidationError{Field: "period", Reason: "period is validated", Err: ErrPeriodValidated}
	}
	return invalid("period", fmt.Sprintf("unknown status %q", s))
}

// statusConflict reports a status write that lost a race: the stored status
// is no longer the one the caller read.
func statusConflict(expected, current PeriodStatus) error {
	if current == PeriodStatusClosed {
		return &ValidationError{Field: "status", Reason: "period is closed", Err: ErrPeriodClosed}
	}
	return &ValidationError{
		Field:  "status",
		Reason: fmt.Sprintf("period status changed from %s to %s", expected, current),
		Err:    ErrInvalidTransition,
	}
}
