package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrPeriodNotFound     = errors.New("payroll period not found")
	ErrPeriodClosed       = errors.New("payroll period is closed")
	ErrPeriodValidated    = errors.New("payroll period is validated")
	ErrInvalidTransition  = errors.New("invalid period status transition")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrEmployeeInactive   = errors.New("employee is not active")
	ErrParametersNotFound = errors.New("legal parameters not found")
	ErrRubricNotFound     = errors.New("custom rubric not found")
	ErrRubricExists       = errors.New("custom rubric code already exists")
	ErrPayslipNotFound    = errors.New("payslip not found")
	ErrPayslipExists      = errors.New("payslip already exists for employee and period")
	ErrCalculationRunning = errors.New("payslip computation already in progress")
	ErrJobRunNotFound     = errors.New("job run not found")
	ErrUnknownVariable    = errors.New("unknown formula variable")
	ErrMalformedFormula   = errors.New("malformed formula")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrDisallowedSyntax   = errors.New("disallowed formula syntax")
	ErrNegativeAmount     = errors.New("rubric amount is negative")
)

// ValidationError is a caller-correctable input problem.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ComputationError reports a rubric that could not be evaluated.
type ComputationError struct {
	Rubric string
	Err    error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("rubric %s: %v", e.Rubric, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidErr(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsComputation(err error) bool {
	var c *ComputationError
	return errors.As(err, &c)
}
