package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const rubricColumns = `r.id, r.code, r.label, r.kind, r.mode, r.fixed_value, r.percentage, r.formula,
           r.taxable, r.subject_to_social_security, r.subject_to_health_insurance, r.subject_to_retirement,
           r.display_order, r.company_wide, r.active, r.created_at`

func scanRubric(row pgx.Row) (CustomRubric, error) {
	var r CustomRubric
	var kind, mode string
	var fixed, pct decimal.NullDecimal
	err := row.Scan(&r.ID, &r.Code, &r.Label, &kind, &mode, &fixed, &pct, &r.Formula,
		&r.Taxable, &r.SubjectToSocialSecurity, &r.SubjectToHealthInsurance, &r.SubjectToRetirement,
		&r.DisplayOrder, &r.CompanyWide, &r.Active, &r.CreatedAt)
	if err != nil {
		return CustomRubric{}, err
	}
	r.Kind, r.Mode = RubricKind(kind), RubricMode(mode)
	r.FixedValue, r.Percentage = fromNullDecimal(fixed), fromNullDecimal(pct)
	return r, nil
}

func (s *Store) ListRubrics(ctx context.Context, activeOnly bool) ([]CustomRubric, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+rubricColumns+`
    FROM custom_rubrics r
    WHERE ($1 = false OR r.active)
    ORDER BY r.display_order, r.id
  `, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rubrics := []CustomRubric{}
	for rows.Next() {
		r, err := scanRubric(rows)
		if err != nil {
			return nil, err
		}
		rubrics = append(rubrics, r)
	}
	return rubrics, rows.Err()
}

func (s *Store) CreateRubric(ctx context.Context, r CustomRubric) (CustomRubric, error) {
	err := s.DB.QueryRow(ctx, `
    INSERT INTO custom_rubrics (code, label, kind, mode, fixed_value, percentage, formula,
      taxable, subject_to_social_security, subject_to_health_insurance, subject_to_retirement,
      display_order, company_wide, active)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
    RETURNING id, created_at
  `, r.Code, r.Label, string(r.Kind), string(r.Mode), nullDecimal(r.FixedValue), nullDecimal(r.Percentage), r.Formula,
		r.Taxable, r.SubjectToSocialSecurity, r.SubjectToHealthInsurance, r.SubjectToRetirement,
		r.DisplayOrder, r.CompanyWide, r.Active).Scan(&r.ID, &r.CreatedAt)
	if isUniqueViolation(err) {
		return CustomRubric{}, ErrRubricExists
	}
	if err != nil {
		return CustomRubric{}, err
	}
	return r, nil
}

func (s *Store) SetRubricActive(ctx context.Context, code string, active bool) error {
	tag, err := s.DB.Exec(ctx, `UPDATE custom_rubrics SET active = $1 WHERE code = $2`, active, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRubricNotFound
	}
	return nil
}

func (s *Store) AssignRubric(ctx context.Context, employeeID, code string) error {
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO employee_rubrics (employee_id, rubric_id)
    SELECT $1::uuid, id FROM custom_rubrics WHERE code = $2
    ON CONFLICT (employee_id, rubric_id) DO NOTHING
  `, employeeID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM custom_rubrics WHERE code = $1)`, code).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRubricNotFound
		}
	}
	return nil
}

const employeeColumns = `e.id, e.matricule, e.first_name, e.last_name, e.base_salary, e.hire_date,
           e.number_of_dependents, e.marital_status, e.spouse_employed, e.retirement_plan_enrolled,
           e.tax_exempt, e.active`

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	var marital string
	err := row.Scan(&e.ID, &e.Matricule, &e.FirstName, &e.LastName, &e.BaseSalary, &e.HireDate,
		&e.NumberOfDependents, &marital, &e.SpouseEmployed, &e.RetirementPlanEnrolled,
		&e.TaxExempt, &e.Active)
	e.MaritalStatus = MaritalStatus(marital)
	return e, err
}

func (s *Store) ListActiveEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+employeeColumns+`
    FROM employees e
    WHERE e.active
    ORDER BY e.matricule
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assigned, err := s.assignedRubrics(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range employees {
		employees[i].Rubrics = assigned[employees[i].ID]
	}
	return employees, nil
}

func (s *Store) GetEmployee(ctx context.Context, employeeID string) (Employee, error) {
	e, err := scanEmployee(s.DB.QueryRow(ctx, `
    SELECT `+employeeColumns+`
    FROM employees e
    WHERE e.id::text = $1
  `, employeeID))
	if err != nil {
		return Employee{}, notFound(err, ErrEmployeeNotFound)
	}
	assigned, err := s.assignedRubrics(ctx, employeeID)
	if err != nil {
		return Employee{}, err
	}
	e.Rubrics = assigned[e.ID]
	return e, nil
}

// assignedRubrics loads employee rubric assignments, for one employee or all when employeeID is empty.
func (s *Store) assignedRubrics(ctx context.Context, employeeID string) (map[string][]CustomRubric, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT er.employee_id::text, `+rubricColumns+`
    FROM employee_rubrics er
    JOIN custom_rubrics r ON r.id = er.rubric_id
    WHERE ($1 = '' OR er.employee_id::text = $1)
    ORDER BY r.display_order, r.id
  `, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]CustomRubric{}
	for rows.Next() {
		var r CustomRubric
		var empID, kind, mode string
		var fixed, pct decimal.NullDecimal
		if err := rows.Scan(&empID, &r.ID, &r.Code, &r.Label, &kind, &mode, &fixed, &pct, &r.Formula,
			&r.Taxable, &r.SubjectToSocialSecurity, &r.SubjectToHealthInsurance, &r.SubjectToRetirement,
			&r.DisplayOrder, &r.CompanyWide, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind, r.Mode = RubricKind(kind), RubricMode(mode)
		r.FixedValue, r.Percentage = fromNullDecimal(fixed), fromNullDecimal(pct)
		out[empID] = append(out[empID], r)
	}
	return out, rows.Err()
}

func (s *Store) CreatePeriod(ctx context.Context, p PayPeriod) (PayPeriod, error) {
	if p.LegalParameters == nil {
		return PayPeriod{}, ErrParametersNotFound
	}
	err := s.DB.QueryRow(ctx, `
    INSERT INTO pay_periods (label, period_type, start_date, end_date, pay_date,
      standard_worked_days, standard_hours, legal_year, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id, created_at
  `, p.Label, string(p.Type), p.StartDate, p.EndDate, p.PayDate,
		p.StandardWorkedDays, p.StandardHours, p.LegalParameters.Year, string(p.Status)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return PayPeriod{}, err
	}
	return p, nil
}

func (s *Store) GetPeriod(ctx context.Context, periodID string) (PayPeriod, error) {
	var p PayPeriod
	var periodType, status string
	var year int
	err := s.DB.QueryRow(ctx, `
    SELECT id, label, period_type, start_date, end_date, pay_date, standard_worked_days,
           standard_hours, legal_year, status, created_at, calculated_at, validated_at, closed_at
    FROM pay_periods
    WHERE id::text = $1
  `, periodID).Scan(&p.ID, &p.Label, &periodType, &p.StartDate, &p.EndDate, &p.PayDate, &p.StandardWorkedDays,
		&p.StandardHours, &year, &status, &p.CreatedAt, &p.CalculatedAt, &p.ValidatedAt, &p.ClosedAt)
	if err != nil {
		return PayPeriod{}, notFound(err, ErrPeriodNotFound)
	}
	p.Type, p.Status = PeriodType(periodType), PeriodStatus(status)
	params, err := s.LegalParametersForYear(ctx, year)
	if err != nil {
		return PayPeriod{}, err
	}
	p.LegalParameters = &params
	return p, nil
}

func (s *Store) VariableInputs(ctx context.Context, periodID, employeeID string) (VariableInputs, error) {
	var in VariableInputs
	err := s.DB.QueryRow(ctx, `
    SELECT overtime_hours, overtime_hourly_rate, worked_days, seniority_bonus, responsibility_bonus,
           transport_allowance, benefits_in_kind, advances, loan_repayments, other_deductions
    FROM payroll_inputs
    WHERE period_id::text = $1 AND employee_id::text = $2
  `, periodID, employeeID).Scan(&in.OvertimeHours, &in.OvertimeHourlyRate, &in.WorkedDays, &in.SeniorityBonus,
		&in.ResponsibilityBonus, &in.TransportAllowance, &in.BenefitsInKind, &in.Advances,
		&in.LoanRepayments, &in.OtherDeductions)
	if errors.Is(err, pgx.ErrNoRows) {
		return VariableInputs{}, nil
	}
	return in, err
}

func (s *Store) SaveVariableInputs(ctx context.Context, periodID, employeeID string, in VariableInputs) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_inputs (period_id, employee_id, overtime_hours, overtime_hourly_rate, worked_days,
      seniority_bonus, responsibility_bonus, transport_allowance, benefits_in_kind, advances,
      loan_repayments, other_deductions)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (period_id, employee_id) DO UPDATE SET
      overtime_hours = EXCLUDED.overtime_hours,
      overtime_hourly_rate = EXCLUDED.overtime_hourly_rate,
      worked_days = EXCLUDED.worked_days,
      seniority_bonus = EXCLUDED.seniority_bonus,
      responsibility_bonus = EXCLUDED.responsibility_bonus,
      transport_allowance = EXCLUDED.transport_allowance,
      benefits_in_kind = EXCLUDED.benefits_in_kind,
      advances = EXCLUDED.advances,
      loan_repayments = EXCLUDED.loan_repayments,
      other_deductions = EXCLUDED.other_deductions,
      updated_at = now()
  `, periodID, employeeID, in.OvertimeHours, in.OvertimeHourlyRate, in.WorkedDays,
		in.SeniorityBonus, in.ResponsibilityBonus, in.TransportAllowance, in.BenefitsInKind, in.Advances,
		in.LoanRepayments, in.OtherDeductions)
	return err
}

func (s *Store) PayslipExists(ctx context.Context, periodID, employeeID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
    SELECT EXISTS (SELECT 1 FROM payslips WHERE period_id::text = $1 AND employee_id::text = $2)
  `, periodID, employeeID).Scan(&exists)
	return exists, err
}

func (s *Store) ReplacePayslip(ctx context.Context, p Payslip, matricule string, periodStart time.Time) (Payslip, bool, error) {
	computation, err := json.Marshal(p.Computation)
	if err != nil {
		return Payslip{}, false, fmt.Errorf("encode computation: %w", err)
	}
	replaced := false
	err = pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `
      SELECT status FROM pay_periods WHERE id = $1 FOR UPDATE
    `, p.PeriodID).Scan(&status); err != nil {
			return notFound(err, ErrPeriodNotFound)
		}
		if err := PeriodStatus(status).Calculable(); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
      DELETE FROM payslips WHERE period_id = $1 AND employee_id = $2
    `, p.PeriodID, p.EmployeeID)
		if err != nil {
			return err
		}
		replaced = tag.RowsAffected() > 0

		var seq int
		if err := tx.QueryRow(ctx, `
      INSERT INTO payslip_sequences (month, last_value)
      VALUES ($1, 1)
      ON CONFLICT (month) DO UPDATE SET last_value = payslip_sequences.last_value + 1
      RETURNING last_value
    `, periodStart.Format("200601")).Scan(&seq); err != nil {
			return err
		}
		p.Number = PayslipNumber(periodStart, matricule, seq)

		return tx.QueryRow(ctx, `
      INSERT INTO payslips (number, period_id, employee_id, gross, deductions, net, computation)
      VALUES ($1,$2,$3,$4,$5,$6,$7)
      RETURNING id, created_at
    `, p.Number, p.PeriodID, p.EmployeeID, p.Gross, p.Deductions, p.Net, computation).Scan(&p.ID, &p.CreatedAt)
	})
	if isUniqueViolation(err) {
		return Payslip{}, false, ErrPayslipExists
	}
	if err != nil {
		return Payslip{}, false, err
	}
	return p, replaced, nil
}

const payslipColumns = `id, number, period_id, employee_id, gross, deductions, net, computation, created_at`

func scanPayslip(row pgx.Row) (Payslip, error) {
	var p Payslip
	var computation []byte
	if err := row.Scan(&p.ID, &p.Number, &p.PeriodID, &p.EmployeeID, &p.Gross, &p.Deductions, &p.Net, &computation, &p.CreatedAt); err != nil {
		return Payslip{}, err
	}
	if err := json.Unmarshal(computation, &p.Computation); err != nil {
		return Payslip{}, fmt.Errorf("decode computation %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Store) ListPayslips(ctx context.Context, periodID string) ([]Payslip, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+payslipColumns+`
    FROM payslips
    WHERE period_id::text = $1
    ORDER BY number
  `, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payslips := []Payslip{}
	for rows.Next() {
		p, err := scanPayslip(rows)
		if err != nil {
			return nil, err
		}
		payslips = append(payslips, p)
	}
	return payslips, rows.Err()
}

func (s *Store) GetPayslip(ctx context.Context, payslipID string) (Payslip, error) {
	p, err := scanPayslip(s.DB.QueryRow(ctx, `
    SELECT `+payslipColumns+`
    FROM payslips
    WHERE id::text = $1
  `, payslipID))
	if err != nil {
		return Payslip{}, notFound(err, ErrPayslipNotFound)
	}
	return p, nil
}
