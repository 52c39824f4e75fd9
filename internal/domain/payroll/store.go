package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	DB *pgxpool.Pool
}

var _ StoreAPI = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func (s *Store) ListLegalParameters(ctx context.Context) ([]LegalParameters, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT year FROM legal_parameters ORDER BY year DESC
  `)
	if err != nil {
		return nil, err
	}
	years, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, err
	}
	out := make([]LegalParameters, 0, len(years))
	for _, year := range years {
		p, err := s.LegalParametersForYear(ctx, year)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) LegalParametersForYear(ctx context.Context, year int) (LegalParameters, error) {
	var p LegalParameters
	err := s.DB.QueryRow(ctx, `
    SELECT year, social_security_ceiling, professional_expense_cap, professional_expense_rate,
           per_dependent_deduction, social_security_rate, health_insurance_rate, retirement_rate,
           employer_social_security_rate, employer_health_insurance_rate,
           professional_training_rate, social_benefits_rate, active
    FROM legal_parameters
    WHERE year = $1
  `, year).Scan(&p.Year, &p.SocialSecurityCeiling, &p.ProfessionalExpenseCap, &p.ProfessionalExpenseRate,
		&p.PerDependentDeduction, &p.SocialSecurityRate, &p.HealthInsuranceRate, &p.RetirementRate,
		&p.EmployerSocialSecurityRate, &p.EmployerHealthInsuranceRate,
		&p.ProfessionalTrainingRate, &p.SocialBenefitsRate, &p.Active)
	if err != nil {
		return LegalParameters{}, notFound(err, fmt.Errorf("year %d: %w", year, ErrParametersNotFound))
	}

	rows, err := s.DB.Query(ctx, `
    SELECT bracket_order, min_annual_income, max_annual_income, rate, deductible_amount
    FROM tax_brackets
    WHERE year = $1
    ORDER BY bracket_order
  `, year)
	if err != nil {
		return LegalParameters{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b TaxBracket
		var max decimal.NullDecimal
		if err := rows.Scan(&b.Order, &b.MinAnnualIncome, &max, &b.Rate, &b.DeductibleAmount); err != nil {
			return LegalParameters{}, err
		}
		b.MaxAnnualIncome = fromNullDecimal(max)
		p.TaxBrackets = append(p.TaxBrackets, b)
	}
	return p, rows.Err()
}

func (s *Store) SaveLegalParameters(ctx context.Context, p LegalParameters) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if p.Active {
			if _, err := tx.Exec(ctx, `UPDATE legal_parameters SET active = false WHERE year <> $1`, p.Year); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO legal_parameters (year, social_security_ceiling, professional_expense_cap, professional_expense_rate,
        per_dependent_deduction, social_security_rate, health_insurance_rate, retirement_rate,
        employer_social_security_rate, employer_health_insurance_rate,
        professional_training_rate, social_benefits_rate, active)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
      ON CONFLICT (year) DO UPDATE SET
        social_security_ceiling = EXCLUDED.social_security_ceiling,
        professional_expense_cap = EXCLUDED.professional_expense_cap,
        professional_expense_rate = EXCLUDED.professional_expense_rate,
        per_dependent_deduction = EXCLUDED.per_dependent_deduction,
        social_security_rate = EXCLUDED.social_security_rate,
        health_insurance_rate = EXCLUDED.health_insurance_rate,
        retirement_rate = EXCLUDED.retirement_rate,
        employer_social_security_rate = EXCLUDED.employer_social_security_rate,
        employer_health_insurance_rate = EXCLUDED.employer_health_insurance_rate,
        professional_training_rate = EXCLUDED.professional_training_rate,
        social_benefits_rate = EXCLUDED.social_benefits_rate,
        active = EXCLUDED.active,
        updated_at = now()
    `, p.Year, p.SocialSecurityCeiling, p.ProfessionalExpenseCap, p.ProfessionalExpenseRate,
			p.PerDependentDeduction, p.SocialSecurityRate, p.HealthInsuranceRate, p.RetirementRate,
			p.EmployerSocialSecurityRate, p.EmployerHealthInsuranceRate,
			p.ProfessionalTrainingRate, p.SocialBenefitsRate, p.Active); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tax_brackets WHERE year = $1`, p.Year); err != nil {
			return err
		}
		for _, b := range p.TaxBrackets {
			if _, err := tx.Exec(ctx, `
        INSERT INTO tax_brackets (year, bracket_order, min_annual_income, max_annual_income, rate, deductible_amount)
        VALUES ($1,$2,$3,$4,$5,$6)
      `, p.Year, b.Order, b.MinAnnualIncome, nullDecimal(b.MaxAnnualIncome), b.Rate, b.DeductibleAmount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdatePeriodStatus(ctx context.Context, periodID string, from, to PeriodStatus, at time.Time) error {
	column := map[PeriodStatus]string{
		PeriodStatusCalculated: "calculated_at",
		PeriodStatusValidated:  "validated_at",
		PeriodStatusClosed:     "closed_at",
	}[to]
	query := `UPDATE pay_periods SET status = $1 WHERE id = $2 AND status = $3`
	args := []any{string(to), periodID, string(from)}
	if column != "" {
		query = `UPDATE pay_periods SET status = $1, ` + column + ` = $4 WHERE id = $2 AND status = $3`
		args = append(args, at)
	}
	tag, err := s.DB.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	if err := s.DB.QueryRow(ctx, `SELECT status FROM pay_periods WHERE id = $1`, periodID).Scan(&current); err != nil {
		return notFound(err, ErrPeriodNotFound)
	}
	return statusConflict(from, PeriodStatus(current))
}

func (s *Store) CreateJobRun(ctx context.Context, jobType string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (job_type, status)
    VALUES ($1,$2)
    RETURNING id
  `, jobType, "running").Scan(&id)
	return id, err
}

func (s *Store) UpdateJobRun(ctx context.Context, runID, status string, detailsJSON []byte) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, detailsJSON, runID)
	return err
}

func (s *Store) GetJobRun(ctx context.Context, runID string) (JobRun, error) {
	var run JobRun
	var details []byte
	err := s.DB.QueryRow(ctx, `
    SELECT id, job_type, status, COALESCE(details_json, '{}'::jsonb), created_at, completed_at
    FROM job_runs
    WHERE id = $1
  `, runID).Scan(&run.ID, &run.JobType, &run.Status, &details, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return JobRun{}, notFound(err, ErrJobRunNotFound)
	}
	run.Details = json.RawMessage(details)
	return run, nil
}
