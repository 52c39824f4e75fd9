package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"paie/internal/domain/payroll"
)

func hired(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DemoEmployees is the roster loaded by Seed and by the in-memory store.
func DemoEmployees() []payroll.Employee {
	return []payroll.Employee{
		{
			Matricule: "E001", FirstName: "Amina", LastName: "Benali",
			BaseSalary: decimal.NewFromInt(10000), HireDate: hired(2019, time.March, 1),
			NumberOfDependents: 2, MaritalStatus: payroll.MaritalStatusMarried,
			RetirementPlanEnrolled: true, Active: true,
		},
		{
			Matricule: "E002", FirstName: "Youssef", LastName: "El Idrissi",
			BaseSalary: decimal.NewFromInt(6500), HireDate: hired(2021, time.September, 15),
			MaritalStatus: payroll.MaritalStatusSingle, Active: true,
		},
		{
			Matricule: "E003", FirstName: "Salma", LastName: "Ouazzani",
			BaseSalary: decimal.NewFromInt(15000), HireDate: hired(2015, time.January, 5),
			NumberOfDependents: 3, MaritalStatus: payroll.MaritalStatusMarried,
			RetirementPlanEnrolled: true, Active: true,
		},
	}
}

// Seed inserts demo employees when the employees table is empty.
func Seed(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM employees").Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	employees := DemoEmployees()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, e := range employees {
			if _, err := tx.Exec(ctx, `
        INSERT INTO employees (matricule, first_name, last_name, base_salary, hire_date,
          number_of_dependents, marital_status, spouse_employed, retirement_plan_enrolled, tax_exempt, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (matricule) DO NOTHING
      `, e.Matricule, e.FirstName, e.LastName, e.BaseSalary, e.HireDate, e.NumberOfDependents,
				string(e.MaritalStatus), e.SpouseEmployed, e.RetirementPlanEnrolled, e.TaxExempt, e.Active); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(employees), nil
}
