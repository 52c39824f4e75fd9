package payroll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MemoryStore keeps payroll data in process memory. It backs the service when
// no database is configured and serves as the fake in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	params     map[int]LegalParameters
	rubrics    map[string]CustomRubric
	rubricSeq  int64
	employees  map[string]Employee
	assigned   map[string][]string
	periods    map[string]PayPeriod
	payslipSeq map[string]int
	numbers    map[string]struct{}
	inputs     map[string]VariableInputs
	payslips   map[string]Payslip
	jobRuns    map[string]JobRun
	now        func() time.Time
}

var _ StoreAPI = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		params:     map[int]LegalParameters{},
		rubrics:    map[string]CustomRubric{},
		employees:  map[string]Employee{},
		assigned:   map[string][]string{},
		periods:    map[string]PayPeriod{},
		payslipSeq: map[string]int{},
		numbers:    map[string]struct{}{},
		inputs:     map[string]VariableInputs{},
		payslips:   map[string]Payslip{},
		jobRuns:    map[string]JobRun{},
		now:        time.Now,
	}
}

func pairKey(periodID, employeeID string) string {
	return periodID + "/" + employeeID
}

func (m *MemoryStore) ListLegalParameters(_ context.Context) ([]LegalParameters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LegalParameters, 0, len(m.params))
	for _, p := range m.params {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	return out, nil
}

func (m *MemoryStore) LegalParametersForYear(_ context.Context, year int) (LegalParameters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.params[year]
	if !ok {
		return LegalParameters{}, ErrParametersNotFound
	}
	return p, nil
}

func (m *MemoryStore) SaveLegalParameters(_ context.Context, params LegalParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.Active {
		for year, p := range m.params {
			p.Active = false
			m.params[year] = p
		}
	}
	params.TaxBrackets = append([]TaxBracket(nil), params.TaxBrackets...)
	m.params[params.Year] = params
	return nil
}

func (m *MemoryStore) ListRubrics(_ context.Context, activeOnly bool) ([]CustomRubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []CustomRubric{}
	for _, r := range m.rubrics {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sortRubrics(out)
	return out, nil
}

func (m *MemoryStore) CreateRubric(_ context.Context, rubric CustomRubric) (CustomRubric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rubrics[rubric.Code]; exists {
		return CustomRubric{}, ErrRubricExists
	}
	m.rubricSeq++
	rubric.ID = m.rubricSeq
	rubric.CreatedAt = m.now()
	m.rubrics[rubric.Code] = rubric
	return rubric, nil
}

func (m *MemoryStore) SetRubricActive(_ context.Context, code string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rubrics[code]
	if !ok {
		return ErrRubricNotFound
	}
	r.Active = active
	m.rubrics[code] = r
	return nil
}

func (m *MemoryStore) AssignRubric(_ context.Context, employeeID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[employeeID]; !ok {
		return ErrEmployeeNotFound
	}
	if _, ok := m.rubrics[code]; !ok {
		return ErrRubricNotFound
	}
	for _, c := range m.assigned[employeeID] {
		if c == code {
			return nil
		}
	}
	m.assigned[employeeID] = append(m.assigned[employeeID], code)
	return nil
}

// AddEmployee registers an employee, generating an ID when missing.
func (m *MemoryStore) AddEmployee(emp Employee) Employee {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	emp.Rubrics = nil
	m.employees[emp.ID] = emp
	return emp
}

func (m *MemoryStore) withRubrics(emp Employee) Employee {
	codes := m.assigned[emp.ID]
	if len(codes) == 0 {
		return emp
	}
	rubrics := make([]CustomRubric, 0, len(codes))
	for _, code := range codes {
		rubrics = append(rubrics, m.rubrics[code])
	}
	sortRubrics(rubrics)
	emp.Rubrics = rubrics
	return emp
}

func (m *MemoryStore) ListActiveEmployees(_ context.Context) ([]Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Employee
	for _, e := range m.employees {
		if e.Active {
			out = append(out, m.withRubrics(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matricule < out[j].Matricule })
	return out, nil
}

func (m *MemoryStore) GetEmployee(_ context.Context, employeeID string) (Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	return m.withRubrics(e), nil
}

func (m *MemoryStore) CreatePeriod(_ context.Context, period PayPeriod) (PayPeriod, error) {
	if period.LegalParameters == nil {
		return PayPeriod{}, ErrParametersNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.params[period.LegalParameters.Year]; !ok {
		return PayPeriod{}, ErrParametersNotFound
	}
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	period.CreatedAt = m.now()
	m.periods[period.ID] = period
	return period, nil
}

func (m *MemoryStore) GetPeriod(_ context.Context, periodID string) (PayPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[periodID]
	if !ok {
		return PayPeriod{}, ErrPeriodNotFound
	}
	params, ok := m.params[p.LegalParameters.Year]
	if !ok {
		return PayPeriod{}, ErrParametersNotFound
	}
	p.LegalParameters = &params
	return p, nil
}

func (m *MemoryStore) UpdatePeriodStatus(_ context.Context, periodID string, from, to PeriodStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return ErrPeriodNotFound
	}
	if p.Status != from {
		return statusConflict(from, p.Status)
	}
	p.Status = to
	switch to {
	case PeriodStatusCalculated:
		p.CalculatedAt = &at
	case PeriodStatusValidated:
		p.ValidatedAt = &at
	case PeriodStatusClosed:
		p.ClosedAt = &at
	}
	m.periods[periodID] = p
	return nil
}

func (m *MemoryStore) VariableInputs(_ context.Context, periodID, employeeID string) (VariableInputs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inputs[pairKey(periodID, employeeID)], nil
}

func (m *MemoryStore) SaveVariableInputs(_ context.Context, periodID, employeeID string, inputs VariableInputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[pairKey(periodID, employeeID)] = inputs
	return nil
}

func (m *MemoryStore) PayslipExists(_ context.Context, periodID, employeeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.findPayslip(periodID, employeeID)
	return ok, nil
}

func (m *MemoryStore) findPayslip(periodID, employeeID string) (string, bool) {
	for id, p := range m.payslips {
		if p.PeriodID == periodID && p.EmployeeID == employeeID {
			return id, true
		}
	}
	return "", false
}

func (m *MemoryStore) ReplacePayslip(_ context.Context, payslip Payslip, matricule string, periodStart time.Time) (Payslip, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period, ok := m.periods[payslip.PeriodID]
	if !ok {
		return Payslip{}, false, ErrPeriodNotFound
	}
	if err := period.Status.Calculable(); err != nil {
		return Payslip{}, false, err
	}
	month := periodStart.Format("200601")
	number := PayslipNumber(periodStart, matricule, m.payslipSeq[month]+1)
	if _, taken := m.numbers[number]; taken {
		return Payslip{}, false, ErrPayslipExists
	}
	oldID, replaced := m.findPayslip(payslip.PeriodID, payslip.EmployeeID)
	if replaced {
		delete(m.payslips, oldID)
	}
	m.payslipSeq[month]++
	m.numbers[number] = struct{}{}
	payslip.ID = uuid.NewString()
	payslip.Number = number
	payslip.CreatedAt = m.now()
	m.payslips[payslip.ID] = payslip
	return payslip, replaced, nil
}

func (m *MemoryStore) ListPayslips(_ context.Context, periodID string) ([]Payslip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Payslip{}
	for _, p := range m.payslips {
		if p.PeriodID == periodID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) GetPayslip(_ context.Context, payslipID string) (Payslip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payslips[payslipID]
	if !ok {
		return Payslip{}, ErrPayslipNotFound
	}
	return p, nil
}

func (m *MemoryStore) CreateJobRun(_ context.Context, jobType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.jobRuns[id] = JobRun{ID: id, JobType: jobType, Status: "running", CreatedAt: m.now()}
	return id, nil
}

func (m *MemoryStore) UpdateJobRun(_ context.Context, runID, status string, detailsJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.jobRuns[runID]
	if !ok {
		return ErrJobRunNotFound
	}
	now := m.now()
	run.Status = status
	run.Details = json.RawMessage(append([]byte(nil), detailsJSON...))
	run.CompletedAt = &now
	m.jobRuns[runID] = run
	return nil
}

func (m *MemoryStore) GetJobRun(_ context.Context, runID string) (JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.jobRuns[runID]
	if !ok {
		return JobRun{}, ErrJobRunNotFound
	}
	return run, nil
}
