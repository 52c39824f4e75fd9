package payrollhandler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paie/internal/domain/auth"
	"paie/internal/domain/payroll"
	"paie/internal/platform/jobs"
	"paie/internal/transport/http/api"
	"paie/internal/transport/http/middleware"
	"paie/internal/transport/http/shared"
)

type Handler struct {
	Payroll *payroll.Service
	Jobs    *jobs.Service
	Perms   middleware.PermissionChecker
	Log     *zap.Logger
}

func NewHandler(svc *payroll.Service, jobSvc *jobs.Service, perms middleware.PermissionChecker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Payroll: svc, Jobs: jobSvc, Perms: perms, Log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/legal-parameters", h.handleListLegalParameters)
		r.With(middleware.RequirePermission(auth.PermPayrollSettings, h.Perms)).Post("/legal-parameters", h.handleSaveLegalParameters)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/legal-parameters/{year}", h.handleGetLegalParameters)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/rubrics", h.handleListRubrics)
		r.With(middleware.RequirePermission(auth.PermPayrollSettings, h.Perms)).Post("/rubrics", h.handleCreateRubric)
		r.With(middleware.RequirePermission(auth.PermPayrollSettings, h.Perms)).Post("/rubrics/{code}/deactivate", h.handleDeactivateRubric)
		r.With(middleware.RequirePermission(auth.PermPayrollWrite, h.Perms)).Post("/employees/{employeeID}/rubrics", h.handleAssignRubric)
		r.With(middleware.RequirePermission(auth.PermPayrollWrite, h.Perms)).Post("/periods", h.handleCreatePeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/periods/{periodID}", h.handleGetPeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollWrite, h.Perms)).Put("/periods/{periodID}/inputs/{employeeID}", h.handleSetInputs)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Post("/periods/{periodID}/preview", h.handlePreview)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/periods/{periodID}/payslips", h.handleGeneratePayslip)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/periods/{periodID}/payslips", h.handleListPayslips)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/periods/{periodID}/calculate", h.handleCalculatePeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollFinalize, h.Perms)).Post("/periods/{periodID}/validate", h.handleValidatePeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollFinalize, h.Perms)).Post("/periods/{periodID}/close", h.handleClosePeriod)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/payslips/{payslipID}", h.handleGetPayslip)
	})
	r.With(middleware.RequirePermission(auth.PermJobsRead, h.Perms)).Get("/jobs/{runID}", h.handleGetJobRun)
}

func (h *Handler) handleListLegalParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.Payroll.ListLegalParameters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, params, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetLegalParameters(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), []shared.ValidationIssue{{Field: "year", Reason: "must be a number"}})
		return
	}
	params, err := h.Payroll.LegalParameters(r.Context(), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, params, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveLegalParameters(w http.ResponseWriter, r *http.Request) {
	var payload payroll.LegalParameters
	if !h.decode(w, r, &payload) {
		return
	}
	saved, err := h.Payroll.SaveLegalParameters(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "payroll.legal_parameters.save", zap.Int("year", saved.Year))
	api.Created(w, saved, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	rubrics, err := h.Payroll.ListRubrics(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, rubrics, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateRubric(w http.ResponseWriter, r *http.Request) {
	var payload payroll.CustomRubric
	if !h.decode(w, r, &payload) {
		return
	}
	rubric, err := h.Payroll.CreateRubric(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "payroll.rubric.create", zap.String("code", rubric.Code))
	api.Created(w, rubric, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeactivateRubric(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Payroll.DeactivateRubric(r.Context(), code); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "payroll.rubric.deactivate", zap.String("code", code))
	api.Success(w, map[string]string{"code": payroll.NormalizeRubricCode(code), "status": "inactive"}, middleware.GetRequestID(r.Context()))
}

type assignRubricPayload struct {
	Code string `json:"code"`
}

func (h *Handler) handleAssignRubric(w http.ResponseWriter, r *http.Request) {
	var payload assignRubricPayload
	if !h.decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("code", payload.Code, "is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	employeeID := chi.URLParam(r, "employeeID")
	if err := h.Payroll.AssignRubric(r.Context(), employeeID, payload.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, map[string]string{
		"employeeId": employeeID,
		"code":       payroll.NormalizeRubricCode(payload.Code),
	}, middleware.GetRequestID(r.Context()))
}

type periodPayload struct {
	Label              string          `json:"label"`
	Type               string          `json:"type"`
	StartDate          string          `json:"startDate"`
	EndDate            string          `json:"endDate"`
	PayDate            string          `json:"payDate"`
	StandardWorkedDays int             `json:"standardWorkedDays"`
	StandardHours      decimal.Decimal `json:"standardHours"`
}

var periodTypes = []string{
	string(payroll.PeriodTypeMonthly),
	string(payroll.PeriodTypeFortnightly),
	string(payroll.PeriodTypeWeekly),
	string(payroll.PeriodTypeDaily),
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var payload periodPayload
	if !h.decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("label", payload.Label, "is required")
	v.Enum("type", payload.Type, periodTypes, "must be one of "+strings.Join(periodTypes, ", "))
	start, _ := v.Date("startDate", payload.StartDate)
	end, _ := v.Date("endDate", payload.EndDate)
	v.DateOrder("startDate", start, "endDate", end)
	in := payroll.NewPeriod{
		Label:              payload.Label,
		Type:               payroll.PeriodType(strings.ToLower(strings.TrimSpace(payload.Type))),
		StartDate:          start,
		EndDate:            end,
		StandardWorkedDays: payload.StandardWorkedDays,
		StandardHours:      payload.StandardHours,
	}
	if strings.TrimSpace(payload.PayDate) != "" {
		if payDate, ok := v.Date("payDate", payload.PayDate); ok {
			in.PayDate = &payDate
		}
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	period, err := h.Payroll.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "payroll.period.create", zap.String("period_id", period.ID))
	api.Created(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.Payroll.GetPeriod(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetInputs(w http.ResponseWriter, r *http.Request) {
	var inputs payroll.VariableInputs
	if !h.decode(w, r, &inputs) {
		return
	}
	periodID := chi.URLParam(r, "periodID")
	employeeID := chi.URLParam(r, "employeeID")
	if err := h.Payroll.SetVariableInputs(r.Context(), periodID, employeeID, inputs); err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, inputs, middleware.GetRequestID(r.Context()))
}

type previewPayload struct {
	EmployeeID string                  `json:"employeeId"`
	Inputs     *payroll.VariableInputs `json:"inputs"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var payload previewPayload
	if !h.decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("employeeId", payload.EmployeeID, "is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	comp, err := h.Payroll.Preview(r.Context(), chi.URLParam(r, "periodID"), payload.EmployeeID, payload.Inputs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, comp, middleware.GetRequestID(r.Context()))
}

type generatePayload struct {
	EmployeeID    string `json:"employeeId"`
	ForceRecreate bool   `json:"forceRecreate"`
}

func (h *Handler) handleGeneratePayslip(w http.ResponseWriter, r *http.Request) {
	var payload generatePayload
	if !h.decode(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Required("employeeId", payload.EmployeeID, "is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	payslip, err := h.Payroll.GeneratePayslip(r.Context(), chi.URLParam(r, "periodID"), payload.EmployeeID, payload.ForceRecreate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Created(w, payslip, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListPayslips(w http.ResponseWriter, r *http.Request) {
	payslips, err := h.Payroll.ListPayslips(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page := shared.ParsePagination(r, 50, 500)
	total := len(payslips)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)
	api.Success(w, map[string]any{
		"items":  payslips[start:end],
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}, middleware.GetRequestID(r.Context()))
}

type calculatePayload struct {
	EmployeeIDs   []string `json:"employeeIds"`
	ForceRecreate bool     `json:"forceRecreate"`
}

// handleCalculatePeriod runs the batch inline, or through the job queue with ?async=true.
func (h *Handler) handleCalculatePeriod(w http.ResponseWriter, r *http.Request) {
	var payload calculatePayload
	if r.ContentLength != 0 {
		if !h.decode(w, r, &payload) {
			return
		}
	}
	periodID := chi.URLParam(r, "periodID")
	h.audit(r, "payroll.period.calculate",
		zap.String("period_id", periodID),
		zap.Int("employees", len(payload.EmployeeIDs)),
		zap.Bool("force_recreate", payload.ForceRecreate))

	run := func(ctx context.Context) (any, error) {
		return h.Payroll.CalculatePeriod(ctx, periodID, payload.EmployeeIDs, payload.ForceRecreate)
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async && h.Jobs != nil {
		if _, err := h.Payroll.GetPeriod(r.Context(), periodID); err != nil {
			h.fail(w, r, err)
			return
		}
		runID, err := h.Jobs.Enqueue(r.Context(), payroll.JobPeriodCalculation, run)
		if errors.Is(err, jobs.ErrQueueFull) {
			api.Fail(w, http.StatusServiceUnavailable, "queue_full", "calculation queue is full, retry later", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		api.Accepted(w, map[string]string{"runId": runID, "status": jobs.StatusRunning}, middleware.GetRequestID(r.Context()))
		return
	}

	var (
		result any
		err    error
	)
	if h.Jobs != nil {
		result, err = h.Jobs.RunNow(r.Context(), payroll.JobPeriodCalculation, run)
	} else {
		result, err = run(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleValidatePeriod(w http.ResponseWriter, r *http.Request) {
	h.movePeriod(w, r, "payroll.period.validate", h.Payroll.ValidatePeriod)
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	h.movePeriod(w, r, "payroll.period.close", h.Payroll.ClosePeriod)
}

func (h *Handler) movePeriod(w http.ResponseWriter, r *http.Request, action string, move func(context.Context, string) (payroll.PayPeriod, error)) {
	periodID := chi.URLParam(r, "periodID")
	period, err := move(r.Context(), periodID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, action, zap.String("period_id", periodID), zap.String("status", string(period.Status)))
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPayslip(w http.ResponseWriter, r *http.Request) {
	payslip, err := h.Payroll.GetPayslip(r.Context(), chi.URLParam(r, "payslipID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, payslip, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetJobRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Payroll.GetJobRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := api.Decode(r, dst); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload: "+err.Error(), middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) audit(r *http.Request, action string, fields ...zap.Field) {
	user, _ := middleware.GetUser(r.Context())
	h.Log.Info(action, append(fields,
		zap.String("user_id", user.UserID),
		zap.String("role", user.RoleName),
		zap.String("request_id", middleware.GetRequestID(r.Context())))...)
}

// fail maps domain errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())

	var verr *payroll.ValidationError
	if errors.As(err, &verr) {
		shared.FailValidation(w, reqID, []shared.ValidationIssue{{Field: verr.Field, Reason: verr.Reason}})
		return
	}
	var cerr *payroll.ComputationError
	if errors.As(err, &cerr) {
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "computation_error", cerr.Error(),
			map[string]string{"rubric": cerr.Rubric}, reqID)
		return
	}

	switch {
	case errors.Is(err, payroll.ErrPeriodNotFound),
		errors.Is(err, payroll.ErrEmployeeNotFound),
		errors.Is(err, payroll.ErrParametersNotFound),
		errors.Is(err, payroll.ErrRubricNotFound),
		errors.Is(err, payroll.ErrPayslipNotFound),
		errors.Is(err, payroll.ErrJobRunNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, payroll.ErrPayslipExists),
		errors.Is(err, payroll.ErrRubricExists),
		errors.Is(err, payroll.ErrCalculationRunning):
		api.Fail(w, http.StatusConflict, "conflict", err.Error(), reqID)
	case errors.Is(err, context.DeadlineExceeded):
		api.Fail(w, http.StatusGatewayTimeout, "timeout", "calculation timed out", reqID)
	default:
		h.Log.Error("payroll request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", reqID),
			zap.Error(err))
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
	}
}
