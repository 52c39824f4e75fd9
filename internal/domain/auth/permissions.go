package auth

const (
	RoleHR         = "hr"
	RoleAccountant = "accountant"
	RoleAuditor    = "auditor"
	RoleAdmin      = "admin"
)

const (
	PermPayrollRead     = "payroll.read"
	PermPayrollWrite    = "payroll.write"
	PermPayrollRun      = "payroll.run"
	PermPayrollFinalize = "payroll.finalize"
	PermPayrollSettings = "payroll.settings"
	PermJobsRead        = "jobs.read"
)

var DefaultPermissions = []string{
	PermPayrollRead,
	PermPayrollWrite,
	PermPayrollRun,
	PermPayrollFinalize,
	PermPayrollSettings,
	PermJobsRead,
}

var RolePermissions = map[string][]string{
	RoleAuditor: {
		PermPayrollRead,
		PermJobsRead,
	},
	RoleAccountant: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermJobsRead,
	},
	RoleHR: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollFinalize,
		PermJobsRead,
	},
	RoleAdmin: DefaultPermissions,
}

// StaticPermissions resolves permissions from RolePermissions.
type StaticPermissions struct {
	byRole map[string]map[string]struct{}
}

func NewStaticPermissions() *StaticPermissions {
	byRole := make(map[string]map[string]struct{}, len(RolePermissions))
	for role, perms := range RolePermissions {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		byRole[role] = set
	}
	return &StaticPermissions{byRole: byRole}
}

func (s *StaticPermissions) HasPermission(role, permission string) bool {
	_, ok := s.byRole[role][permission]
	return ok
}
