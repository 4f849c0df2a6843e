package generic

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type RequestID string

// =============================================================================
// ACTOR - The caller of a workflow or payroll operation
// =============================================================================

// Capability is an authorization right granted to an actor.
type Capability string

const (
	CapApproveLeave     Capability = "leave:approve"
	CapManageLeave      Capability = "leave:manage"
	CapManageAttendance Capability = "attendance:manage"
	CapManageSalary     Capability = "salary:manage"
	CapRunPayroll       Capability = "payroll:run"
)

// AllCapabilities is what an administrator holds.
var AllCapabilities = []Capability{
	CapApproveLeave,
	CapManageLeave,
	CapManageAttendance,
	CapManageSalary,
	CapRunPayroll,
}

// Actor is passed explicitly into every operation that needs a permission
// check; there is no ambient session.
type Actor struct {
	ID           EmployeeID
	Capabilities []Capability
}

func NewActor(id EmployeeID, caps ...Capability) Actor {
	return Actor{ID: id, Capabilities: caps}
}

// SystemActor is used by scheduled jobs and tests that bypass permission checks.
func SystemActor() Actor {
	return NewActor("system", AllCapabilities...)
}

func (a Actor) Can(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Is reports whether the actor is the given employee.
func (a Actor) Is(id EmployeeID) bool {
	return a.ID != "" && a.ID == id
}

// Require returns a NotAuthorizedError when the capability is missing.
func (a Actor) Require(c Capability, action string) error {
	if a.Can(c) {
		return nil
	}
	return &NotAuthorizedError{ActorID: a.ID, Needs: c, Action: action}
}

// RequireSelfOr passes when the actor is the employee or holds the capability.
func (a Actor) RequireSelfOr(id EmployeeID, c Capability, action string) error {
	if a.Is(id) || a.Can(c) {
		return nil
	}
	return &NotAuthorizedError{ActorID: a.ID, Needs: c, Action: action}
}
