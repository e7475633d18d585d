package rbac

// Role names. Keep these stable; they are part of auth contracts.
const (
	RoleUser       = "user"
	RoleSupport    = "support"
	RoleAdmin      = "admin"
	RoleBillingBot = "billing_bot" // hidden role for internal reconciliation jobs
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleBillingBot }
