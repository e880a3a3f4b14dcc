package domain

// Role names carried in access-token claims.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// DefaultRoles is assigned to every self-registered account.
func DefaultRoles() []string {
	return []string{RoleCustomer}
}
