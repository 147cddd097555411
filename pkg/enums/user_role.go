package enums

import "slices"

// UserRole gates access to back-office operations.
type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleAdmin    UserRole = "admin"
)

var validUserRoles = []UserRole{
	UserRoleCustomer,
	UserRoleAdmin,
}

func (u UserRole) String() string { return string(u) }

func (u UserRole) IsValid() bool {
	return slices.Contains(validUserRoles, u)
}

func ParseUserRole(value string) (UserRole, error) {
	return parse("user role", validUserRoles, value)
}
