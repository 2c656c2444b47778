package domain

// Identity is the caller snapshot carried by a verified session token.
type Identity struct {
	ID    string
	Email string
	Role  Role
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
