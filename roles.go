package auth

var roleLevels = map[UserRole]int{
	RoleGuest:  0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// IsValid checks if the role is one of the predefined roles
func (r UserRole) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// IsAtLeast reports whether r ranks at or above minRole. Unknown roles
// never satisfy and are never satisfied.
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	current, ok := roleLevels[r]
	if !ok {
		return false
	}
	required, ok := roleLevels[minRole]
	if !ok {
		return false
	}
	return current >= required
}

// ParseRole parses s into a UserRole.
func ParseRole(s string) (UserRole, bool) {
	role := UserRole(s)
	return role, role.IsValid()
}
