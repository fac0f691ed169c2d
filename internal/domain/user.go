package domain

import "time"

// Role distinguishes end-users from support members and admins.
type Role string

const (
	RoleUser   Role = "user"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ValidRole reports whether the given role is known.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// User is the domain model for every account: end-users who submit tickets,
// members who work them and admins who audit everything.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
