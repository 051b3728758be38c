package models

// Role represents a user role carried in verified tokens.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSpeaker  Role = "speaker"
	RoleAudience Role = "audience"
)

// Identity is the verified user behind a bearer credential.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}
