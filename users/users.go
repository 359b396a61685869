package users

import (
	"fmt"
	"strings"
	"unicode"
)

// RoleType is the role the backend reports for a user within their organization
type RoleType string

const (
	RoleSuperAdmin RoleType = "super_admin" // Can manage all organizations
	RoleAdmin      RoleType = "admin"       // Can manage users and billing within an organization
	RoleMember     RoleType = "member"      // Regular user within an organization
	RoleViewer     RoleType = "viewer"      // Read-only access
)

// User is the profile returned by the "who am I" endpoint.
type User struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	DisplayName  string   `json:"display_name,omitempty"`
	FirstName    string   `json:"first_name,omitempty"`
	LastName     string   `json:"last_name,omitempty"`
	Role         RoleType `json:"role,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Verified     bool     `json:"verified,omitempty"`
}

// Name returns the best available human readable name
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Email
}

func (u *User) HasRole(role RoleType) bool {
	return u != nil && u.Role == role
}

// IsAdmin returns true for organization admins and super admins
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin) || u.HasRole(RoleSuperAdmin)
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

// ValidateEmail does the cheap shape check done before a request is sent.
// The backend remains the authority.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("email address is not valid")
	}
	return nil
}
