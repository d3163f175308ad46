package domain

import (
	"errors"
	"strings"
	"time"
)

// DefaultRole is assigned to accounts that carry no explicit role claims.
const DefaultRole = "User"

// User is a stored account. PasswordHash is empty for federation-only
// accounts that have never set a local password.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{DefaultRole}
	}
	return nil
}

// NormalizeRoles turns a stored role value into a clean role set: entries are
// trimmed and empties discarded. Legacy rows that kept roles as a single
// comma-joined string are split here so callers always see a proper set.
func NormalizeRoles(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// HasRole reports whether roles contains role.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
