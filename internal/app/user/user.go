/*
Package user defines the chat participant record shared by the server and the client.
*/
package user

import (
	"errors"
	"strings"
)

// Role tags known to the course platform.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User is a chat participant as listed by the user directory.
// It does not change for the duration of a session.
type User struct {
	// ID is the server-assigned unique identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Avatar is an optional image URL.
	Avatar string `json:"avatar,omitempty"`

	// Role is one of the Role* tags.
	Role string `json:"role"`
}

// ValidRole reports whether role is a known tag.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Validate checks the fields a client relies on when a User arrives from the network.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user: missing id")
	}
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("user: missing name")
	}
	if !ValidRole(u.Role) {
		return errors.New("user: unknown role " + u.Role)
	}
	return nil
}
