// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen = 36
	MaxNameLen   = 72
)

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type UserID string

// User is the authenticated identity of this client, as reported by the
// practice portal's identity endpoint.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

func NewUser(id UserID, name string) (*User, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &User{ID: id, Name: name}, nil
}

func (u *User) SetName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	u.Name = name
	return nil
}
