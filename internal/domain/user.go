package domain

import "time"

// User represents an account able to authenticate against the API.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Actor is the resolved caller identity attributed in audit history.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	return a.ID != "" && a.Username != ""
}
