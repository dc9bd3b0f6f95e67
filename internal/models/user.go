package models

import "time"

// User is the profile returned by the users endpoint.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	Organization string    `json:"organization"`
	DateJoined   time.Time `json:"date_joined"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the payload sent to the register endpoint. The password
// confirmation never leaves the form layer.
type Registration struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the login response. Token is empty when the server did not issue one.
type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}
