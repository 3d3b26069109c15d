package domain

import "time"

// Account is a user identity record. Username is the external identity key;
// it is unique, case-sensitive, and immutable once set.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public view of an account together with its follow lists.
type Profile struct {
	Username  string   `json:"username"`
	Followers []string `json:"followers"`
	Following []string `json:"following"`
}
