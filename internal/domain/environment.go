package domain

import "time"

// Environment is a named namespace owning a set of variables (dev/staging/prod).
type Environment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Variable stores a key/value pair scoped to one environment. Value holds
// ciphertext when Encrypted is set and plaintext otherwise.
type Variable struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Encrypted     bool      `json:"encrypted"`
	IsSecret      bool      `json:"is_secret"`
	Tags          string    `json:"tags"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
