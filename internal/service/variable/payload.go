package variable

import (
	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/service/audit"
)

// payload is the storage form of a variable value.
type payload struct {
	value     string
	encrypted bool
}

// storedPayload is the single place where the secret flag decides between
// ciphertext and plaintext storage.
func storedPayload(c Cipher, value string, isSecret bool) (payload, error) {
	if !isSecret {
		return payload{value: value}, nil
	}
	sealed, err := c.Encrypt(value)
	if err != nil {
		return payload{}, err
	}
	return payload{value: sealed, encrypted: true}, nil
}

// auditValue is the value written to audit history: the marker for secrets,
// the stored value otherwise.
func auditValue(stored string, redact bool) *string {
	if redact {
		return audit.Redacted()
	}
	return &stored
}

// metadata makes secrecy transitions inspectable without exposing values.
type metadata struct {
	EnvironmentID string `json:"environment_id"`
	Environment   string `json:"environment"`
	Key           string `json:"key"`
	OldIsSecret   *bool  `json:"old_is_secret,omitempty"`
	NewIsSecret   *bool  `json:"new_is_secret,omitempty"`
	Reclassified  bool   `json:"reclassified"`
}

func newMetadata(env *domain.Environment, key string, before, after *domain.Variable) metadata {
	m := metadata{EnvironmentID: env.ID, Environment: env.Name, Key: key}
	if before != nil {
		old := before.IsSecret
		m.OldIsSecret = &old
	}
	if after != nil {
		next := after.IsSecret
		m.NewIsSecret = &next
	}
	m.Reclassified = before != nil && after != nil && before.IsSecret != after.IsSecret
	return m
}
