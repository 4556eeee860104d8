package models

import "time"

// Credential is a stored API key record. The plaintext key is returned
// exactly once at creation and never persisted; only the hex SHA-256
// digest is stored. Revocation is soft: RevokedAt is set and the record
// stops matching lookups.
type Credential struct {
	ID         int64      `json:"id"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name"`
	ProjectID  string     `json:"projectId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Revoked reports whether the credential has been soft-revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}
