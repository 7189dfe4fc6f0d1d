package models

type APIKey struct {
	ID         string   `json:"id"`
	BrandID    string   `json:"brand_id"`
	Name       string   `json:"name"`
	KeyHash    string   `json:"-"`
	KeyPrefix  string   `json:"key_prefix"`
	Scopes     []string `json:"scopes"` // JSON array in DB
	LastUsedAt *int64   `json:"last_used_at,omitempty"`
	ExpiresAt  *int64   `json:"expires_at,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	RevokedAt  *int64   `json:"revoked_at,omitempty"`
}

// IsExpired reports whether the key's expiry, if set, has passed.
func (k *APIKey) IsExpired(now int64) bool {
	return k.ExpiresAt != nil && *k.ExpiresAt <= now
}
