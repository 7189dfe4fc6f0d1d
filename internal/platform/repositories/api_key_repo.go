package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"relayr/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	key.CreatedAt = time.Now().Unix()

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, brand_id, name, key_hash, key_prefix, scopes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, key.ID, key.BrandID, key.Name, key.KeyHash, key.KeyPrefix,
		string(scopesJSON), key.CreatedAt, key.ExpiresAt)
	return err
}

// GetByPrefix returns active key candidates sharing a prefix; callers verify
// the full secret against key_hash with bcrypt.
func (r *APIKeyRepository) GetByPrefix(prefix string) ([]*models.APIKey, error) {
	query := `
		SELECT id, brand_id, name, key_hash, key_prefix, scopes, created_at, expires_at, revoked_at
		FROM api_keys WHERE key_prefix = ? AND revoked_at IS NULL
	`
	rows, err := r.db.Query(query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var scopesStr string
		var expiresAt, revokedAt sql.NullInt64

		if err := rows.Scan(&k.ID, &k.BrandID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&scopesStr, &k.CreatedAt, &expiresAt, &revokedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Int64
		}
		if revokedAt.Valid {
			k.RevokedAt = &revokedAt.Int64
		}
		json.Unmarshal([]byte(scopesStr), &k.Scopes)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) ListByBrand(brandID string) ([]*models.APIKey, error) {
	query := `
		SELECT id, name, key_prefix, scopes, created_at, expires_at, revoked_at
		FROM api_keys WHERE brand_id = ? ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var scopesStr string
		var expiresAt, revokedAt sql.NullInt64

		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &scopesStr, &k.CreatedAt, &expiresAt, &revokedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Int64
		}
		if revokedAt.Valid {
			k.RevokedAt = &revokedAt.Int64
		}
		json.Unmarshal([]byte(scopesStr), &k.Scopes)
		k.BrandID = brandID
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Revoke(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET revoked_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

func (r *APIKeyRepository) UpdateLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
