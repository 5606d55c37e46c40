package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type ProviderRepository struct {
	db *sql.DB
}

func NewProviderRepository(db *sql.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Create persists a provider configuration. The org_id uniqueness constraint
// guarantees at most one configuration per organization; a second concurrent
// create surfaces as ErrConflict.
func (r *ProviderRepository) Create(p *models.ProviderConfig) error {
	p.ID = uuid.New().String()
	if p.VerificationStatus == "" {
		p.VerificationStatus = models.VerificationPending
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	creds, err := json.Marshal(p.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO provider_configs (id, org_id, type, credentials, verification_status, default_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.Type, string(creds), p.VerificationStatus, p.DefaultLanguage, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create provider config: %w", err)
	}
	return nil
}

// GetByID returns a provider configuration by ID, or nil when missing.
func (r *ProviderRepository) GetByID(id string) (*models.ProviderConfig, error) {
	return r.get("SELECT id, org_id, type, credentials, verification_status, default_language, created_at, updated_at FROM provider_configs WHERE id = ?", id)
}

// GetByOrg returns the organization's active configuration, or nil when the
// organization has none.
func (r *ProviderRepository) GetByOrg(orgID string) (*models.ProviderConfig, error) {
	return r.get("SELECT id, org_id, type, credentials, verification_status, default_language, created_at, updated_at FROM provider_configs WHERE org_id = ?", orgID)
}

func (r *ProviderRepository) get(query string, arg any) (*models.ProviderConfig, error) {
	p := &models.ProviderConfig{}
	var creds string
	var lang sql.NullString
	err := r.db.QueryRow(query, arg).Scan(&p.ID, &p.OrgID, &p.Type, &creds, &p.VerificationStatus, &lang, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(creds), &p.Credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	p.DefaultLanguage = lang.String
	return p, nil
}

// Update updates credentials and type of an existing configuration.
func (r *ProviderRepository) Update(p *models.ProviderConfig) error {
	p.UpdatedAt = time.Now()
	creds, err := json.Marshal(p.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	_, err = r.db.Exec(`
		UPDATE provider_configs SET type = ?, credentials = ?, default_language = ?, updated_at = ? WHERE id = ?`,
		p.Type, string(creds), p.DefaultLanguage, p.UpdatedAt, p.ID,
	)
	return err
}

// SetVerificationStatus records the outcome of a connectivity test.
func (r *ProviderRepository) SetVerificationStatus(id string, status models.VerificationStatus) error {
	_, err := r.db.Exec("UPDATE provider_configs SET verification_status = ?, updated_at = ? WHERE id = ?", status, time.Now(), id)
	return err
}

// Delete removes a provider configuration.
func (r *ProviderRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM provider_configs WHERE id = ?", id)
	return err
}
