package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create persists a template in PENDING state.
func (r *TemplateRepository) Create(t *models.Template) error {
	t.ID = uuid.New().String()
	if t.Status == "" {
		t.Status = models.TemplatePending
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	components, err := json.Marshal(t.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}
	variables, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO templates (id, org_id, name, category, language, components, variables, status, provider_template_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrgID, t.Name, t.Category, t.Language, string(components), string(variables),
		t.Status, nullable(t.ProviderTemplateID), nullable(t.CreatedBy), t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID, or nil when it does not exist.
func (r *TemplateRepository) GetByID(id string) (*models.Template, error) {
	return r.get("WHERE id = ?", id)
}

// GetByProviderTemplateID looks a template up by the provider-assigned
// identifier, used when routing webhook approval events.
func (r *TemplateRepository) GetByProviderTemplateID(providerTemplateID string) (*models.Template, error) {
	return r.get("WHERE provider_template_id = ?", providerTemplateID)
}

func (r *TemplateRepository) get(where string, arg any) (*models.Template, error) {
	t := &models.Template{}
	var components, variables string
	var providerID, reason, createdBy sql.NullString
	err := r.db.QueryRow(`
		SELECT id, org_id, name, category, language, components, variables, status, provider_template_id, rejection_reason, created_by, created_at, updated_at
		FROM templates `+where, arg,
	).Scan(&t.ID, &t.OrgID, &t.Name, &t.Category, &t.Language, &components, &variables, &t.Status, &providerID, &reason, &createdBy, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(components), &t.Components); err != nil {
		return nil, fmt.Errorf("failed to parse components: %w", err)
	}
	if variables != "" && variables != "null" {
		if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
			return nil, fmt.Errorf("failed to parse variables: %w", err)
		}
	}
	t.ProviderTemplateID = providerID.String
	t.RejectionReason = reason.String
	t.CreatedBy = createdBy.String
	return t, nil
}

// List returns an organization's templates with optional filtering.
func (r *TemplateRepository) List(orgID string, filter models.TemplateListFilter) ([]models.Template, int, error) {
	countQuery := "SELECT COUNT(*) FROM templates WHERE org_id = ?"
	args := []any{orgID}
	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, org_id, name, category, language, components, variables, status, provider_template_id, rejection_reason, created_by, created_at, updated_at
		FROM templates WHERE org_id = ?`
	args = []any{orgID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		var t models.Template
		var components, variables string
		var providerID, reason, createdBy sql.NullString
		err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.Category, &t.Language, &components, &variables, &t.Status, &providerID, &reason, &createdBy, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(components), &t.Components); err != nil {
			return nil, 0, fmt.Errorf("failed to parse components: %w", err)
		}
		if variables != "" && variables != "null" {
			_ = json.Unmarshal([]byte(variables), &t.Variables)
		}
		t.ProviderTemplateID = providerID.String
		t.RejectionReason = reason.String
		t.CreatedBy = createdBy.String
		templates = append(templates, t)
	}

	return templates, total, nil
}

// Update updates a template's editable fields. Only PENDING templates may
// still change shape.
func (r *TemplateRepository) Update(t *models.Template) error {
	t.UpdatedAt = time.Now()
	components, err := json.Marshal(t.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}
	variables, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	_, err = r.db.Exec(`
		UPDATE templates SET name = ?, category = ?, language = ?, components = ?, variables = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Category, t.Language, string(components), string(variables), t.UpdatedAt, t.ID,
	)
	return err
}

// TransitionStatus moves a template out of PENDING. APPROVED and REJECTED
// are terminal, enforced by the WHERE clause: a second transition returns
// ErrConflict.
func (r *TemplateRepository) TransitionStatus(id string, to models.TemplateStatus, reason string) error {
	res, err := r.db.Exec(`
		UPDATE templates SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, nullable(reason), time.Now(), id, models.TemplatePending,
	)
	if err != nil {
		return fmt.Errorf("failed to transition template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Delete removes a template.
func (r *TemplateRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM templates WHERE id = ?", id)
	return err
}
