package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in DRAFT state.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, org_id, name, content, template_id, provider_id, status, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, c.Content, nullable(c.TemplateID), nullable(c.ProviderID), c.Status, c.ScheduledAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil when it does not exist.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	var templateID, providerID sql.NullString
	err := r.db.QueryRow(`
		SELECT id, org_id, name, content, template_id, provider_id, status, scheduled_at, sent_at, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Content, &templateID, &providerID, &c.Status, &c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.TemplateID = templateID.String
	c.ProviderID = providerID.String
	return c, nil
}

// List returns an organization's campaigns with optional filtering.
func (r *CampaignRepository) List(orgID string, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE org_id = ?"
	args := []any{orgID}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		countQuery += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, org_id, name, content, template_id, provider_id, status, scheduled_at, sent_at, created_at, updated_at
		FROM campaigns WHERE org_id = ?`
	args = []any{orgID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
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

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		var templateID, providerID sql.NullString
		err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &c.Content, &templateID, &providerID, &c.Status, &c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		c.TemplateID = templateID.String
		c.ProviderID = providerID.String
		campaigns = append(campaigns, c)
	}

	return campaigns, total, nil
}

// Update updates a campaign's mutable fields.
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, content = ?, template_id = ?, provider_id = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Content, nullable(c.TemplateID), nullable(c.ProviderID), c.ScheduledAt, c.UpdatedAt, c.ID,
	)
	return err
}

// Delete deletes a campaign and its associations.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// TransitionStatus performs an atomic check-and-set on the campaign status.
// It returns ErrConflict when the campaign was not in the expected state, so
// two racing transitions resolve to exactly one winner.
func (r *CampaignRepository) TransitionStatus(id string, from, to models.CampaignStatus) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now(), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition campaign: %w", err)
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

// SetScheduledAt stamps the schedule timestamp.
func (r *CampaignRepository) SetScheduledAt(id string, at time.Time) error {
	_, err := r.db.Exec("UPDATE campaigns SET scheduled_at = ?, updated_at = ? WHERE id = ?", at, time.Now(), id)
	return err
}

// MarkSent completes the SENDING -> SENT transition and stamps sent_at
// exactly once.
func (r *CampaignRepository) MarkSent(id string) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND sent_at IS NULL`,
		models.CampaignSent, time.Now(), time.Now(), id, models.CampaignSending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark campaign sent: %w", err)
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

// SetLists replaces the campaign's list associations.
func (r *CampaignRepository) SetLists(campaignID string, listIDs []string) error {
	return r.replaceAssociations("campaign_lists", "list_id", campaignID, listIDs)
}

// SetSegments replaces the campaign's segment associations.
func (r *CampaignRepository) SetSegments(campaignID string, segmentIDs []string) error {
	return r.replaceAssociations("campaign_segments", "segment_id", campaignID, segmentIDs)
}

// ListIDs returns the IDs of lists associated with the campaign.
func (r *CampaignRepository) ListIDs(campaignID string) ([]string, error) {
	return r.associationIDs("campaign_lists", "list_id", campaignID)
}

// SegmentIDs returns the IDs of segments associated with the campaign.
func (r *CampaignRepository) SegmentIDs(campaignID string) ([]string, error) {
	return r.associationIDs("campaign_segments", "segment_id", campaignID)
}

func (r *CampaignRepository) replaceAssociations(table, column, campaignID string, ids []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM "+table+" WHERE campaign_id = ?", campaignID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec("INSERT INTO "+table+" (campaign_id, "+column+") VALUES (?, ?)", campaignID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *CampaignRepository) associationIDs(table, column, campaignID string) ([]string, error) {
	rows, err := r.db.Query("SELECT "+column+" FROM "+table+" WHERE campaign_id = ?", campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
