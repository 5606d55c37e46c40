package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// CreateBatch persists send audit records as a single transaction.
func (r *HistoryRepository) CreateBatch(records []models.History) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO history (id, org_id, campaign_id, contact_id, address, body, provider_message_id, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range records {
		h := &records[i]
		h.ID = uuid.New().String()
		h.CreatedAt = now
		h.UpdatedAt = now
		if _, err := stmt.Exec(h.ID, h.OrgID, h.CampaignID, h.ContactID, h.Address, h.Body,
			nullable(h.ProviderMessageID), h.Status, nullable(h.Error), h.CreatedAt, h.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert history record: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID returns a history record by ID, or nil when missing.
func (r *HistoryRepository) GetByID(id string) (*models.History, error) {
	return r.get("WHERE id = ?", id)
}

// GetByProviderMessageID is the join point between outbound sends and
// inbound webhook statuses. Returns nil when the id is unknown.
func (r *HistoryRepository) GetByProviderMessageID(orgID, providerMessageID string) (*models.History, error) {
	return r.get("WHERE org_id = ? AND provider_message_id = ?", orgID, providerMessageID)
}

// LatestByAddress returns the most recent send to an address within the
// organization, or nil. Used to attribute inbound replies to a campaign.
func (r *HistoryRepository) LatestByAddress(orgID, address string) (*models.History, error) {
	return r.get("WHERE org_id = ? AND address = ? ORDER BY created_at DESC LIMIT 1", orgID, address)
}

func (r *HistoryRepository) get(where string, args ...any) (*models.History, error) {
	h := &models.History{}
	var providerID, errMsg sql.NullString
	err := r.db.QueryRow(`
		SELECT id, org_id, campaign_id, contact_id, address, body, provider_message_id, status, error, created_at, updated_at
		FROM history `+where, args...,
	).Scan(&h.ID, &h.OrgID, &h.CampaignID, &h.ContactID, &h.Address, &h.Body, &providerID, &h.Status, &errMsg, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.ProviderMessageID = providerID.String
	h.Error = errMsg.String
	return h, nil
}

// UpdateStatusByProviderMessageID applies a webhook status to the matching
// record. It returns the record as it was before the update, or nil when the
// provider message id is unknown; re-applying the same status is a no-op.
func (r *HistoryRepository) UpdateStatusByProviderMessageID(orgID, providerMessageID string, status models.HistoryStatus, errMsg string) (*models.History, error) {
	prev, err := r.GetByProviderMessageID(orgID, providerMessageID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	if prev.Status == status {
		return prev, nil
	}

	_, err = r.db.Exec(`
		UPDATE history SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullable(errMsg), time.Now(), prev.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update history status: %w", err)
	}
	return prev, nil
}

// ListByCampaign returns the campaign's send audit records, oldest first.
func (r *HistoryRepository) ListByCampaign(campaignID string) ([]models.History, error) {
	rows, err := r.db.Query(`
		SELECT id, org_id, campaign_id, contact_id, address, body, provider_message_id, status, error, created_at, updated_at
		FROM history WHERE campaign_id = ? ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.History
	for rows.Next() {
		var h models.History
		var providerID, errMsg sql.NullString
		if err := rows.Scan(&h.ID, &h.OrgID, &h.CampaignID, &h.ContactID, &h.Address, &h.Body, &providerID, &h.Status, &errMsg, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.ProviderMessageID = providerID.String
		h.Error = errMsg.String
		records = append(records, h)
	}
	return records, rows.Err()
}
