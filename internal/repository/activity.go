package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create appends a single activity to the ledger.
func (r *ActivityRepository) Create(a *models.Activity) error {
	a.ID = uuid.New().String()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(`
		INSERT INTO activities (id, campaign_id, contact_id, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CampaignID, a.ContactID, a.Type, metadataValue(a), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// CreateBatch appends activities as a single transaction, one statement per
// row inside it. The ledger is append-only; there is no update path.
func (r *ActivityRepository) CreateBatch(activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO activities (id, campaign_id, contact_id, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range activities {
		a := &activities[i]
		a.ID = uuid.New().String()
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if _, err := stmt.Exec(a.ID, a.CampaignID, a.ContactID, a.Type, metadataValue(a), a.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
	}

	return tx.Commit()
}

// CountsByCampaign aggregates the campaign's activities by type within the
// optional date window.
func (r *ActivityRepository) CountsByCampaign(campaignID string, from, to *time.Time) (models.ActivityCounts, error) {
	query := "SELECT type, COUNT(*) FROM activities WHERE campaign_id = ?"
	args := []any{campaignID}
	if from != nil {
		query += " AND created_at >= ?"
		args = append(args, *from)
	}
	if to != nil {
		query += " AND created_at < ?"
		args = append(args, *to)
	}
	query += " GROUP BY type"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := models.ActivityCounts{}
	for rows.Next() {
		var typ models.ActivityType
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// ListByCampaign returns the campaign's timeline, oldest first.
func (r *ActivityRepository) ListByCampaign(campaignID string) ([]models.Activity, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, contact_id, type, metadata, created_at
		FROM activities WHERE campaign_id = ? ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var a models.Activity
		var metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.ContactID, &a.Type, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			a.Metadata = []byte(metadata.String)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func metadataValue(a *models.Activity) any {
	if len(a.Metadata) == 0 {
		return nil
	}
	return string(a.Metadata)
}
